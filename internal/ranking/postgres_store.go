package ranking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/reelrank/internal/tracing"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL. Every mutation runs in one
// transaction that first takes a transaction-scoped advisory lock on the
// owner, so concurrent shifts for the same owner serialize at the database
// even across API instances.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// List returns the owner's entries ordered by rank.
func (s *PostgresStore) List(ctx context.Context, ownerID string) (entries []Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranked_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, item_id, display_title, poster_ref, rank, created_at, updated_at
		FROM ranked_entries
		WHERE owner_id = $1
		ORDER BY rank ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked entries: %w", err)
	}
	defer rows.Close()

	entries = []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ranked entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries for the owner.
func (s *PostgresStore) Count(ctx context.Context, ownerID string) (n int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranked_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ranked_entries WHERE owner_id = $1`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ranked entries: %w", err)
	}
	return n, nil
}

// FindByItem returns the owner's entry for itemID.
func (s *PostgresStore) FindByItem(ctx context.Context, ownerID string, itemID int64) (e *Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranked_entries", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrEntryNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, item_id, display_title, poster_ref, rank, created_at, updated_at
		FROM ranked_entries
		WHERE owner_id = $1 AND item_id = $2
	`, ownerID, itemID)
	return scanEntry(row)
}

// InsertAtRank shifts ranks >= rank down by one and inserts the candidate.
func (s *PostgresStore) InsertAtRank(ctx context.Context, ownerID string, c Candidate, rank int) (e *Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranked_entries", tracing.DBOperationTx)
	defer func() { endSpan(err) }()

	tx, err := s.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer s.rollback(tx)

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ranked_entries WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to count ranked entries: %w", err)
	}
	if rank < 1 || rank > n+1 {
		return nil, ErrInvalidRank
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_entries
		SET rank = rank + 1, updated_at = NOW()
		WHERE owner_id = $1 AND rank >= $2
	`, ownerID, rank); err != nil {
		return nil, fmt.Errorf("failed to shift ranks: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO ranked_entries (owner_id, item_id, display_title, poster_ref, rank, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING owner_id, item_id, display_title, poster_ref, rank, created_at, updated_at
	`, ownerID, c.ItemID, c.DisplayTitle, c.PosterRef, rank)
	e, err = scanEntry(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "ranked_entries_pkey" {
			return nil, ErrDuplicateItem
		}
		return nil, fmt.Errorf("failed to insert ranked entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		// The deferred rank constraint is checked here.
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}

	s.logger.Debug("ranked entry inserted",
		slog.String("owner_id", ownerID),
		slog.Int64("item_id", c.ItemID),
		slog.Int("rank", rank))
	return e, nil
}

// RemoveAndCompact deletes the entry and moves the entries below it up.
func (s *PostgresStore) RemoveAndCompact(ctx context.Context, ownerID string, itemID int64) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranked_entries", tracing.DBOperationTx)
	defer func() { endSpan(err) }()

	tx, err := s.beginOwnerTx(ctx, ownerID)
	if err != nil {
		return err
	}
	defer s.rollback(tx)

	var removed int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM ranked_entries
		WHERE owner_id = $1 AND item_id = $2
		RETURNING rank
	`, ownerID, itemID).Scan(&removed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete ranked entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_entries
		SET rank = rank - 1, updated_at = NOW()
		WHERE owner_id = $1 AND rank > $2
	`, ownerID, removed); err != nil {
		return fmt.Errorf("failed to compact ranks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}

	s.logger.Debug("ranked entry removed",
		slog.String("owner_id", ownerID),
		slog.Int64("item_id", itemID),
		slog.Int("rank", removed))
	return nil
}

// beginOwnerTx opens a transaction holding the owner's advisory lock until
// commit or rollback.
func (s *PostgresStore) beginOwnerTx(ctx context.Context, ownerID string) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.logger.Error("failed to begin transaction",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		s.rollback(tx)
		return nil, fmt.Errorf("failed to lock owner: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Warn("failed to rollback transaction",
			slog.String("error", err.Error()))
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e      Entry
		poster sql.NullString
	)
	err := row.Scan(&e.OwnerID, &e.ItemID, &e.DisplayTitle, &poster, &e.Rank, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	if poster.Valid {
		p := poster.String
		e.PosterRef = &p
	}
	return &e, nil
}
