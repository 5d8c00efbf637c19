package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/reelrank/internal/tracing"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

// PostgresRepository implements Repository on the follows table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// Follow implements Repository.
func (r *PostgresRepository) Follow(ctx context.Context, followerID, followeeID string) (f *Follow, err error) {
	if followerID == followeeID {
		return nil, ErrSelfFollow
	}
	if !validIDs(followerID, followeeID) {
		return nil, ErrUnknownUser
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	f = &Follow{FollowerID: followerID, FolloweeID: followeeID}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO follows (follower_id, followee_id)
		VALUES ($1, $2)
		RETURNING created_at
	`, followerID, followeeID).Scan(&f.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return nil, ErrAlreadyFollowing
		case foreignKeyViolation:
			return nil, ErrUnknownUser
		case checkViolation:
			return nil, ErrSelfFollow
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert follow: %w", err)
	}
	return f, nil
}

// Unfollow implements Repository.
func (r *PostgresRepository) Unfollow(ctx context.Context, followerID, followeeID string) (err error) {
	if !validIDs(followerID, followeeID) {
		return ErrNotFollowing
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFollowing
	}
	return nil
}

// ListFollowing implements Repository.
func (r *PostgresRepository) ListFollowing(ctx context.Context, userID string) ([]Follow, error) {
	return r.list(ctx, `
		SELECT follower_id, followee_id, created_at
		FROM follows
		WHERE follower_id = $1
		ORDER BY created_at DESC, followee_id ASC
	`, userID)
}

// ListFollowers implements Repository.
func (r *PostgresRepository) ListFollowers(ctx context.Context, userID string) ([]Follow, error) {
	return r.list(ctx, `
		SELECT follower_id, followee_id, created_at
		FROM follows
		WHERE followee_id = $1
		ORDER BY created_at DESC, follower_id ASC
	`, userID)
}

// IsFollowing implements Repository.
func (r *PostgresRepository) IsFollowing(ctx context.Context, followerID, followeeID string) (ok bool, err error) {
	if !validIDs(followerID, followeeID) {
		return false, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)
	`, followerID, followeeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check follow: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) list(ctx context.Context, query, userID string) (follows []Follow, err error) {
	if !validIDs(userID) {
		return []Follow{}, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	defer rows.Close()

	follows = []Follow{}
	for rows.Next() {
		var f Follow
		if err := rows.Scan(&f.FollowerID, &f.FolloweeID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		follows = append(follows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follows: %w", err)
	}
	return follows, nil
}
