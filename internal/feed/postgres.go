package feed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/reelrank/internal/tracing"
)

// PostgresRepository implements Repository on the activities table.
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

// Record implements Repository.
func (r *PostgresRepository) Record(ctx context.Context, a *Activity) (err error) {
	if err := a.validate(); err != nil {
		return err
	}
	if a.Kind == "" {
		a.Kind = KindRanked
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "activities", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO activities (actor_id, kind, item_id, display_title, poster_ref, rank)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, a.ActorID, a.Kind, a.ItemID, a.DisplayTitle, a.PosterRef, a.Rank).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListForActors implements Repository.
func (r *PostgresRepository) ListForActors(ctx context.Context, actorIDs []string, limit int, cursor *Cursor) (page []Activity, next *Cursor, err error) {
	limit = ClampLimit(limit)

	actors := make([]string, 0, len(actorIDs))
	for _, id := range actorIDs {
		if _, err := uuid.Parse(id); err == nil {
			actors = append(actors, id)
		}
	}
	if len(actors) == 0 {
		return []Activity{}, nil, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "activities", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var after sql.NullTime
	var afterID sql.NullString
	if cursor != nil {
		after = sql.NullTime{Time: cursor.CreatedAt, Valid: true}
		afterID = sql.NullString{String: cursor.ID, Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor_id, kind, item_id, display_title, poster_ref, rank, created_at
		FROM activities
		WHERE actor_id = ANY($1::uuid[])
		  AND ($2::timestamptz IS NULL
		       OR created_at < $2
		       OR (created_at = $2 AND id > $3::uuid))
		ORDER BY created_at DESC, id ASC
		LIMIT $4
	`, pq.Array(actors), after, afterID, limit+1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	page = []Activity{}
	for rows.Next() {
		var a Activity
		var poster sql.NullString
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Kind, &a.ItemID, &a.DisplayTitle, &poster, &a.Rank, &a.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if poster.Valid {
			a.PosterRef = &poster.String
		}
		page = append(page, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	if len(page) <= limit {
		return page, nil, nil
	}
	page = page[:limit]
	last := page[len(page)-1]
	return page, &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}
