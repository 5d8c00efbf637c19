package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onnwee/reelrank/internal/tracing"
)

// PostgresRepository implements Repository on the users table.
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

const userColumns = `id, google_subject, email, display_name, avatar_key, created_at, updated_at`

// UpsertByGoogleSubject implements Repository.
func (r *PostgresRepository) UpsertByGoogleSubject(ctx context.Context, subject, email, displayName string) (u *User, err error) {
	if subject == "" {
		return nil, ErrInvalidSubject
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (google_subject, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (google_subject) DO UPDATE
		SET email = EXCLUDED.email, updated_at = NOW()
		RETURNING `+userColumns,
		subject, email, fallbackDisplayName(displayName, email))
	u, err = scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return u, nil
}

// GetByID implements Repository.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (u *User, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, ErrUserNotFound
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrUserNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, id string, changes Changes) (u *User, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, ErrUserNotFound
	}
	if err := validateChanges(id, &changes); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() {
		if errors.Is(err, ErrUserNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	// $3 carries the new avatar key and $4 whether to touch the column at all,
	// so an empty key clears it.
	var avatar sql.NullString
	if changes.AvatarKey != nil && *changes.AvatarKey != "" {
		avatar = sql.NullString{String: *changes.AvatarKey, Valid: true}
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET display_name = COALESCE($2, display_name),
		    avatar_key   = CASE WHEN $4 THEN $3 ELSE avatar_key END,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		id, changes.DisplayName, avatar, changes.AvatarKey != nil)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var avatar sql.NullString
	err := row.Scan(&u.ID, &u.GoogleSubject, &u.Email, &u.DisplayName, &avatar, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if avatar.Valid {
		u.AvatarKey = &avatar.String
	}
	return &u, nil
}
