// Package testdb starts a disposable PostgreSQL for integration tests and
// applies the embedded migrations to it.
package testdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/reelrank/migrations"
)

const image = "postgres:16-alpine"

// Postgres returns a migrated database backed by a fresh container.
// The test is skipped in -short mode or when Docker is unavailable.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, image,
		tcpostgres.WithDatabase("reelrank"),
		tcpostgres.WithUsername("reelrank"),
		tcpostgres.WithPassword("reelrank"),
		tcpostgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to build connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := migrations.Apply(ctx, db, nil); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

// CreateUser inserts a bare user row and returns its id.
func CreateUser(t *testing.T, db *sql.DB, subject string) string {
	t.Helper()

	var id string
	err := db.QueryRowContext(context.Background(), `
		INSERT INTO users (google_subject, email, display_name)
		VALUES ($1, $1 || '@example.com', $1)
		RETURNING id
	`, subject).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", subject, err)
	}
	return id
}
