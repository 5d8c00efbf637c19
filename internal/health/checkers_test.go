package health

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/reelrank/internal/testdb"
)

func TestDatabase(t *testing.T) {
	db := testdb.Postgres(t)
	check := Database(db)

	if err := check.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	_ = db.Close()
	if err := check.HealthCheck(context.Background()); err == nil {
		t.Error("expected error after the database was closed")
	}
}

func TestRedis(t *testing.T) {
	tests := []struct {
		name    string
		opts    *redis.Options
		local   bool
		wantErr bool
	}{
		{name: "local server", opts: &redis.Options{Addr: "localhost:6379"}, local: true},
		{name: "unreachable", opts: &redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := redis.NewClient(tt.opts)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if tt.local && client.Ping(ctx).Err() != nil {
				t.Skip("Redis not available, skipping test")
			}

			err := Redis(client).HealthCheck(ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
