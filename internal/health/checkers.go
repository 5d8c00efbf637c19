package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Database checks that the pool can hand out a live connection.
func Database(db *sql.DB) Checker {
	return CheckerFunc(db.PingContext)
}

// Redis checks that the server answers PING with PONG.
func Redis(client redis.UniversalClient) Checker {
	return CheckerFunc(func(ctx context.Context) error {
		reply, err := client.Ping(ctx).Result()
		if err != nil {
			return err
		}
		if reply != "PONG" {
			return fmt.Errorf("unexpected PING reply %q", reply)
		}
		return nil
	})
}
