package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpen_MissingURL(t *testing.T) {
	if _, err := Open(context.Background(), "", PoolConfig{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("Open() error = %v, want ErrMissingURL", err)
	}
}

func TestOpen_UnreachableDatabase(t *testing.T) {
	// Port 1 is never a PostgreSQL server.
	_, err := Open(context.Background(), "postgres://u:p@127.0.0.1:1/db?sslmode=disable",
		PoolConfig{PingTimeout: 500 * time.Millisecond})
	if err == nil {
		t.Fatal("Open() succeeded against an unreachable server")
	}
}

func TestPoolConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{
			name: "zero uses defaults",
			in:   PoolConfig{},
			want: DefaultPoolConfig(),
		},
		{
			name: "idle capped at open",
			in:   PoolConfig{MaxOpenConns: 3, MaxIdleConns: 10},
			want: PoolConfig{MaxOpenConns: 3, MaxIdleConns: 3, ConnMaxLifetime: 30 * time.Minute, PingTimeout: 5 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
