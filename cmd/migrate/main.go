// Package main applies the embedded database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/onnwee/reelrank/internal/db"
	"github.com/onnwee/reelrank/internal/middleware"
	"github.com/onnwee/reelrank/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := middleware.NewLogger(os.Getenv("REELRANK_ENV"))
	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL (defaults to DATABASE_URL)")
	list := fs.Bool("list", false, "print the embedded migration versions and exit")
	help := fs.Bool("help", false, "display help message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *help {
		fmt.Fprintln(out, "ReelRank Migrator")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Usage: migrate [options]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Options:")
		fs.PrintDefaults()
		return nil
	}

	if *list {
		versions, err := migrations.Versions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintln(out, v)
		}
		return nil
	}

	database, err := db.Open(ctx, *databaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := migrations.Apply(ctx, database, logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info("schema is up to date")
		return nil
	}
	logger.Info("migrations complete", "applied", len(applied))
	return nil
}
