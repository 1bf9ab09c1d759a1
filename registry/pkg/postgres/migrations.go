package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/voter-stake-registry/registry"
)

const migrationsDir = "db/postgres/migrations"

// gooseMu guards the goose package globals.
var gooseMu sync.Mutex

// slogGooseLogger adapts slog.Logger to the goose.Logger interface.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Up runs all pending migrations against connStr.
func Up(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("postgres: running migrations (up)")
	return withGoose(log, connStr, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres: migrations completed")
		return nil
	})
}

// Reset rolls back every migration.
func Reset(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("postgres: resetting migrations")
	return withGoose(log, connStr, func(db *sql.DB) error {
		if err := goose.ResetContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to reset migrations: %w", err)
		}
		return nil
	})
}

// Version returns the current schema version.
func Version(ctx context.Context, log *slog.Logger, connStr string) (int64, error) {
	var version int64
	err := withGoose(log, connStr, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func withGoose(log *slog.Logger, connStr string, fn func(*sql.DB) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(registry.PostgresMigrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
