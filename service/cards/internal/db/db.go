package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Open crea la connessione Postgres e la valida con un ping.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		slog.Error("DB_DSN mancante")
		return nil, errors.New("DB_DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Fallisce subito se il database non è raggiungibile.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		slog.Error("ping database fallito", "error", err)
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate crea le tabelle mancanti. Idempotente.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		slog.Error("migrazione schema fallita", "error", err)
		return err
	}
	return nil
}
