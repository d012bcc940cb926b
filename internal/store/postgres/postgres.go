// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"scribeq/internal/logger"
	"scribeq/internal/store"

	_ "github.com/lib/pq"
)

// Store provides PostgreSQL-backed implementations of the job store
// and the durable queue.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying connection pool (migrations, metrics).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

// audit logs a store mutation with the request and job IDs carried in
// the context, so HTTP and worker writes share one correlation trail.
func (s *Store) audit(ctx context.Context, op string, args ...any) {
	if s.logger == nil {
		return
	}
	logger.FromContext(ctx, s.logger).Info(op, args...)
}
