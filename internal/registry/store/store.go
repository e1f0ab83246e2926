// Package store is the pgx-backed relational store for the registry. One
// Store wraps a pgxpool.Pool; per-entity methods live in sibling files. All
// multi-row mutations run inside withTx so they commit or roll back as a
// unit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// Store provides durable storage for every registry entity.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// New creates a Store over an existing connection pool.
func New(pool *pgxpool.Pool, logger logging.Logger) *Store {
	return &Store{pool: pool, logger: logging.OrNop(logger)}
}

// Pool exposes the underlying pool for components that share the database,
// such as the lock service.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapErr translates driver-level errors into domain sentinels. Unique
// violations (23505) become ErrConflict; missing rows become ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
