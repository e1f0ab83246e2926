// Package lock implements lease-based mutual exclusion on string lock names
// within an environment, backed by the registry database. One row per lock;
// absence of the row means "not held". The service never blocks or retries;
// callers poll with backoff.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// Outcome is the result of an acquire attempt.
type Outcome string

const (
	OutcomeAcquired         Outcome = "acquired"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeConcurrencyLimit Outcome = "concurrency_limit_reached"
	OutcomeHeldByOther      Outcome = "held_by_other"
)

// AcquireResult carries the outcome and, when acquired, the lease row.
type AcquireResult struct {
	Outcome Outcome
	Lock    *domain.DistributedLock
}

// db is the slice of the connection pool the service uses. Tests substitute
// scripted rows for the outcome-mapping paths.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements the lock state machine over the registry database.
type Service struct {
	db     db
	logger logging.Logger
	now    func() time.Time
}

// New creates a lock service sharing the registry's connection pool.
func New(pool *pgxpool.Pool, logger logging.Logger) *Service {
	return &Service{db: pool, logger: logging.OrNop(logger), now: time.Now}
}

// AcquireRequest names the lock and the caller.
type AcquireRequest struct {
	Name                string
	OwnerID             string
	EnvironmentID       string
	TTL                 time.Duration
	CheckTaskCompletion bool
}

// Acquire attempts to take or extend the lease. Outcomes, in evaluation
// order: ALREADY_COMPLETED (completion pre-check), CONCURRENCY_LIMIT_REACHED
// (cap saturated by locks the caller does not own), then the atomic upsert
// decides ACQUIRED vs HELD_BY_OTHER. Re-entrant acquires by the same owner
// extend the TTL and bump the version.
func (s *Service) Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error) {
	if req.Name == "" || req.OwnerID == "" || req.EnvironmentID == "" {
		return AcquireResult{}, fmt.Errorf("%w: name, owner_id, and environment_id are required", domain.ErrValidation)
	}
	if req.TTL <= 0 {
		return AcquireResult{}, fmt.Errorf("%w: ttl must be positive", domain.ErrValidation)
	}
	now := s.now()

	if req.CheckTaskCompletion {
		done, err := s.taskCompleted(ctx, req.EnvironmentID, req.Name)
		if err != nil {
			return AcquireResult{}, err
		}
		if done {
			return AcquireResult{Outcome: OutcomeAlreadyCompleted}, nil
		}
	}

	maxLocks, err := s.environmentCap(ctx, req.EnvironmentID)
	if err != nil {
		return AcquireResult{}, err
	}
	if maxLocks != nil {
		limited, err := s.capSaturated(ctx, req, *maxLocks, now)
		if err != nil {
			return AcquireResult{}, err
		}
		if limited {
			return AcquireResult{Outcome: OutcomeConcurrencyLimit}, nil
		}
	}

	// Single-statement upsert so two concurrent acquires cannot both win.
	// The conditional update only fires when the existing lease has expired
	// or already belongs to this owner.
	var row domain.DistributedLock
	err = s.db.QueryRow(ctx, `
INSERT INTO distributed_locks (name, environment_id, owner_id, acquired_at, expires_at, version)
VALUES ($1, $2, $3, $4, $5, 1)
ON CONFLICT (name) DO UPDATE SET
	environment_id = EXCLUDED.environment_id,
	owner_id       = EXCLUDED.owner_id,
	acquired_at    = CASE WHEN distributed_locks.owner_id = EXCLUDED.owner_id
	                      THEN distributed_locks.acquired_at ELSE EXCLUDED.acquired_at END,
	expires_at     = EXCLUDED.expires_at,
	version        = distributed_locks.version + 1
WHERE distributed_locks.expires_at <= $4 OR distributed_locks.owner_id = $3
RETURNING name, environment_id, owner_id, acquired_at, expires_at, version`,
		req.Name, req.EnvironmentID, req.OwnerID, now, now.Add(req.TTL),
	).Scan(&row.Name, &row.EnvironmentID, &row.OwnerID, &row.AcquiredAt, &row.ExpiresAt, &row.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conditional update did not fire: a live lease belongs to
			// someone else.
			return AcquireResult{Outcome: OutcomeHeldByOther}, nil
		}
		return AcquireResult{}, fmt.Errorf("acquire lock %q: %w", req.Name, err)
	}
	return AcquireResult{Outcome: OutcomeAcquired, Lock: &row}, nil
}

// taskCompleted reports whether the lock name matches a task in the
// environment that has at least one TASK_COMPLETED event in any build.
func (s *Service) taskCompleted(ctx context.Context, environmentID, name string) (bool, error) {
	var done bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM events e
	JOIN tasks t ON t.pk = e.task_pk
	WHERE t.environment_id = $1 AND t.task_id = $2 AND e.event_type = $3
)`, environmentID, name, domain.EventTaskCompleted).Scan(&done)
	if err != nil {
		return false, fmt.Errorf("check task completion: %w", err)
	}
	return done, nil
}

func (s *Service) environmentCap(ctx context.Context, environmentID string) (*int, error) {
	var cap *int
	err := s.db.QueryRow(ctx,
		`SELECT max_concurrent_locks FROM environments WHERE id = $1`, environmentID).Scan(&cap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("environment %s: %w", environmentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load environment cap: %w", err)
	}
	return cap, nil
}

// capSaturated counts live leases in the environment that the caller does
// not own. Re-entrant reacquires never count against the cap.
func (s *Service) capSaturated(ctx context.Context, req AcquireRequest, cap int, now time.Time) (bool, error) {
	var count int
	var ownsThis bool
	err := s.db.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE owner_id <> $2),
	COALESCE(bool_or(name = $3 AND owner_id = $2), false)
FROM distributed_locks
WHERE environment_id = $1 AND expires_at > $4`,
		req.EnvironmentID, req.OwnerID, req.Name, now).Scan(&count, &ownsThis)
	if err != nil {
		return false, fmt.Errorf("count active locks: %w", err)
	}
	return count >= cap && !ownsThis, nil
}

// Renew extends the lease, but only when the row exists and belongs to the
// caller.
func (s *Service) Renew(ctx context.Context, name, ownerID string, ttl time.Duration) (domain.DistributedLock, error) {
	if ttl <= 0 {
		return domain.DistributedLock{}, fmt.Errorf("%w: ttl must be positive", domain.ErrValidation)
	}
	now := s.now()
	var row domain.DistributedLock
	err := s.db.QueryRow(ctx, `
UPDATE distributed_locks
SET expires_at = $3, version = version + 1
WHERE name = $1 AND owner_id = $2
RETURNING name, environment_id, owner_id, acquired_at, expires_at, version`,
		name, ownerID, now.Add(ttl),
	).Scan(&row.Name, &row.EnvironmentID, &row.OwnerID, &row.AcquiredAt, &row.ExpiresAt, &row.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DistributedLock{}, fmt.Errorf("renew %q: %w", name, domain.ErrLockNotOwner)
		}
		return domain.DistributedLock{}, fmt.Errorf("renew lock %q: %w", name, err)
	}
	return row, nil
}

// Release deletes the lease, but only when the caller owns it.
func (s *Service) Release(ctx context.Context, name, ownerID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM distributed_locks WHERE name = $1 AND owner_id = $2`, name, ownerID)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release %q: %w", name, domain.ErrLockNotOwner)
	}
	return nil
}

// ReleaseWithCompletion appends a TASK_COMPLETED event for the task whose
// task_id equals the lock name and deletes the lease, in one transaction.
// This closes the window in which another process could observe "released
// but not complete".
func (s *Service) ReleaseWithCompletion(ctx context.Context, name, ownerID, environmentID, buildID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var taskPK *int64
	err = tx.QueryRow(ctx,
		`SELECT pk FROM tasks WHERE environment_id = $1 AND task_id = $2`,
		environmentID, name).Scan(&taskPK)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("look up task for lock %q: %w", name, err)
	}
	if taskPK != nil {
		_, err = tx.Exec(ctx, `
INSERT INTO events (id, build_id, task_pk, event_type)
VALUES ($1, $2, $3, $4)`, uuid.NewString(), buildID, *taskPK, domain.EventTaskCompleted)
		if err != nil {
			return fmt.Errorf("append completion event: %w", err)
		}
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM distributed_locks WHERE name = $1 AND owner_id = $2`, name, ownerID)
	if err != nil {
		return fmt.Errorf("delete lock %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release %q: %w", name, domain.ErrLockNotOwner)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

// Get fetches a lock row by name.
func (s *Service) Get(ctx context.Context, name string) (domain.DistributedLock, error) {
	var row domain.DistributedLock
	err := s.db.QueryRow(ctx, `
SELECT name, environment_id, owner_id, acquired_at, expires_at, version
FROM distributed_locks WHERE name = $1`, name,
	).Scan(&row.Name, &row.EnvironmentID, &row.OwnerID, &row.AcquiredAt, &row.ExpiresAt, &row.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DistributedLock{}, fmt.Errorf("lock %q: %w", name, domain.ErrNotFound)
		}
		return domain.DistributedLock{}, fmt.Errorf("get lock %q: %w", name, err)
	}
	return row, nil
}

// List returns locks in an environment, optionally including expired rows.
func (s *Service) List(ctx context.Context, environmentID string, includeExpired bool) ([]domain.DistributedLock, error) {
	query := `
SELECT name, environment_id, owner_id, acquired_at, expires_at, version
FROM distributed_locks WHERE environment_id = $1`
	args := []any{environmentID}
	if !includeExpired {
		query += ` AND expires_at > $2`
		args = append(args, s.now())
	}
	query += ` ORDER BY acquired_at`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()
	var out []domain.DistributedLock
	for rows.Next() {
		var l domain.DistributedLock
		if err := rows.Scan(&l.Name, &l.EnvironmentID, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt, &l.Version); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// IsTaskCompleted answers the SDK's completion-status query.
func (s *Service) IsTaskCompleted(ctx context.Context, environmentID, taskID string) (bool, error) {
	return s.taskCompleted(ctx, environmentID, taskID)
}

// SweepExpired garbage-collects leases that expired before the grace cutoff.
// Correctness never depends on this; a later acquire silently takes over an
// expired row.
func (s *Service) SweepExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := s.now().Add(-grace)
	tag, err := s.db.Exec(ctx, `DELETE FROM distributed_locks WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("swept %d expired locks", n)
		return n, nil
	}
	return 0, nil
}
