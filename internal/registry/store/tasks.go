package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const taskColumns = `pk, task_id, environment_id, namespace, name, params, version, created_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.PK, &t.TaskID, &t.EnvironmentID, &t.Namespace, &t.Name,
		&t.Params, &t.Version, &t.CreatedAt)
	return t, err
}

// RegisterTask upserts the task row, appends a TASK_PENDING event for the
// build, and records dependency edges, all in one transaction.
//
// The unique (environment_id, task_id) constraint serializes concurrent
// registrations: the upsert is a no-op for the loser, which then reads the
// winner's row. upstreamTaskIDs reference tasks registered earlier in the
// same environment; unknown upstreams are skipped rather than failing the
// registration.
func (s *Store) RegisterTask(ctx context.Context, task domain.Task, buildID, eventID string, upstreamTaskIDs []string) (domain.Task, error) {
	var registered domain.Task
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		registered, err = scanTask(tx.QueryRow(ctx, `
INSERT INTO tasks (task_id, environment_id, namespace, name, params, version)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (environment_id, task_id) DO UPDATE SET task_id = EXCLUDED.task_id
RETURNING `+taskColumns,
			task.TaskID, task.EnvironmentID, task.Namespace, task.Name, task.Params, task.Version))
		if err != nil {
			return fmt.Errorf("upsert task: %w", mapErr(err))
		}
		_, err = tx.Exec(ctx, `
INSERT INTO events (id, build_id, task_pk, event_type)
VALUES ($1, $2, $3, $4)`, eventID, buildID, registered.PK, domain.EventTaskPending)
		if err != nil {
			return fmt.Errorf("append pending event: %w", mapErr(err))
		}
		if len(upstreamTaskIDs) > 0 {
			_, err = tx.Exec(ctx, `
INSERT INTO task_dependencies (upstream_pk, downstream_pk)
SELECT t.pk, $1 FROM tasks t
WHERE t.environment_id = $2 AND t.task_id = ANY($3)
ON CONFLICT DO NOTHING`, registered.PK, task.EnvironmentID, upstreamTaskIDs)
			if err != nil {
				return fmt.Errorf("insert dependency edges: %w", mapErr(err))
			}
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return registered, nil
}

// GetTaskByTaskID fetches a task by its content hash within an environment.
func (s *Store) GetTaskByTaskID(ctx context.Context, environmentID, taskID string) (domain.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE environment_id = $1 AND task_id = $2`,
		environmentID, taskID))
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task: %w", mapErr(err))
	}
	return t, nil
}

// ListTasks returns tasks in an environment, newest first.
func (s *Store) ListTasks(ctx context.Context, environmentID string, limit, offset int) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE environment_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, environmentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", mapErr(err))
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByPKs fetches tasks by primary key.
func (s *Store) ListTasksByPKs(ctx context.Context, pks []int64) ([]domain.Task, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE pk = ANY($1)`, pks)
	if err != nil {
		return nil, fmt.Errorf("list tasks by pk: %w", mapErr(err))
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListDependenciesAmong returns the dependency edges whose endpoints are both
// in the given set. Used for build graph reconstruction.
func (s *Store) ListDependenciesAmong(ctx context.Context, pks []int64) ([]domain.TaskDependency, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT upstream_pk, downstream_pk FROM task_dependencies
WHERE upstream_pk = ANY($1) AND downstream_pk = ANY($1)`, pks)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.TaskDependency
	for rows.Next() {
		var dep domain.TaskDependency
		if err := rows.Scan(&dep.UpstreamPK, &dep.DownstreamPK); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// ListDependenciesOf returns the upstream and downstream edges touching one
// task.
func (s *Store) ListDependenciesOf(ctx context.Context, taskPK int64) ([]domain.TaskDependency, error) {
	rows, err := s.pool.Query(ctx, `
SELECT upstream_pk, downstream_pk FROM task_dependencies
WHERE upstream_pk = $1 OR downstream_pk = $1`, taskPK)
	if err != nil {
		return nil, fmt.Errorf("list dependencies of task: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.TaskDependency
	for rows.Next() {
		var dep domain.TaskDependency
		if err := rows.Scan(&dep.UpstreamPK, &dep.DownstreamPK); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// InsertAssets attaches artifacts to a task.
func (s *Store) InsertAssets(ctx context.Context, assets []domain.TaskRegistryAsset) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, a := range assets {
			_, err := tx.Exec(ctx, `
INSERT INTO task_registry_assets (id, task_pk, asset_type, name, body)
VALUES ($1, $2, $3, $4, $5)`, a.ID, a.TaskPK, a.AssetType, a.Name, a.Body)
			if err != nil {
				return fmt.Errorf("insert asset: %w", mapErr(err))
			}
		}
		return nil
	})
}

// ListAssets returns the assets of a task, oldest first.
func (s *Store) ListAssets(ctx context.Context, taskPK int64) ([]domain.TaskRegistryAsset, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, task_pk, asset_type, name, body, created_at
FROM task_registry_assets
WHERE task_pk = $1
ORDER BY created_at`, taskPK)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.TaskRegistryAsset
	for rows.Next() {
		var a domain.TaskRegistryAsset
		if err := rows.Scan(&a.ID, &a.TaskPK, &a.AssetType, &a.Name, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TopCoreValues returns the most frequent values of a core task column in an
// environment. The column name is checked against a whitelist before it is
// interpolated.
func (s *Store) TopCoreValues(ctx context.Context, environmentID, column string, limit int) ([]string, error) {
	switch column {
	case "name", "namespace", "task_id", "version":
	default:
		return nil, fmt.Errorf("%w: column %q has no value suggestions", domain.ErrValidation, column)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT %s::text FROM tasks
WHERE environment_id = $1 AND %s IS NOT NULL
GROUP BY %s
ORDER BY COUNT(*) DESC
LIMIT $2`, column, column, column), environmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("top core values: %w", mapErr(err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SampleRecentTaskParams returns the parameter blobs of the N most recent
// tasks in an environment, for search-key discovery.
func (s *Store) SampleRecentTaskParams(ctx context.Context, environmentID string, n int) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT params FROM tasks
WHERE environment_id = $1
ORDER BY created_at DESC
LIMIT $2`, environmentID, n)
	if err != nil {
		return nil, fmt.Errorf("sample task params: %w", mapErr(err))
	}
	defer rows.Close()
	var out []json.RawMessage
	for rows.Next() {
		var blob json.RawMessage
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan params: %w", err)
		}
		out = append(out, blob)
	}
	return out, rows.Err()
}
