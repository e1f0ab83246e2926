package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const buildColumns = `id, environment_id, user_id, name, description, commit_hash, root_task_ids, created_at`

func scanBuild(row pgx.Row) (domain.Build, error) {
	var b domain.Build
	err := row.Scan(&b.ID, &b.EnvironmentID, &b.UserID, &b.Name, &b.Description,
		&b.CommitHash, &b.RootTaskIDs, &b.CreatedAt)
	return b, err
}

// InsertBuild stores a new build record.
func (s *Store) InsertBuild(ctx context.Context, b domain.Build) (domain.Build, error) {
	created, err := scanBuild(s.pool.QueryRow(ctx, `
INSERT INTO builds (id, environment_id, user_id, name, description, commit_hash, root_task_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+buildColumns,
		b.ID, b.EnvironmentID, b.UserID, b.Name, b.Description, b.CommitHash, b.RootTaskIDs))
	if err != nil {
		return domain.Build{}, fmt.Errorf("insert build: %w", mapErr(err))
	}
	return created, nil
}

// GetBuild fetches a build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (domain.Build, error) {
	b, err := scanBuild(s.pool.QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, id))
	if err != nil {
		return domain.Build{}, fmt.Errorf("get build: %w", mapErr(err))
	}
	return b, nil
}

// ListBuilds returns builds in an environment, newest first.
func (s *Store) ListBuilds(ctx context.Context, environmentID string, limit, offset int) ([]domain.Build, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+buildColumns+` FROM builds
WHERE environment_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, environmentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AppendEvent appends one lifecycle event. CreatedAt comes from the database
// clock so ordering within (build, task) is consistent across writers.
func (s *Store) AppendEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	var created domain.Event
	err := s.pool.QueryRow(ctx, `
INSERT INTO events (id, build_id, task_pk, event_type, error_message, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, build_id, task_pk, event_type, created_at, error_message, metadata`,
		ev.ID, ev.BuildID, ev.TaskPK, ev.Type, ev.ErrorMessage, ev.Metadata,
	).Scan(&created.ID, &created.BuildID, &created.TaskPK, &created.Type,
		&created.CreatedAt, &created.ErrorMessage, &created.Metadata)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", mapErr(err))
	}
	return created, nil
}

// ListBuildEvents returns a build's events oldest first, with the task_id of
// task-scoped events resolved for the wire surface.
func (s *Store) ListBuildEvents(ctx context.Context, buildID string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT e.id, e.build_id, e.task_pk, COALESCE(t.task_id, ''), e.event_type, e.created_at, e.error_message, e.metadata
FROM events e
LEFT JOIN tasks t ON t.pk = e.task_pk
WHERE e.build_id = $1
ORDER BY e.created_at, e.id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list build events: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.BuildID, &ev.TaskPK, &ev.TaskID, &ev.Type,
			&ev.CreatedAt, &ev.ErrorMessage, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// BuildTaskStatuses derives the status of every task a build touched in one
// pass over the build's task-scoped events, ordered by created_at.
func (s *Store) BuildTaskStatuses(ctx context.Context, buildID string) (map[int64]domain.StatusInfo, error) {
	rows, err := s.pool.Query(ctx, `
SELECT task_pk, event_type, created_at, error_message
FROM events
WHERE build_id = $1 AND task_pk IS NOT NULL
ORDER BY created_at, id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("build task statuses: %w", mapErr(err))
	}
	defer rows.Close()
	grouped := make(map[int64][]domain.Event)
	for rows.Next() {
		var pk int64
		var ev domain.Event
		if err := rows.Scan(&pk, &ev.Type, &ev.CreatedAt, &ev.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		grouped[pk] = append(grouped[pk], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make(map[int64]domain.StatusInfo, len(grouped))
	for pk, events := range grouped {
		out[pk] = domain.DeriveTaskStatus(events)
	}
	return out, nil
}

// BuildStatus derives the build-level status from build-scoped events.
func (s *Store) BuildStatus(ctx context.Context, buildID string) (domain.StatusInfo, error) {
	rows, err := s.pool.Query(ctx, `
SELECT event_type, created_at, error_message
FROM events
WHERE build_id = $1 AND task_pk IS NULL
ORDER BY created_at, id`, buildID)
	if err != nil {
		return domain.StatusInfo{}, fmt.Errorf("build status: %w", mapErr(err))
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.Type, &ev.CreatedAt, &ev.ErrorMessage); err != nil {
			return domain.StatusInfo{}, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return domain.StatusInfo{}, err
	}
	return domain.DeriveBuildStatus(events), nil
}
