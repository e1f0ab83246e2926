package store

import (
	"context"
	"fmt"

	"github.com/stardag/stardag/internal/registry/search"
)

// SearchTasks executes a compiled search query. The column layout is fixed
// by search.Build.
func (s *Store) SearchTasks(ctx context.Context, q search.Query) ([]search.Result, error) {
	rows, err := s.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", mapErr(err))
	}
	defer rows.Close()
	var out []search.Result
	for rows.Next() {
		var r search.Result
		err := rows.Scan(&r.Task.PK, &r.Task.TaskID, &r.Task.EnvironmentID, &r.Task.Namespace,
			&r.Task.Name, &r.Task.Params, &r.Task.Version, &r.Task.CreatedAt,
			&r.BuildID, &r.BuildName, &r.Status)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
