package search

import (
	"fmt"
	"strings"

	"github.com/stardag/stardag/internal/registry/domain"
)

// statusExpr derives a task's status from its latest lifecycle event across
// all builds. No event at all means pending.
const statusExpr = `CASE le.event_type
	WHEN 'TASK_STARTED' THEN 'running'
	WHEN 'TASK_COMPLETED' THEN 'completed'
	WHEN 'TASK_FAILED' THEN 'failed'
	ELSE 'pending' END`

// Query is a compiled search: SQL text plus positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Build compiles filters and the free-text term into one SELECT over tasks
// joined to the latest lifecycle event per task and its build. Everything
// user-supplied travels as a bind parameter; param-path keys and indexes are
// validated before being bound.
func Build(environmentID string, filters []Filter, q string, limit, offset int) (Query, error) {
	b := &builder{}
	envArg := b.bind(environmentID)

	var where []string
	where = append(where, "t.environment_id = "+envArg)

	if q = strings.TrimSpace(q); q != "" {
		arg := b.bind(q)
		where = append(where,
			fmt.Sprintf("(t.name ILIKE '%%' || %s || '%%' OR t.namespace ILIKE '%%' || %s || '%%')", arg, arg))
	}

	for _, f := range filters {
		cond, err := b.condition(f)
		if err != nil {
			return Query{}, err
		}
		where = append(where, cond)
	}

	sql := `
SELECT t.pk, t.task_id, t.environment_id, t.namespace, t.name, t.params, t.version, t.created_at,
       COALESCE(le.build_id, ''), COALESCE(b.name, ''), ` + statusExpr + ` AS status
FROM tasks t
LEFT JOIN LATERAL (
	SELECT e.event_type, e.created_at, e.build_id
	FROM events e
	WHERE e.task_pk = t.pk
	  AND e.event_type IN ('TASK_PENDING', 'TASK_STARTED', 'TASK_COMPLETED', 'TASK_FAILED')
	ORDER BY e.created_at DESC, e.id DESC
	LIMIT 1
) le ON true
LEFT JOIN builds b ON b.id = le.build_id
WHERE ` + strings.Join(where, "\n  AND ") + `
ORDER BY t.created_at DESC
LIMIT ` + b.bind(limit) + ` OFFSET ` + b.bind(offset)

	return Query{SQL: sql, Args: b.args}, nil
}

type builder struct {
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) condition(f Filter) (string, error) {
	switch {
	case f.IsParam():
		return b.paramCondition(f)
	case f.Key == "status":
		op := "="
		if f.Op == OpNe {
			op = "<>"
		}
		return fmt.Sprintf("(%s) %s %s", statusExpr, op, b.bind(f.Value)), nil
	default:
		expr, ok := coreColumns[f.Key]
		if !ok {
			expr, ok = buildColumns[f.Key]
		}
		if !ok {
			return "", fmt.Errorf("%w: unknown filter key %q", domain.ErrValidation, f.Key)
		}
		return b.compare(expr, f, f.Key == "created_at")
	}
}

// paramCondition extracts the addressed path from the JSON blob as text and
// compares it.
func (b *builder) paramCondition(f Filter) (string, error) {
	segments, err := parseParamPath(f.Key)
	if err != nil {
		return "", err
	}
	expr := "t.params"
	for i, seg := range segments {
		arrow := "->"
		if i == len(segments)-1 {
			arrow = "->>"
		}
		if seg.isIdx {
			expr = fmt.Sprintf("(%s %s %d)", expr, arrow, seg.index)
		} else {
			expr = fmt.Sprintf("(%s %s %s)", expr, arrow, b.bind(seg.key))
		}
	}
	return b.compare(expr, f, false)
}

func (b *builder) compare(expr string, f Filter, isTimestamp bool) (string, error) {
	switch {
	case f.Op == OpContains:
		return fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", expr, b.bind(f.Value)), nil
	case f.Op.Numeric() && isTimestamp:
		return fmt.Sprintf("%s %s %s::timestamptz", expr, f.Op, b.bind(f.Value)), nil
	case f.Op.Numeric():
		return fmt.Sprintf("(%s)::double precision %s %s::double precision", expr, f.Op, b.bind(f.Value)), nil
	case f.Op == OpNe:
		return fmt.Sprintf("%s <> %s", expr, b.bind(f.Value)), nil
	default:
		return fmt.Sprintf("%s = %s", expr, b.bind(f.Value)), nil
	}
}

// Result is one search hit: the task plus its latest build and derived
// status.
type Result struct {
	Task      domain.Task   `json:"task"`
	BuildID   string        `json:"build_id,omitempty"`
	BuildName string        `json:"build_name,omitempty"`
	Status    domain.Status `json:"status"`
}

// Column describes one result column of the search endpoint.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Columns lists the result columns the search endpoint returns.
func Columns() []Column {
	return []Column{
		{Key: "task_id", Label: "Task ID"},
		{Key: "task_namespace", Label: "Namespace"},
		{Key: "task_name", Label: "Name"},
		{Key: "status", Label: "Status"},
		{Key: "build_id", Label: "Build"},
		{Key: "build_name", Label: "Build Name"},
		{Key: "version", Label: "Version"},
		{Key: "created_at", Label: "Created"},
	}
}
