// Package search implements the task-search filter language and its
// compilation to parameterized SQL, plus the key/value autocomplete
// suggestion caches.
package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stardag/stardag/internal/registry/domain"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpGt       Op = ">"
	OpLt       Op = "<"
	OpGte      Op = ">="
	OpLte      Op = "<="
	OpContains Op = "~"
)

var knownOps = map[string]Op{
	"=": OpEq, "!=": OpNe, ">": OpGt, "<": OpLt, ">=": OpGte, "<=": OpLte, "~": OpContains,
}

// Numeric reports whether the operator compares magnitudes. On parameter
// fields these cast both sides to double precision.
func (o Op) Numeric() bool {
	switch o {
	case OpGt, OpLt, OpGte, OpLte:
		return true
	}
	return false
}

// Filter is one parsed expression: key, operator, and value.
type Filter struct {
	Key   string
	Op    Op
	Value string
}

// IsParam reports whether the filter addresses the JSON parameter blob.
func (f Filter) IsParam() bool {
	return strings.HasPrefix(f.Key, "param.")
}

// coreColumns maps filterable core keys to their SQL expressions.
var coreColumns = map[string]string{
	"task_name":      "t.name",
	"task_namespace": "t.namespace",
	"task_id":        "t.task_id",
	"created_at":     "t.created_at",
	"version":        "t.version",
}

// buildColumns maps build-level keys to expressions over the joined latest
// event and its build.
var buildColumns = map[string]string{
	"build_id":   "le.build_id",
	"build_name": "b.name",
}

// ParseFilters parses the filter query parameter: expr(,expr)* where each
// expr is key(:op)?:value. A missing operator means equality.
func ParseFilters(raw string) ([]Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []Filter
	for _, expr := range strings.Split(raw, ",") {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		f, err := parseExpr(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseExpr(expr string) (Filter, error) {
	parts := strings.SplitN(expr, ":", 3)
	if len(parts) < 2 {
		return Filter{}, fmt.Errorf("%w: filter %q needs key:value", domain.ErrValidation, expr)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return Filter{}, fmt.Errorf("%w: filter %q has an empty key", domain.ErrValidation, expr)
	}
	f := Filter{Key: key, Op: OpEq}
	if len(parts) == 2 {
		f.Value = parts[1]
	} else {
		op, ok := knownOps[strings.TrimSpace(parts[1])]
		if !ok {
			// Not an operator: the value itself contained a colon.
			f.Value = parts[1] + ":" + parts[2]
			return validateKey(f)
		}
		f.Op = op
		f.Value = parts[2]
	}
	return validateKey(f)
}

func validateKey(f Filter) (Filter, error) {
	if f.IsParam() {
		if _, err := parseParamPath(f.Key); err != nil {
			return Filter{}, err
		}
		return f, nil
	}
	if _, ok := coreColumns[f.Key]; ok {
		return f, nil
	}
	if _, ok := buildColumns[f.Key]; ok {
		return f, nil
	}
	if f.Key == "status" {
		if f.Op != OpEq && f.Op != OpNe {
			return Filter{}, fmt.Errorf("%w: status supports only = and !=", domain.ErrValidation)
		}
		return f, nil
	}
	return Filter{}, fmt.Errorf("%w: unknown filter key %q", domain.ErrValidation, f.Key)
}

// pathSegment is one step into the parameter blob: an object key or an array
// index.
type pathSegment struct {
	key   string
	index int
	isIdx bool
}

// parseParamPath splits "param.a.b[0].c" into its segments after the
// "param." prefix. Array indexing is allowed at any segment.
func parseParamPath(key string) ([]pathSegment, error) {
	path := strings.TrimPrefix(key, "param.")
	if path == "" {
		return nil, fmt.Errorf("%w: empty param path", domain.ErrValidation)
	}
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: malformed param path %q", domain.ErrValidation, key)
		}
		name := part
		var indexes []int
		for strings.HasSuffix(name, "]") {
			open := strings.LastIndex(name, "[")
			if open < 0 {
				return nil, fmt.Errorf("%w: malformed array index in %q", domain.ErrValidation, key)
			}
			idx, err := strconv.Atoi(name[open+1 : len(name)-1])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: malformed array index in %q", domain.ErrValidation, key)
			}
			indexes = append([]int{idx}, indexes...)
			name = name[:open]
		}
		if name == "" {
			return nil, fmt.Errorf("%w: malformed param path %q", domain.ErrValidation, key)
		}
		segments = append(segments, pathSegment{key: name})
		for _, idx := range indexes {
			segments = append(segments, pathSegment{index: idx, isIdx: true})
		}
	}
	return segments, nil
}
