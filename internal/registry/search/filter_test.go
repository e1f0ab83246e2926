package search

import (
	"errors"
	"strings"
	"testing"

	"github.com/stardag/stardag/internal/registry/domain"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		raw  string
		want []Filter
	}{
		{"", nil},
		{"task_name:etl", []Filter{{Key: "task_name", Op: OpEq, Value: "etl"}}},
		{"task_name:~:etl", []Filter{{Key: "task_name", Op: OpContains, Value: "etl"}}},
		{"created_at:>=:2026-01-01", []Filter{{Key: "created_at", Op: OpGte, Value: "2026-01-01"}}},
		{"status:!=:failed", []Filter{{Key: "status", Op: OpNe, Value: "failed"}}},
		{
			"task_namespace:ingest,param.model.size:>:7",
			[]Filter{
				{Key: "task_namespace", Op: OpEq, Value: "ingest"},
				{Key: "param.model.size", Op: OpGt, Value: "7"},
			},
		},
		// A colon in the value without an operator token stays in the value.
		{"param.uri:s3://bucket/key", []Filter{{Key: "param.uri", Op: OpEq, Value: "s3://bucket/key"}}},
	}
	for _, tt := range tests {
		got, err := ParseFilters(tt.raw)
		if err != nil {
			t.Errorf("ParseFilters(%q) error: %v", tt.raw, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParseFilters(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseFilters(%q)[%d] = %v, want %v", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}

func TestParseFiltersRejectsBadInput(t *testing.T) {
	for _, raw := range []string{
		"justakey",
		"unknown_column:value",
		"status:>:failed",
		"param.:x",
		"param.a[x]:v",
		"param.a[-1]:v",
	} {
		_, err := ParseFilters(raw)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseFilters(%q) = %v, want validation error", raw, err)
		}
	}
}

func TestParseParamPathArrayIndexing(t *testing.T) {
	segments, err := parseParamPath("param.a.b[0].c")
	if err != nil {
		t.Fatal(err)
	}
	want := []pathSegment{{key: "a"}, {key: "b"}, {index: 0, isIdx: true}, {key: "c"}}
	if len(segments) != len(want) {
		t.Fatalf("segments = %v", segments)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Fatalf("segment %d = %v, want %v", i, segments[i], want[i])
		}
	}
}

func TestBuildParamQuery(t *testing.T) {
	filters, err := ParseFilters("param.model.size:>:7,task_name:~:train")
	if err != nil {
		t.Fatal(err)
	}
	q, err := Build("env-1", filters, "etl", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "::double precision >") {
		t.Errorf("numeric param op should cast to double precision:\n%s", q.SQL)
	}
	if !strings.Contains(q.SQL, "t.name ILIKE") {
		t.Errorf("q= term should substring-match task name:\n%s", q.SQL)
	}
	// environment, q, model, size, 7, train, limit, offset
	if len(q.Args) != 8 {
		t.Errorf("args = %v", q.Args)
	}
	for _, arg := range q.Args {
		if s, ok := arg.(string); ok && strings.ContainsAny(s, "'\"") {
			t.Errorf("argument %q should have no quoting significance", s)
		}
	}
}

func TestBuildStatusFilter(t *testing.T) {
	filters, err := ParseFilters("status:failed")
	if err != nil {
		t.Fatal(err)
	}
	q, err := Build("env-1", filters, "", 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "CASE le.event_type") {
		t.Errorf("status filter must use the derived status expression:\n%s", q.SQL)
	}
	if !strings.Contains(q.SQL, "LEFT JOIN LATERAL") {
		t.Errorf("expected latest-event lateral join:\n%s", q.SQL)
	}
}
