package search

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stardag/stardag/internal/logging"
)

type fakeSampler struct {
	blobs   []json.RawMessage
	samples int
}

func (f *fakeSampler) SampleRecentTaskParams(context.Context, string, int) ([]json.RawMessage, error) {
	f.samples++
	return f.blobs, nil
}

func (f *fakeSampler) TopCoreValues(context.Context, string, string, int) ([]string, error) {
	return []string{"ingest", "train"}, nil
}

func TestSuggesterKeys(t *testing.T) {
	sampler := &fakeSampler{blobs: []json.RawMessage{
		[]byte(`{"model": {"size": 7, "layers": [{"dim": 4}]}, "seed": 1}`),
		[]byte(`{"deep": {"a": {"b": {"c": 1}}}}`),
	}}
	s := NewSuggester(sampler, time.Minute, logging.Nop())

	keys, err := s.Keys(context.Background(), "env-1", "")
	if err != nil {
		t.Fatal(err)
	}
	wantPresent := []string{"task_name", "status", "param.model", "param.model.size", "param.seed", "param.model.layers[0]"}
	set := map[string]bool{}
	for _, k := range keys {
		set[k] = true
	}
	for _, k := range wantPresent {
		if !set[k] {
			t.Errorf("missing key %q in %v", k, keys)
		}
	}
	// The walk stops at depth 3: deep.a.b is reachable, deep.a.b.c is not.
	if !set["param.deep.a.b"] || set["param.deep.a.b.c"] {
		t.Errorf("depth bound violated: %v", keys)
	}
}

func TestSuggesterKeysPrefixAndCache(t *testing.T) {
	sampler := &fakeSampler{blobs: []json.RawMessage{[]byte(`{"alpha": 1}`)}}
	s := NewSuggester(sampler, time.Minute, logging.Nop())

	keys, err := s.Keys(context.Background(), "env-1", "task_")
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if len(k) < 5 || k[:5] != "task_" {
			t.Errorf("key %q does not match prefix", k)
		}
	}

	if _, err := s.Keys(context.Background(), "env-1", "param."); err != nil {
		t.Fatal(err)
	}
	if sampler.samples != 1 {
		t.Errorf("second call within TTL should hit the cache, sampled %d times", sampler.samples)
	}
}

func TestSuggesterValues(t *testing.T) {
	sampler := &fakeSampler{blobs: []json.RawMessage{
		[]byte(`{"kind": "full"}`),
		[]byte(`{"kind": "full"}`),
		[]byte(`{"kind": "incremental"}`),
	}}
	s := NewSuggester(sampler, time.Minute, logging.Nop())

	values, err := s.Values(context.Background(), "env-1", "status", "f")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 1 || values[0] != "failed" {
		t.Errorf("status values = %v", values)
	}

	values, err = s.Values(context.Background(), "env-1", "param.kind", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 || values[0] != "full" {
		t.Errorf("param values should be ordered by frequency, got %v", values)
	}

	values, err = s.Values(context.Background(), "env-1", "task_namespace", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 {
		t.Errorf("core values = %v", values)
	}
}
