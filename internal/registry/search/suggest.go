package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

const (
	// sampleSize is how many recent tasks are inspected when discovering
	// param keys and values.
	sampleSize = 200
	// maxParamDepth bounds the walk into parameter blobs.
	maxParamDepth = 3

	defaultSuggestTTL       = 30 * time.Second
	defaultSuggestCacheSize = 128
	maxSuggestions          = 100
)

// Sampler provides the store queries the suggester needs.
type Sampler interface {
	SampleRecentTaskParams(ctx context.Context, environmentID string, n int) ([]json.RawMessage, error)
	TopCoreValues(ctx context.Context, environmentID, column string, limit int) ([]string, error)
}

type cachedKeys struct {
	keys     []string
	storedAt time.Time
}

// Suggester serves filter-key and filter-value autocomplete. Param keys are
// discovered by sampling recent task blobs; results are cached per
// environment with a short TTL.
type Suggester struct {
	sampler Sampler
	ttl     time.Duration
	cache   *lru.Cache[string, cachedKeys]
	logger  logging.Logger
}

// NewSuggester creates a suggester with the default cache size and TTL.
func NewSuggester(sampler Sampler, ttl time.Duration, logger logging.Logger) *Suggester {
	if ttl <= 0 {
		ttl = defaultSuggestTTL
	}
	cache, err := lru.New[string, cachedKeys](defaultSuggestCacheSize)
	if err != nil {
		// lru.New only errors on non-positive size.
		panic(err)
	}
	return &Suggester{sampler: sampler, ttl: ttl, cache: cache, logger: logging.OrNop(logger)}
}

var coreKeys = []string{
	"build_id", "build_name", "created_at", "status",
	"task_id", "task_name", "task_namespace", "version",
}

// Keys returns filter keys matching the prefix: the fixed core keys plus
// param keys discovered from recent tasks.
func (s *Suggester) Keys(ctx context.Context, environmentID, prefix string) ([]string, error) {
	paramKeys, err := s.paramKeys(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	merged := make([]string, 0, len(coreKeys)+len(paramKeys))
	merged = append(merged, coreKeys...)
	merged = append(merged, paramKeys...)

	var out []string
	for _, key := range merged {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out, nil
}

// Values returns suggested values for a filter key, filtered by prefix.
func (s *Suggester) Values(ctx context.Context, environmentID, key, prefix string) ([]string, error) {
	var values []string
	switch {
	case key == "status":
		values = []string{"pending", "running", "completed", "failed"}
	case strings.HasPrefix(key, "param."):
		var err error
		values, err = s.paramValues(ctx, environmentID, key)
		if err != nil {
			return nil, err
		}
	default:
		column, ok := coreColumns[key]
		if !ok {
			return nil, fmt.Errorf("%w: no value suggestions for key %q", domain.ErrValidation, key)
		}
		// Strip the "t." qualifier for the aggregate query.
		var err error
		values, err = s.sampler.TopCoreValues(ctx, environmentID, strings.TrimPrefix(column, "t."), maxSuggestions)
		if err != nil {
			return nil, err
		}
	}
	var out []string
	for _, v := range values {
		if prefix == "" || strings.HasPrefix(strings.ToLower(v), strings.ToLower(prefix)) {
			out = append(out, v)
		}
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out, nil
}

func (s *Suggester) paramKeys(ctx context.Context, environmentID string) ([]string, error) {
	if entry, ok := s.cache.Get(environmentID); ok && time.Since(entry.storedAt) < s.ttl {
		return entry.keys, nil
	}
	blobs, err := s.sampler.SampleRecentTaskParams(ctx, environmentID, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample task params: %w", err)
	}
	seen := map[string]struct{}{}
	for _, blob := range blobs {
		var decoded any
		if err := json.Unmarshal(blob, &decoded); err != nil {
			continue
		}
		walkKeys("param", decoded, 0, seen)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.cache.Add(environmentID, cachedKeys{keys: keys, storedAt: time.Now()})
	return keys, nil
}

// walkKeys collects dotted paths into the blob up to maxParamDepth. Arrays
// contribute their first element's structure with a [0] segment.
func walkKeys(prefix string, value any, depth int, out map[string]struct{}) {
	if depth >= maxParamDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			path := prefix + "." + key
			out[path] = struct{}{}
			walkKeys(path, child, depth+1, out)
		}
	case []any:
		if len(v) > 0 {
			walkKeys(prefix+"[0]", v[0], depth, out)
			out[prefix+"[0]"] = struct{}{}
		}
	}
}

// paramValues samples recent blobs and counts the values found at the key's
// path, most frequent first.
func (s *Suggester) paramValues(ctx context.Context, environmentID, key string) ([]string, error) {
	segments, err := parseParamPath(key)
	if err != nil {
		return nil, err
	}
	blobs, err := s.sampler.SampleRecentTaskParams(ctx, environmentID, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample task params: %w", err)
	}
	counts := map[string]int{}
	for _, blob := range blobs {
		var decoded any
		if err := json.Unmarshal(blob, &decoded); err != nil {
			continue
		}
		if v, ok := extract(decoded, segments); ok {
			counts[v]++
		}
	}
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	return values, nil
}

// extract walks the decoded blob along the path, rendering the leaf as text
// the same way the SQL ->> operator does.
func extract(value any, segments []pathSegment) (string, bool) {
	current := value
	for _, seg := range segments {
		if seg.isIdx {
			arr, ok := current.([]any)
			if !ok || seg.index >= len(arr) {
				return "", false
			}
			current = arr[seg.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[seg.key]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return v, true
	case float64:
		data, _ := json.Marshal(v)
		return string(data), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case nil:
		return "", false
	default:
		return "", false
	}
}
