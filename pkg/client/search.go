package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SearchQuery carries the task-search parameters. Filters use the
// "key(:op)?:value" expressions understood by the registry.
type SearchQuery struct {
	Filters string
	Text    string
	Limit   int
	Offset  int
}

// SearchTasks runs a filtered task search in the environment.
func (c *Client) SearchTasks(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	query := url.Values{}
	if q.Filters != "" {
		query.Set("filters", q.Filters)
	}
	if q.Text != "" {
		query.Set("q", q.Text)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, "/search/tasks", query, nil, &out)
	return out.Results, err
}

// SuggestKeys returns filter-key completions for a prefix.
func (c *Client) SuggestKeys(ctx context.Context, prefix string) ([]string, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	var out struct {
		Keys []string `json:"keys"`
	}
	err := c.do(ctx, http.MethodGet, "/search/suggest/keys", q, nil, &out)
	return out.Keys, err
}

// SuggestValues returns common values for a filter key.
func (c *Client) SuggestValues(ctx context.Context, key, prefix string) ([]string, error) {
	q := url.Values{"key": {key}}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	var out struct {
		Values []string `json:"values"`
	}
	err := c.do(ctx, http.MethodGet, "/search/suggest/values", q, nil, &out)
	return out.Values, err
}
