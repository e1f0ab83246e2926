package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:       srv.URL,
		Credentials:   creds,
		EnvironmentID: "env-1",
	})
	require.NoError(t, err)
	return c
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func TestCreateBuildSendsCredentialAndEnvironment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/builds", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "env-1", r.Header.Get("X-Environment-Id"))

		var req CreateBuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nightly", req.Description)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Build{ID: "b-1", Name: "brave-otter-42", Status: "running"})
	})
	c := newTestClient(t, handler, APIKey("sk_test"))

	build, err := c.CreateBuild(context.Background(), CreateBuildRequest{Description: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, "b-1", build.ID)
	assert.Equal(t, "running", build.Status)
}

func TestTokenExpiredTriggersOneRefresh(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			writeAPIError(w, http.StatusUnauthorized, "token_expired", "token expired")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"builds": []Build{{ID: "b-1"}}})
	})

	var minted atomic.Int32
	creds := NewExchangedToken(func(_ context.Context, force bool) (string, error) {
		if minted.Add(1) == 1 && !force {
			return "stale", nil
		}
		return "fresh", nil
	})
	c := newTestClient(t, handler, creds)

	builds, err := c.ListBuilds(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, builds, 1)
	assert.Equal(t, int32(2), calls.Load())

	// The refreshed token is reused; no third exchange.
	_, err = c.ListBuilds(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), minted.Load())
}

func TestErrorMapping(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/builds/missing":
			writeAPIError(w, http.StatusNotFound, "not_found", "no such build")
		case "/api/v1/builds/forbidden":
			writeAPIError(w, http.StatusForbidden, "forbidden", "wrong workspace")
		default:
			writeAPIError(w, http.StatusInternalServerError, "internal_error", "boom")
		}
	})
	c := newTestClient(t, handler, APIKey("sk_test"))
	ctx := context.Background()

	_, err := c.GetBuild(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetBuild(ctx, "forbidden")
	assert.ErrorIs(t, err, ErrWorkspaceAccess)

	_, err = c.GetBuild(ctx, "broken")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal_error", apiErr.Code)
}

func TestAcquireMapsContentionStatuses(t *testing.T) {
	outcomes := map[string]int{
		"held":    http.StatusLocked,
		"capped":  http.StatusTooManyRequests,
		"granted": http.StatusOK,
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AcquireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status := outcomes[req.Name]
		w.WriteHeader(status)
		switch status {
		case http.StatusLocked:
			json.NewEncoder(w).Encode(map[string]string{"outcome": "held_by_other"})
		case http.StatusTooManyRequests:
			json.NewEncoder(w).Encode(map[string]string{"outcome": "concurrency_limit_reached"})
		default:
			json.NewEncoder(w).Encode(AcquireResult{
				Outcome: OutcomeAcquired,
				Lock:    &Lock{Name: req.Name, OwnerID: req.OwnerID},
			})
		}
	})
	c := newTestClient(t, handler, APIKey("sk_test"))
	ctx := context.Background()

	res, err := c.Locks().Acquire(ctx, AcquireRequest{Name: "held", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHeldByOther, res.Outcome)

	res, err = c.Locks().Acquire(ctx, AcquireRequest{Name: "capped", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConcurrencyLimit, res.Outcome)

	res, err = c.Locks().Acquire(ctx, AcquireRequest{Name: "granted", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquired, res.Outcome)
	require.NotNil(t, res.Lock)
	assert.Equal(t, "o", res.Lock.OwnerID)
}

func TestCompletionProbeCachesPositives(t *testing.T) {
	var probes atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"task_id": "abc", "completed": true})
	})
	c := newTestClient(t, handler, APIKey("sk_test"))
	ctx := context.Background()

	done, err := c.Locks().IsTaskCompleted(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = c.Locks().IsTaskCompleted(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(1), probes.Load(), "second probe should be served from cache")
}

func TestCompletionProbeUnknownTask(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not_found", "never registered")
	})
	c := newTestClient(t, handler, APIKey("sk_test"))

	done, err := c.Locks().IsTaskCompleted(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, done)
}
