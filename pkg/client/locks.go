package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
)

// Outcome is the result of a lock acquire attempt.
type Outcome string

const (
	OutcomeAcquired         Outcome = "acquired"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeHeldByOther      Outcome = "held_by_other"
	OutcomeConcurrencyLimit Outcome = "concurrency_limit_reached"
)

// AcquireRequest asks for a lease on a lock name.
type AcquireRequest struct {
	Name                string `json:"name"`
	OwnerID             string `json:"owner_id"`
	TTLSeconds          int    `json:"ttl_seconds"`
	CheckTaskCompletion bool   `json:"check_task_completion,omitempty"`
}

// AcquireResult carries the outcome and, when acquired, the lease.
type AcquireResult struct {
	Outcome Outcome `json:"outcome"`
	Lock    *Lock   `json:"lock,omitempty"`
}

// LockClient covers the lock endpoints. It keeps a positive cache of
// completed task ids: a completed task never un-completes, so within one
// process a second probe is free.
type LockClient struct {
	c *Client

	mu        sync.Mutex
	completed map[string]struct{}
}

// Acquire attempts to take or extend a lease. The 423 and 429 responses are
// outcomes here, not errors.
func (l *LockClient) Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error) {
	var out AcquireResult
	err := l.c.do(ctx, http.MethodPost, "/locks/acquire", nil, req, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusLocked:
				return AcquireResult{Outcome: OutcomeHeldByOther}, nil
			case http.StatusTooManyRequests:
				return AcquireResult{Outcome: OutcomeConcurrencyLimit}, nil
			}
		}
		return AcquireResult{}, err
	}
	if out.Outcome == OutcomeAlreadyCompleted {
		l.markCompleted(req.Name)
	}
	return out, nil
}

// Renew extends an owned lease. A 409 means the owner does not match.
func (l *LockClient) Renew(ctx context.Context, name, ownerID string, ttlSeconds int) (Lock, error) {
	body := map[string]any{"name": name, "owner_id": ownerID, "ttl_seconds": ttlSeconds}
	var out struct {
		Lock Lock `json:"lock"`
	}
	err := l.c.do(ctx, http.MethodPost, "/locks/renew", nil, body, &out)
	return out.Lock, err
}

// Release drops an owned lease without recording completion.
func (l *LockClient) Release(ctx context.Context, name, ownerID string) error {
	body := map[string]any{"name": name, "owner_id": ownerID}
	return l.c.do(ctx, http.MethodPost, "/locks/release", nil, body, nil)
}

// ReleaseWithCompletion atomically records TASK_COMPLETED for the task named
// by the lock and drops the lease.
func (l *LockClient) ReleaseWithCompletion(ctx context.Context, name, ownerID, buildID string) error {
	body := map[string]any{
		"name":          name,
		"owner_id":      ownerID,
		"build_id":      buildID,
		"complete_task": true,
	}
	if err := l.c.do(ctx, http.MethodPost, "/locks/release", nil, body, nil); err != nil {
		return err
	}
	l.markCompleted(name)
	return nil
}

// Get fetches one lock row; ErrNotFound when nobody holds it.
func (l *LockClient) Get(ctx context.Context, name string) (Lock, error) {
	var out struct {
		Lock Lock `json:"lock"`
	}
	err := l.c.do(ctx, http.MethodGet, "/locks/"+name, nil, nil, &out)
	return out.Lock, err
}

// List returns the environment's locks.
func (l *LockClient) List(ctx context.Context, includeExpired bool) ([]Lock, error) {
	q := url.Values{}
	if includeExpired {
		q.Set("include_expired", "true")
	}
	var out struct {
		Locks []Lock `json:"locks"`
	}
	err := l.c.do(ctx, http.MethodGet, "/locks", q, nil, &out)
	return out.Locks, err
}

// IsTaskCompleted reports whether the task has a TASK_COMPLETED event in any
// build of the environment. An unregistered task counts as not completed.
func (l *LockClient) IsTaskCompleted(ctx context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	_, hit := l.completed[taskID]
	l.mu.Unlock()
	if hit {
		return true, nil
	}
	var out struct {
		Completed bool `json:"completed"`
	}
	err := l.c.do(ctx, http.MethodGet, "/tasks/"+taskID+"/completed", nil, nil, &out)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out.Completed {
		l.markCompleted(taskID)
	}
	return out.Completed, nil
}

func (l *LockClient) markCompleted(taskID string) {
	l.mu.Lock()
	l.completed[taskID] = struct{}{}
	l.mu.Unlock()
}
