package build

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stardag/stardag/pkg/client"
)

type lockOutcome int

const (
	lockAcquired lockOutcome = iota
	lockAlreadyCompleted
)

// acquireWithRetry polls the lock service until the lease is granted, the
// task turns out to be completed elsewhere, or the wait timeout elapses.
// Between contended attempts it re-checks completion: the current holder
// may finish the task during our wait.
func (r *run) acquireWithRetry(ctx context.Context, n *node) (lockOutcome, error) {
	e := r.engine
	outcome := lockAcquired

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = e.cfg.LockWaitTimeout

	attempt := func() error {
		res, err := e.cfg.Locks.Acquire(ctx, client.AcquireRequest{
			Name:                n.id,
			OwnerID:             e.ownerID,
			TTLSeconds:          int(e.cfg.LockTTL.Seconds()),
			CheckTaskCompletion: true,
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		switch res.Outcome {
		case client.OutcomeAcquired:
			return nil
		case client.OutcomeAlreadyCompleted:
			outcome = lockAlreadyCompleted
			return nil
		}

		done, err := e.cfg.Locks.IsTaskCompleted(ctx, n.id)
		if err == nil && done {
			outcome = lockAlreadyCompleted
			return nil
		}
		return fmt.Errorf("lock %s: %s", shortID(n.id), res.Outcome)
	}
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return lockAcquired, err
	}
	return outcome, nil
}

// startRenewal renews the lease at half its TTL until stopped, so tasks
// that outlive the TTL keep their exclusivity.
func (r *run) startRenewal(n *node) {
	e := r.engine
	renewCtx, cancel := context.WithCancel(context.Background())
	n.stopRenew = cancel

	interval := e.cfg.LockTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				_, err := e.cfg.Locks.Renew(renewCtx, n.id, e.ownerID, int(e.cfg.LockTTL.Seconds()))
				if err != nil && renewCtx.Err() == nil {
					e.logger.Warn("renew lock %s: %v", shortID(n.id), err)
				}
			}
		}
	}()
}

func (n *node) stopRenewal() {
	if n.stopRenew != nil {
		n.stopRenew()
		n.stopRenew = nil
	}
}
