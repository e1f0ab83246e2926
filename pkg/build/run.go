package build

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/stardag/stardag/pkg/client"
	"github.com/stardag/stardag/pkg/task"
)

// stepKind is what one dispatch of a task produced.
type stepKind int

const (
	stepCompleted stepKind = iota
	// stepSatisfied means the lock service reported the task already
	// completed elsewhere; it did not run here.
	stepSatisfied
	// stepSuspended means Expand returned a dynamic batch; the node waits
	// for it with its lock still held.
	stepSuspended
	stepFailed
)

type stepResult struct {
	n     *node
	kind  stepKind
	msg   string
	batch []task.Task
}

// run is the mutable state of one engine execution. The coordinator loop is
// the only goroutine that touches the graph; workers only touch their own
// node and send results back over the channel.
type run struct {
	engine  *Engine
	graph   *graph
	buildID string

	failFastTripped bool
	inFlight        int
	results         chan stepResult
	sem             *semaphore.Weighted
}

func (r *run) execute(ctx context.Context) error {
	e := r.engine
	// Buffered so workers never block on a coordinator that has already
	// bailed out.
	r.results = make(chan stepResult, e.cfg.MaxInFlight)
	if e.cfg.Mode == ModeParallel {
		r.sem = semaphore.NewWeighted(int64(e.cfg.MaxInFlight))
	}

	for {
		r.graph.propagateSkips()
		r.releaseSkipped(ctx)
		dispatched, err := r.dispatchReady(ctx)
		if err != nil {
			return err
		}

		if r.inFlight > 0 {
			res := <-r.results
			r.inFlight--
			if err := r.handle(ctx, res); err != nil {
				return err
			}
			continue
		}
		if dispatched {
			continue
		}
		if r.failFastTripped {
			r.abandonPending(ctx)
		}
		if !r.graph.unfinished() {
			return nil
		}
		if !r.failFastTripped {
			return errors.New("no runnable task but the build is unfinished")
		}
	}
}

// dispatchReady starts every ready node the mode's concurrency budget
// allows. Sequential mode runs the first ready node inline and returns.
func (r *run) dispatchReady(ctx context.Context) (bool, error) {
	if r.failFastTripped {
		return false, nil
	}
	e := r.engine
	dispatched := false
	for _, n := range r.graph.topological() {
		if n.state != statePending && n.state != stateSuspended {
			continue
		}
		if !n.ready() || n.blocked() {
			continue
		}
		switch e.cfg.Mode {
		case ModeSequential:
			n.state = stateRunning
			res := r.step(ctx, n)
			if err := r.handle(ctx, res); err != nil {
				return true, err
			}
			return true, nil
		case ModeCooperative:
			if r.inFlight >= e.cfg.MaxInFlight {
				return dispatched, nil
			}
			n.state = stateRunning
			r.inFlight++
			dispatched = true
			go func(n *node) { r.results <- r.step(ctx, n) }(n)
		case ModeParallel:
			if !r.sem.TryAcquire(1) {
				return dispatched, nil
			}
			n.state = stateRunning
			r.inFlight++
			dispatched = true
			go func(n *node) {
				defer r.sem.Release(1)
				r.results <- r.step(ctx, n)
			}(n)
		}
	}
	return dispatched, nil
}

func (r *run) handle(ctx context.Context, res stepResult) error {
	n := res.n
	switch res.kind {
	case stepCompleted:
		n.state = stateCompleted
	case stepSatisfied:
		n.state = stateSatisfied
	case stepFailed:
		n.state = stateFailed
		n.failure = res.msg
		if r.engine.cfg.FailMode == FailFast {
			r.failFastTripped = true
		}
	case stepSuspended:
		n.state = stateSuspended
		fresh, err := r.graph.addDynamic(ctx, n, res.batch)
		if err != nil {
			r.releaseAbandonedLock(ctx, n)
			return fmt.Errorf("expand task %s: %w", n.id, err)
		}
		if err := r.registerFresh(ctx, fresh, n); err != nil {
			r.releaseAbandonedLock(ctx, n)
			return err
		}
	}
	return nil
}

// registerFresh registers nodes added by a dynamic batch, then re-registers
// the owner so the new dependency edges are recorded. Registration is
// idempotent on the registry side.
func (r *run) registerFresh(ctx context.Context, fresh []*node, owner *node) error {
	e := r.engine
	for _, n := range append(fresh, owner) {
		if n != owner && n.state != statePending {
			continue
		}
		wire, err := task.Serialize(n.task)
		if err != nil {
			return fmt.Errorf("serialize task %s: %w", n.id, err)
		}
		namespace, name := task.SplitFamily(wire.Family)
		_, err = e.cfg.Registry.RegisterTask(ctx, r.buildID, client.RegisterTaskRequest{
			TaskID:          n.id,
			Namespace:       namespace,
			Name:            name,
			Params:          wire.Params,
			Version:         wire.Version,
			UpstreamTaskIDs: n.upstreamIDs(),
		})
		if err != nil {
			return fmt.Errorf("register dynamic task %s (needed by %s): %w", n.id, owner.id, err)
		}
	}
	return nil
}

// abandonPending marks everything still pending as skipped after a
// fail-fast trip, giving back any leases those nodes hold.
func (r *run) abandonPending(ctx context.Context) {
	for _, n := range r.graph.topological() {
		if n.state == statePending || n.state == stateSuspended {
			n.state = stateSkipped
			r.releaseAbandonedLock(ctx, n)
		}
	}
}

// releaseSkipped drops leases held by nodes that were skipped while
// suspended on a dynamic batch. Without this another process could never
// take the task over: the lease would renew forever.
func (r *run) releaseSkipped(ctx context.Context) {
	for _, n := range r.graph.topological() {
		if n.state == stateSkipped && n.lockHeld {
			r.releaseAbandonedLock(ctx, n)
		}
	}
}

// releaseAbandonedLock drops a held lease when the engine gives up on a
// node for reasons other than task failure.
func (r *run) releaseAbandonedLock(ctx context.Context, n *node) {
	if !n.lockHeld {
		return
	}
	n.stopRenewal()
	if err := r.engine.cfg.Locks.Release(ctx, n.id, r.engine.ownerID); err != nil {
		r.engine.logger.Warn("release lock %s: %v", n.id, err)
	}
	n.lockHeld = false
}

// step runs one dispatch of a node: lock coordination on first entry, a
// TASK_STARTED event, dynamic expansion, then Run itself.
func (r *run) step(ctx context.Context, n *node) stepResult {
	e := r.engine

	if e.lockWanted(n.task) && !n.lockHeld {
		outcome, err := r.acquireWithRetry(ctx, n)
		if err != nil {
			return stepResult{n: n, kind: stepFailed, msg: fmt.Sprintf("acquire lock: %v", err)}
		}
		if outcome == lockAlreadyCompleted {
			return stepResult{n: n, kind: stepSatisfied}
		}
		n.lockHeld = true
		r.startRenewal(n)
	}

	if !n.startedEmitted {
		if err := e.cfg.Registry.AppendTaskEvent(ctx, r.buildID, n.id, "TASK_STARTED", ""); err != nil {
			r.failNode(ctx, n, fmt.Sprintf("record start: %v", err))
			return stepResult{n: n, kind: stepFailed, msg: n.failure}
		}
		n.startedEmitted = true
	}

	if dyn, ok := n.task.(task.Dynamic); ok && !n.expandDone {
		batch, err := dyn.Expand(ctx)
		if err != nil {
			r.failNode(ctx, n, fmt.Sprintf("expand: %v", err))
			return stepResult{n: n, kind: stepFailed, msg: n.failure}
		}
		if len(batch) > 0 {
			return stepResult{n: n, kind: stepSuspended, batch: batch}
		}
		n.expandDone = true
	}

	if err := n.task.Run(ctx); err != nil {
		r.failNode(ctx, n, err.Error())
		return stepResult{n: n, kind: stepFailed, msg: n.failure}
	}

	if err := r.recordCompletion(ctx, n); err != nil {
		r.failNode(ctx, n, fmt.Sprintf("record completion: %v", err))
		return stepResult{n: n, kind: stepFailed, msg: n.failure}
	}

	if provider, ok := n.task.(AssetProvider); ok {
		if assets := provider.RegistryAssets(); len(assets) > 0 {
			if err := e.cfg.Registry.UploadAssets(ctx, n.id, assets); err != nil {
				e.logger.Warn("upload assets for %s: %v", n.id, err)
			}
		}
	}
	return stepResult{n: n, kind: stepCompleted}
}

// recordCompletion emits TASK_COMPLETED. With a lock held the event and the
// lease removal commit in one registry transaction.
func (r *run) recordCompletion(ctx context.Context, n *node) error {
	e := r.engine
	if n.lockHeld {
		n.stopRenewal()
		if err := e.cfg.Locks.ReleaseWithCompletion(ctx, n.id, e.ownerID, r.buildID); err != nil {
			return err
		}
		n.lockHeld = false
		return nil
	}
	return e.cfg.Registry.AppendTaskEvent(ctx, r.buildID, n.id, "TASK_COMPLETED", "")
}

// failNode records TASK_FAILED and releases any held lock without marking
// the task completed.
func (r *run) failNode(ctx context.Context, n *node, msg string) {
	e := r.engine
	n.failure = msg
	if err := e.cfg.Registry.AppendTaskEvent(ctx, r.buildID, n.id, "TASK_FAILED", msg); err != nil {
		e.logger.Warn("record failure of %s: %v", n.id, err)
	}
	if n.lockHeld {
		n.stopRenewal()
		if err := e.cfg.Locks.Release(ctx, n.id, e.ownerID); err != nil {
			e.logger.Warn("release lock %s after failure: %v", n.id, err)
		}
		n.lockHeld = false
	}
	e.logger.Warn("task %s failed: %s", shortID(n.id), msg)
}
