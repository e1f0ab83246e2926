package build

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stardag/stardag/pkg/task"
)

type nodeState int

const (
	statePending nodeState = iota
	stateRunning
	stateSuspended
	stateCompleted
	// stateSatisfied means the task did not run this build: its target
	// already existed, the lock service reported it completed, or the
	// resumed build had recorded it.
	stateSatisfied
	stateFailed
	stateSkipped
)

type node struct {
	id   string
	task task.Task

	// upstream holds every dependency, static and dynamic.
	upstream []*node
	// static counts the upstream prefix known at discovery; the rest were
	// added by Expand batches.
	static int

	state   nodeState
	failure string

	lockHeld       bool
	stopRenew      func()
	expandDone     bool
	startedEmitted bool
}

func (n *node) upstreamIDs() []string {
	ids := make([]string, 0, len(n.upstream))
	for _, up := range n.upstream {
		ids = append(ids, up.id)
	}
	return ids
}

// ready reports whether every upstream reached a satisfied or completed
// state.
func (n *node) ready() bool {
	for _, up := range n.upstream {
		if up.state != stateCompleted && up.state != stateSatisfied {
			return false
		}
	}
	return true
}

// blocked reports whether some upstream failed or was skipped, making this
// node unrunnable.
func (n *node) blocked() bool {
	for _, up := range n.upstream {
		if up.state == stateFailed || up.state == stateSkipped {
			return true
		}
	}
	return false
}

// graph is the in-memory DAG: an adjacency map keyed by task id.
type graph struct {
	nodes map[string]*node
	roots []*node
	order []*node
}

// discover walks requires() depth-first from the roots, stopping at tasks
// whose output already exists or that the resumed build completed. A task
// reachable twice is one node; a task on its own upstream path is a cycle.
func discover(ctx context.Context, roots []task.Task, resumed map[string]bool) (*graph, error) {
	g := &graph{nodes: map[string]*node{}}
	onPath := map[string]bool{}
	for _, root := range roots {
		n, err := g.visit(ctx, root, resumed, onPath)
		if err != nil {
			return nil, err
		}
		g.roots = append(g.roots, n)
	}
	return g, nil
}

func (g *graph) visit(ctx context.Context, t task.Task, resumed map[string]bool, onPath map[string]bool) (*node, error) {
	id, err := task.ID(t)
	if err != nil {
		return nil, err
	}
	if existing, ok := g.nodes[id]; ok {
		if onPath[id] {
			return nil, fmt.Errorf("dependency cycle through task %s (%s)", id, t.Family())
		}
		return existing, nil
	}

	n := &node{id: id, task: t}
	g.nodes[id] = n

	satisfied := resumed[id]
	if !satisfied {
		satisfied, err = task.Complete(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("completeness check for %s: %w", id, err)
		}
	}
	if satisfied {
		n.state = stateSatisfied
		g.order = append(g.order, n)
		// Its subtree need not run.
		return n, nil
	}

	onPath[id] = true
	defer delete(onPath, id)
	for _, dep := range task.RequiresOf(t) {
		upNode, err := g.visit(ctx, dep, resumed, onPath)
		if err != nil {
			return nil, err
		}
		n.upstream = append(n.upstream, upNode)
	}
	n.static = len(n.upstream)
	// Post-order append keeps dependencies ahead of their dependents, so
	// registration never names an upstream the registry has not seen.
	g.order = append(g.order, n)
	return n, nil
}

// addDynamic folds an Expand batch into the graph and wires it upstream of
// the suspended node. Returns the freshly discovered nodes that still need
// registration.
func (g *graph) addDynamic(ctx context.Context, owner *node, batch []task.Task) ([]*node, error) {
	before := len(g.order)
	onPath := map[string]bool{owner.id: true}
	for _, t := range batch {
		dep, err := g.visit(ctx, t, nil, onPath)
		if err != nil {
			return nil, err
		}
		owner.upstream = append(owner.upstream, dep)
	}
	return g.order[before:], nil
}

// rootIDs returns the content hashes of the root tasks.
func (g *graph) rootIDs() []string {
	ids := make([]string, 0, len(g.roots))
	for _, n := range g.roots {
		ids = append(ids, n.id)
	}
	return ids
}

// topological returns the nodes dependency-first.
func (g *graph) topological() []*node {
	return g.order
}

// propagateSkips marks every pending node downstream of a failure as
// skipped, transitively. Runs over the full node set; graphs are small.
func (g *graph) propagateSkips() {
	changed := true
	for changed {
		changed = false
		for _, n := range g.nodes {
			if n.state != statePending && n.state != stateSuspended {
				continue
			}
			if n.blocked() {
				n.state = stateSkipped
				changed = true
			}
		}
	}
}

// unfinished reports whether any node could still make progress.
func (g *graph) unfinished() bool {
	for _, n := range g.nodes {
		switch n.state {
		case statePending, stateRunning, stateSuspended:
			return true
		}
	}
	return false
}

func (g *graph) report() Report {
	r := Report{Failed: map[string]string{}}
	for _, n := range g.order {
		switch n.state {
		case stateCompleted:
			r.Completed = append(r.Completed, n.id)
		case stateSatisfied:
			r.AlreadyComplete = append(r.AlreadyComplete, n.id)
		case stateFailed:
			r.Failed[n.id] = n.failure
		case stateSkipped, statePending, stateSuspended:
			r.Skipped = append(r.Skipped, n.id)
		}
	}
	sort.Strings(r.Completed)
	sort.Strings(r.AlreadyComplete)
	sort.Strings(r.Skipped)
	return r
}

func (r Report) failureSummary() string {
	if len(r.Failed) == 0 {
		return "build aborted"
	}
	parts := make([]string, 0, len(r.Failed))
	for id, msg := range r.Failed {
		parts = append(parts, fmt.Sprintf("%s: %s", shortID(id), msg))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d task(s) failed: %s", len(r.Failed), strings.Join(parts, "; "))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
