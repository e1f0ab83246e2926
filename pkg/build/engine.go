// Package build drives a task DAG to completion: it discovers the graph,
// registers it with the registry, schedules ready tasks under one of three
// execution modes, coordinates with the distributed lock service, and
// reports lifecycle events as tasks run.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/pkg/client"
	"github.com/stardag/stardag/pkg/task"
)

// Mode selects how the engine expresses concurrency. All modes implement
// the same ordering semantics.
type Mode string

const (
	// ModeSequential runs one task at a time on the caller's goroutine.
	ModeSequential Mode = "sequential"
	// ModeCooperative runs tasks concurrently with a max-in-flight bound
	// managed by the coordinator. Suited to IO-bound tasks.
	ModeCooperative Mode = "cooperative"
	// ModeParallel runs tasks on a bounded worker pool.
	ModeParallel Mode = "parallel"
)

// FailMode selects what happens after a task fails.
type FailMode string

const (
	// FailFast stops dispatching new tasks after the first failure.
	// In-flight tasks run to completion.
	FailFast FailMode = "fail_fast"
	// FailAtEnd skips the failed task's transitive descendants but keeps
	// driving every other branch.
	FailAtEnd FailMode = "fail_at_end"
)

// Registry is the slice of the registry client the engine reports through.
// *client.Client satisfies it.
type Registry interface {
	CreateBuild(ctx context.Context, req client.CreateBuildRequest) (client.Build, error)
	RegisterTask(ctx context.Context, buildID string, req client.RegisterTaskRequest) (client.Task, error)
	AppendTaskEvent(ctx context.Context, buildID, taskID, eventType, errorMessage string) error
	CompleteBuild(ctx context.Context, buildID string) error
	FailBuild(ctx context.Context, buildID, errorMessage string) error
	ListBuildTasks(ctx context.Context, buildID string) ([]client.Task, error)
	UploadAssets(ctx context.Context, taskID string, assets []client.AssetUpload) error
}

// LockRegistry is the slice of the lock client the engine coordinates
// through. *client.LockClient satisfies it.
type LockRegistry interface {
	Acquire(ctx context.Context, req client.AcquireRequest) (client.AcquireResult, error)
	Renew(ctx context.Context, name, ownerID string, ttlSeconds int) (client.Lock, error)
	Release(ctx context.Context, name, ownerID string) error
	ReleaseWithCompletion(ctx context.Context, name, ownerID, buildID string) error
	IsTaskCompleted(ctx context.Context, taskID string) (bool, error)
}

// AssetProvider is implemented by tasks that attach artifacts to their
// registry record after completing.
type AssetProvider interface {
	RegistryAssets() []client.AssetUpload
}

// Config tunes one engine run.
type Config struct {
	Registry Registry
	// Locks enables distributed coordination. Nil disables it; tasks may
	// then re-execute redundantly across processes.
	Locks LockRegistry

	Mode     Mode
	FailMode FailMode
	// MaxInFlight bounds concurrent tasks in cooperative and parallel
	// modes. Zero means 4.
	MaxInFlight int

	// LockTTL is the lease length requested on acquire. Zero means 60s.
	LockTTL time.Duration
	// LockWaitTimeout bounds how long a task retries a contended lock
	// before giving up. Zero means 10 minutes.
	LockWaitTimeout time.Duration
	// LockSelector decides which tasks take a lock. Nil locks every task.
	LockSelector func(task.Task) bool

	// ResumeBuildID continues an existing build instead of creating one.
	// Tasks already completed in that build are not re-run.
	ResumeBuildID string

	Description string
	CommitHash  string

	Logger logging.Logger
}

// Report summarizes one engine run.
type Report struct {
	BuildID   string
	BuildName string
	// Completed holds ids of tasks that ran to completion this run.
	Completed []string
	// AlreadyComplete holds ids satisfied before running (target existed,
	// lock service reported completion, or the resumed build had them).
	AlreadyComplete []string
	// Failed maps task id to the failure message.
	Failed map[string]string
	// Skipped holds ids not run because an ancestor failed.
	Skipped []string
}

// Failed or skipped work means the build did not fully succeed.
func (r Report) Success() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Engine drives one build.
type Engine struct {
	cfg     Config
	logger  logging.Logger
	ownerID string
}

// New validates the configuration and prepares an engine. The lock owner id
// is fixed here, once per engine, so every retry within the run is
// re-entrant.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("a registry client is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeSequential
	case ModeSequential, ModeCooperative, ModeParallel:
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	switch cfg.FailMode {
	case "":
		cfg.FailMode = FailFast
	case FailFast, FailAtEnd:
	default:
		return nil, fmt.Errorf("unknown fail mode %q", cfg.FailMode)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.LockWaitTimeout <= 0 {
		cfg.LockWaitTimeout = 10 * time.Minute
	}
	return &Engine{
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger),
		ownerID: uuid.NewString(),
	}, nil
}

// Run executes the DAG rooted at the given tasks and returns a report. A
// non-nil error means the engine itself could not proceed (registry
// unreachable, cyclic graph); task failures are data in the report.
func (e *Engine) Run(ctx context.Context, roots ...task.Task) (Report, error) {
	if len(roots) == 0 {
		return Report{}, errors.New("at least one root task is required")
	}

	resumed, err := e.resumedCompletions(ctx)
	if err != nil {
		return Report{}, err
	}

	g, err := discover(ctx, roots, resumed)
	if err != nil {
		return Report{}, err
	}

	buildID, buildName, err := e.openBuild(ctx, g)
	if err != nil {
		return Report{}, err
	}

	if err := e.registerGraph(ctx, buildID, g); err != nil {
		return Report{}, err
	}

	run := &run{
		engine:  e,
		graph:   g,
		buildID: buildID,
	}
	if err := run.execute(ctx); err != nil {
		// Engine-level failure: mark the build failed so it does not dangle
		// as running forever.
		if failErr := e.cfg.Registry.FailBuild(ctx, buildID, err.Error()); failErr != nil {
			e.logger.Warn("mark build %s failed: %v", buildID, failErr)
		}
		return Report{}, err
	}

	report := g.report()
	report.BuildID = buildID
	report.BuildName = buildName

	if report.Success() {
		err = e.cfg.Registry.CompleteBuild(ctx, buildID)
	} else {
		err = e.cfg.Registry.FailBuild(ctx, buildID, report.failureSummary())
	}
	if err != nil {
		return report, fmt.Errorf("close build %s: %w", buildID, err)
	}
	return report, nil
}

// resumedCompletions returns the task ids already completed in the resumed
// build, or nil for a fresh build.
func (e *Engine) resumedCompletions(ctx context.Context) (map[string]bool, error) {
	if e.cfg.ResumeBuildID == "" {
		return nil, nil
	}
	tasks, err := e.cfg.Registry.ListBuildTasks(ctx, e.cfg.ResumeBuildID)
	if err != nil {
		return nil, fmt.Errorf("resume build %s: %w", e.cfg.ResumeBuildID, err)
	}
	done := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == "completed" {
			done[t.TaskID] = true
		}
	}
	e.logger.Info("resuming build %s with %d completed tasks", e.cfg.ResumeBuildID, len(done))
	return done, nil
}

func (e *Engine) openBuild(ctx context.Context, g *graph) (id, name string, err error) {
	if e.cfg.ResumeBuildID != "" {
		return e.cfg.ResumeBuildID, "", nil
	}
	build, err := e.cfg.Registry.CreateBuild(ctx, client.CreateBuildRequest{
		Description: e.cfg.Description,
		CommitHash:  e.cfg.CommitHash,
		RootTaskIDs: g.rootIDs(),
	})
	if err != nil {
		return "", "", fmt.Errorf("create build: %w", err)
	}
	e.logger.Info("build %s (%s) started", build.ID, build.Name)
	return build.ID, build.Name, nil
}

// registerGraph registers every runnable discovered task, upstream edges
// included. Registration is idempotent on the registry side.
func (e *Engine) registerGraph(ctx context.Context, buildID string, g *graph) error {
	for _, n := range g.topological() {
		if n.state != statePending {
			continue
		}
		wire, err := task.Serialize(n.task)
		if err != nil {
			return fmt.Errorf("serialize task %s: %w", n.id, err)
		}
		namespace, name := task.SplitFamily(wire.Family)
		_, err = e.cfg.Registry.RegisterTask(ctx, buildID, client.RegisterTaskRequest{
			TaskID:          n.id,
			Namespace:       namespace,
			Name:            name,
			Params:          wire.Params,
			Version:         wire.Version,
			UpstreamTaskIDs: n.upstreamIDs(),
		})
		if err != nil {
			return fmt.Errorf("register task %s: %w", n.id, err)
		}
	}
	return nil
}

func (e *Engine) lockWanted(t task.Task) bool {
	if e.cfg.Locks == nil {
		return false
	}
	if e.cfg.LockSelector == nil {
		return true
	}
	return e.cfg.LockSelector(t)
}
