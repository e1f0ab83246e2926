// Package task defines the unit of work in a Stardag build: a typed
// parameter struct with a content-addressed identity. Two tasks with the
// same family and the same parameters are the same task, on any machine.
package task

import (
	"context"

	"github.com/stardag/stardag/pkg/target"
)

// Task is implemented by user task types. A task type is a struct whose
// exported fields are its parameters; the struct pointer receives Run.
type Task interface {
	// Family is the stable type name, "namespace/name". It is part of the
	// task's identity, so renaming a family re-keys every task of that type.
	Family() string
	// Run produces the task's output. By the time Run is called, every
	// task returned by Requires has completed.
	Run(ctx context.Context) error
	// Output is the target whose existence defines completion. A nil
	// output means the task is never considered complete by target checks
	// and will run every build.
	Output() target.Target
}

// WithRequires is implemented by tasks with static upstream dependencies.
type WithRequires interface {
	Requires() []Task
}

// Dynamic is implemented by tasks whose dependencies are only known after
// inspecting upstream outputs. Once all static requirements are complete the
// engine calls Expand repeatedly: every returned batch is driven to
// completion before the next call, and an empty batch means the task is
// ready to Run. Implementations typically keep a cursor in the receiver.
type Dynamic interface {
	Expand(ctx context.Context) ([]Task, error)
}

// Versioned is implemented by tasks that carry a code version. The version
// participates in the identity hash, so bumping it invalidates prior
// completions.
type Versioned interface {
	TaskVersion() string
}

// Complete reports whether the task's output already exists.
func Complete(ctx context.Context, t Task) (bool, error) {
	out := t.Output()
	if out == nil {
		return false, nil
	}
	return out.Exists(ctx)
}

// RequiresOf returns the static dependencies of a task, or nil.
func RequiresOf(t Task) []Task {
	if wr, ok := t.(WithRequires); ok {
		return wr.Requires()
	}
	return nil
}
