package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates build and task lifecycle events.
type EventType string

const (
	EventBuildStarted   EventType = "BUILD_STARTED"
	EventBuildCompleted EventType = "BUILD_COMPLETED"
	EventBuildFailed    EventType = "BUILD_FAILED"
	EventTaskPending    EventType = "TASK_PENDING"
	EventTaskStarted    EventType = "TASK_STARTED"
	EventTaskCompleted  EventType = "TASK_COMPLETED"
	EventTaskFailed     EventType = "TASK_FAILED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventBuildStarted, EventBuildCompleted, EventBuildFailed,
		EventTaskPending, EventTaskStarted, EventTaskCompleted, EventTaskFailed:
		return true
	}
	return false
}

// BuildScoped reports whether the event attaches to the build itself rather
// than to a task.
func (t EventType) BuildScoped() bool {
	switch t {
	case EventBuildStarted, EventBuildCompleted, EventBuildFailed:
		return true
	}
	return false
}

// Event is an append-only lifecycle record. TaskPK is nil for build-scoped
// events. Events are strictly ordered by CreatedAt within (build, task).
type Event struct {
	ID           string          `json:"id"`
	BuildID      string          `json:"build_id"`
	TaskPK       *int64          `json:"-"`
	TaskID       string          `json:"task_id,omitempty"`
	Type         EventType       `json:"event_type"`
	CreatedAt    time.Time       `json:"created_at"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Status is a derived build or task state. It is never stored; it is a pure
// function of the event stream.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change within a build.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusInfo carries a derived status plus the timestamps that bound it.
type StatusInfo struct {
	Status       Status     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// DeriveTaskStatus computes a task's status within one build from the events
// recorded for that (build, task) pair. Events must be in CreatedAt order.
// The last lifecycle event wins; no events at all means pending.
func DeriveTaskStatus(events []Event) StatusInfo {
	info := StatusInfo{Status: StatusPending}
	for _, ev := range events {
		switch ev.Type {
		case EventTaskPending:
			info.Status = StatusPending
		case EventTaskStarted:
			info.Status = StatusRunning
			if info.StartedAt == nil {
				t := ev.CreatedAt
				info.StartedAt = &t
			}
		case EventTaskCompleted:
			info.Status = StatusCompleted
			t := ev.CreatedAt
			info.CompletedAt = &t
		case EventTaskFailed:
			info.Status = StatusFailed
			t := ev.CreatedAt
			info.CompletedAt = &t
			info.ErrorMessage = ev.ErrorMessage
		}
	}
	return info
}

// DeriveBuildStatus computes a build's status from its build-scoped events.
// Failure dominates completion, which dominates running.
func DeriveBuildStatus(events []Event) StatusInfo {
	info := StatusInfo{Status: StatusPending}
	var started, completed, failed *time.Time
	var failMsg string
	for _, ev := range events {
		t := ev.CreatedAt
		switch ev.Type {
		case EventBuildStarted:
			if started == nil {
				started = &t
			}
		case EventBuildCompleted:
			completed = &t
		case EventBuildFailed:
			failed = &t
			failMsg = ev.ErrorMessage
		}
	}
	info.StartedAt = started
	switch {
	case failed != nil:
		info.Status = StatusFailed
		info.CompletedAt = failed
		info.ErrorMessage = failMsg
	case completed != nil:
		info.Status = StatusCompleted
		info.CompletedAt = completed
	case started != nil:
		info.Status = StatusRunning
	}
	return info
}
