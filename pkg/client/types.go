package client

import (
	"encoding/json"
	"time"
)

// Build mirrors the registry's build resource with its derived status.
type Build struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	UserID        *string    `json:"user_id,omitempty"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	CommitHash    string     `json:"commit_hash,omitempty"`
	RootTaskIDs   []string   `json:"root_task_ids"`
	CreatedAt     time.Time  `json:"created_at"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Task mirrors the registry's task resource. Status fields are populated on
// build-scoped listings and empty elsewhere.
type Task struct {
	TaskID        string          `json:"task_id"`
	EnvironmentID string          `json:"environment_id"`
	Namespace     string          `json:"namespace"`
	Name          string          `json:"name"`
	Params        json.RawMessage `json:"params,omitempty"`
	Version       *string         `json:"version,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        string          `json:"status,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// Event is one lifecycle record of a build.
type Event struct {
	ID           string          `json:"id"`
	BuildID      string          `json:"build_id"`
	TaskID       string          `json:"task_id,omitempty"`
	Type         string          `json:"event_type"`
	CreatedAt    time.Time       `json:"created_at"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Event type strings accepted by the registry.
const (
	EventTaskStarted   = "TASK_STARTED"
	EventTaskCompleted = "TASK_COMPLETED"
	EventTaskFailed    = "TASK_FAILED"
)

// GraphNode is one task in a build's reconstructed graph.
type GraphNode struct {
	TaskID    string `json:"task_id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// GraphEdge is an upstream to downstream dependency.
type GraphEdge struct {
	Upstream   string `json:"upstream"`
	Downstream string `json:"downstream"`
}

// Graph is a build's task graph.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Lock is a lease row as returned by the lock endpoints.
type Lock struct {
	Name          string    `json:"name"`
	EnvironmentID string    `json:"environment_id"`
	OwnerID       string    `json:"owner_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Version       int64     `json:"version"`
}

// Asset is an artifact attached to a completed task.
type Asset struct {
	ID        string          `json:"id"`
	AssetType string          `json:"asset_type"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// AssetUpload is the wire form of an asset being attached.
type AssetUpload struct {
	AssetType string          `json:"asset_type"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body"`
}

// TargetRoot names a URI prefix for task outputs.
type TargetRoot struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Name          string    `json:"name"`
	URI           string    `json:"uri"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchResult is one row of the task-search endpoint.
type SearchResult struct {
	Task      Task   `json:"task"`
	BuildID   string `json:"build_id,omitempty"`
	BuildName string `json:"build_name,omitempty"`
	Status    string `json:"status"`
}
