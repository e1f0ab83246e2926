package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// CreateBuildRequest is the body of POST /builds.
type CreateBuildRequest struct {
	Description string   `json:"description"`
	CommitHash  string   `json:"commit_hash"`
	RootTaskIDs []string `json:"root_task_ids"`
}

// CreateBuild registers a new build; the registry assigns its id and name
// and records it as running.
func (c *Client) CreateBuild(ctx context.Context, req CreateBuildRequest) (Build, error) {
	var out Build
	err := c.do(ctx, http.MethodPost, "/builds", nil, req, &out)
	return out, err
}

// GetBuild fetches one build with its derived status.
func (c *Client) GetBuild(ctx context.Context, buildID string) (Build, error) {
	var out Build
	err := c.do(ctx, http.MethodGet, "/builds/"+buildID, nil, nil, &out)
	return out, err
}

// ListBuilds pages through the environment's builds, newest first.
func (c *Client) ListBuilds(ctx context.Context, limit, offset int) ([]Build, error) {
	var out struct {
		Builds []Build `json:"builds"`
	}
	err := c.do(ctx, http.MethodGet, "/builds", pageQuery(limit, offset), nil, &out)
	return out.Builds, err
}

// CompleteBuild appends BUILD_COMPLETED.
func (c *Client) CompleteBuild(ctx context.Context, buildID string) error {
	return c.do(ctx, http.MethodPost, "/builds/"+buildID+"/complete", nil, nil, nil)
}

// FailBuild appends BUILD_FAILED with the given message.
func (c *Client) FailBuild(ctx context.Context, buildID, errorMessage string) error {
	body := map[string]string{"error_message": errorMessage}
	return c.do(ctx, http.MethodPost, "/builds/"+buildID+"/fail", nil, body, nil)
}

// RegisterTaskRequest is the body of POST /builds/{b}/tasks.
type RegisterTaskRequest struct {
	TaskID          string          `json:"task_id"`
	Namespace       string          `json:"namespace"`
	Name            string          `json:"name"`
	Params          json.RawMessage `json:"params"`
	Version         *string         `json:"version,omitempty"`
	UpstreamTaskIDs []string        `json:"upstream_task_ids,omitempty"`
}

// RegisterTask registers a task under the build. Re-registering the same
// task id in the environment reuses the existing row.
func (c *Client) RegisterTask(ctx context.Context, buildID string, req RegisterTaskRequest) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodPost, "/builds/"+buildID+"/tasks", nil, req, &out)
	return out, err
}

// ListBuildTasks returns every task the build touched, with statuses.
func (c *Client) ListBuildTasks(ctx context.Context, buildID string) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/builds/"+buildID+"/tasks", nil, nil, &out)
	return out.Tasks, err
}

// AppendTaskEvent records a task lifecycle transition in the build.
func (c *Client) AppendTaskEvent(ctx context.Context, buildID, taskID, eventType, errorMessage string) error {
	body := map[string]string{"event_type": eventType}
	if errorMessage != "" {
		body["error_message"] = errorMessage
	}
	return c.do(ctx, http.MethodPost, "/builds/"+buildID+"/tasks/"+taskID+"/events", nil, body, nil)
}

// ListEvents returns the build's event log, oldest first.
func (c *Client) ListEvents(ctx context.Context, buildID string) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/builds/"+buildID+"/events", nil, nil, &out)
	return out.Events, err
}

// BuildGraph returns the reconstructed task graph of the build.
func (c *Client) BuildGraph(ctx context.Context, buildID string) (Graph, error) {
	var out Graph
	err := c.do(ctx, http.MethodGet, "/builds/"+buildID+"/graph", nil, nil, &out)
	return out, err
}

// ListTasks pages through the environment's registered tasks.
func (c *Client) ListTasks(ctx context.Context, limit, offset int) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/tasks", pageQuery(limit, offset), nil, &out)
	return out.Tasks, err
}

// GetTask fetches one task by its content hash.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil, nil, &out)
	return out, err
}

// UploadAssets attaches artifacts to a completed task.
func (c *Client) UploadAssets(ctx context.Context, taskID string, assets []AssetUpload) error {
	body := map[string][]AssetUpload{"assets": assets}
	return c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/assets", nil, body, nil)
}

// ListAssets returns a task's attached artifacts.
func (c *Client) ListAssets(ctx context.Context, taskID string) ([]Asset, error) {
	var out struct {
		Assets []Asset `json:"assets"`
	}
	err := c.do(ctx, http.MethodGet, "/tasks/"+taskID+"/assets", nil, nil, &out)
	return out.Assets, err
}

// TargetRoots returns the environment's configured target roots.
func (c *Client) TargetRoots(ctx context.Context) ([]TargetRoot, error) {
	var out struct {
		TargetRoots []TargetRoot `json:"target_roots"`
	}
	err := c.do(ctx, http.MethodGet, "/target-roots", nil, nil, &out)
	return out.TargetRoots, err
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
