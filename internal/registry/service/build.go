// Package service holds the application services that sit between the HTTP
// layer and the store: authorization-aware orchestration of builds, tasks,
// events, and workspace administration.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/namegen"
)

// BuildStore is the slice of the registry store the build service needs.
type BuildStore interface {
	InsertBuild(ctx context.Context, b domain.Build) (domain.Build, error)
	GetBuild(ctx context.Context, id string) (domain.Build, error)
	ListBuilds(ctx context.Context, environmentID string, limit, offset int) ([]domain.Build, error)
	AppendEvent(ctx context.Context, ev domain.Event) (domain.Event, error)
	ListBuildEvents(ctx context.Context, buildID string) ([]domain.Event, error)
	BuildTaskStatuses(ctx context.Context, buildID string) (map[int64]domain.StatusInfo, error)
	BuildStatus(ctx context.Context, buildID string) (domain.StatusInfo, error)
	RegisterTask(ctx context.Context, task domain.Task, buildID, eventID string, upstreamTaskIDs []string) (domain.Task, error)
	GetTaskByTaskID(ctx context.Context, environmentID, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, environmentID string, limit, offset int) ([]domain.Task, error)
	ListTasksByPKs(ctx context.Context, pks []int64) ([]domain.Task, error)
	ListDependenciesAmong(ctx context.Context, pks []int64) ([]domain.TaskDependency, error)
	InsertAssets(ctx context.Context, assets []domain.TaskRegistryAsset) error
	ListAssets(ctx context.Context, taskPK int64) ([]domain.TaskRegistryAsset, error)
}

// BuildService implements build, task, and event operations for the SDK
// surface. Every operation is scoped to the caller's environment.
type BuildService struct {
	store       BuildStore
	broadcaster *EventBroadcaster
	logger      logging.Logger
}

// NewBuildService wires the build service.
func NewBuildService(store BuildStore, broadcaster *EventBroadcaster, logger logging.Logger) *BuildService {
	return &BuildService{store: store, broadcaster: broadcaster, logger: logging.OrNop(logger)}
}

// CreateBuildRequest is the POST /builds body.
type CreateBuildRequest struct {
	Description string   `json:"description"`
	CommitHash  string   `json:"commit_hash"`
	RootTaskIDs []string `json:"root_task_ids"`
}

// BuildWithStatus is a build plus its derived status for read endpoints.
type BuildWithStatus struct {
	domain.Build
	domain.StatusInfo
}

// CreateBuild creates the build record with a generated name and appends
// BUILD_STARTED, so a build is observable as running from the moment the SDK
// gets its id back.
func (s *BuildService) CreateBuild(ctx context.Context, environmentID string, userID *string, req CreateBuildRequest) (BuildWithStatus, error) {
	build, err := s.store.InsertBuild(ctx, domain.Build{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		UserID:        userID,
		Name:          namegen.Generate(),
		Description:   req.Description,
		CommitHash:    req.CommitHash,
		RootTaskIDs:   req.RootTaskIDs,
	})
	if err != nil {
		return BuildWithStatus{}, err
	}
	ev, err := s.appendEvent(ctx, domain.Event{
		BuildID: build.ID,
		Type:    domain.EventBuildStarted,
	})
	if err != nil {
		return BuildWithStatus{}, err
	}
	started := ev.CreatedAt
	return BuildWithStatus{
		Build:      build,
		StatusInfo: domain.StatusInfo{Status: domain.StatusRunning, StartedAt: &started},
	}, nil
}

// GetBuild returns one build with derived status, after checking it belongs
// to the caller's environment.
func (s *BuildService) GetBuild(ctx context.Context, environmentID, buildID string) (BuildWithStatus, error) {
	build, err := s.ownedBuild(ctx, environmentID, buildID)
	if err != nil {
		return BuildWithStatus{}, err
	}
	status, err := s.store.BuildStatus(ctx, buildID)
	if err != nil {
		return BuildWithStatus{}, err
	}
	return BuildWithStatus{Build: build, StatusInfo: status}, nil
}

// ListBuilds returns the environment's builds, newest first, with derived
// statuses.
func (s *BuildService) ListBuilds(ctx context.Context, environmentID string, limit, offset int) ([]BuildWithStatus, error) {
	builds, err := s.store.ListBuilds(ctx, environmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]BuildWithStatus, 0, len(builds))
	for _, b := range builds {
		status, err := s.store.BuildStatus(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BuildWithStatus{Build: b, StatusInfo: status})
	}
	return out, nil
}

// CompleteBuild appends BUILD_COMPLETED.
func (s *BuildService) CompleteBuild(ctx context.Context, environmentID, buildID string) error {
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return err
	}
	_, err := s.appendEvent(ctx, domain.Event{BuildID: buildID, Type: domain.EventBuildCompleted})
	return err
}

// FailBuild appends BUILD_FAILED with the given message.
func (s *BuildService) FailBuild(ctx context.Context, environmentID, buildID, errorMessage string) error {
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return err
	}
	_, err := s.appendEvent(ctx, domain.Event{
		BuildID:      buildID,
		Type:         domain.EventBuildFailed,
		ErrorMessage: errorMessage,
	})
	return err
}

// RegisterTaskRequest is the POST /builds/{b}/tasks body.
type RegisterTaskRequest struct {
	TaskID          string          `json:"task_id"`
	Namespace       string          `json:"namespace"`
	Name            string          `json:"name"`
	Params          json.RawMessage `json:"params"`
	Version         *string         `json:"version,omitempty"`
	UpstreamTaskIDs []string        `json:"upstream_task_ids,omitempty"`
}

// RegisterTask deduplicates the task within the environment, appends a
// TASK_PENDING event for this build, and records dependency edges.
func (s *BuildService) RegisterTask(ctx context.Context, environmentID, buildID string, req RegisterTaskRequest) (domain.Task, error) {
	if req.TaskID == "" || req.Name == "" {
		return domain.Task{}, fmt.Errorf("%w: task_id and name are required", domain.ErrValidation)
	}
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return domain.Task{}, err
	}
	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	task, err := s.store.RegisterTask(ctx, domain.Task{
		TaskID:        req.TaskID,
		EnvironmentID: environmentID,
		Namespace:     req.Namespace,
		Name:          req.Name,
		Params:        params,
		Version:       req.Version,
	}, buildID, uuid.NewString(), req.UpstreamTaskIDs)
	if err != nil {
		return domain.Task{}, err
	}
	if s.broadcaster != nil {
		s.broadcaster.Publish(domain.Event{
			ID:        uuid.NewString(),
			BuildID:   buildID,
			TaskID:    task.TaskID,
			Type:      domain.EventTaskPending,
			CreatedAt: time.Now(),
		})
	}
	return task, nil
}

// TaskWithStatus is a task plus its derived status within one build.
type TaskWithStatus struct {
	domain.Task
	domain.StatusInfo
}

// ListBuildTasks returns every task the build has touched with its derived
// status, computed in a single pass over the build's events.
func (s *BuildService) ListBuildTasks(ctx context.Context, environmentID, buildID string) ([]TaskWithStatus, error) {
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return nil, err
	}
	statuses, err := s.store.BuildTaskStatuses(ctx, buildID)
	if err != nil {
		return nil, err
	}
	pks := make([]int64, 0, len(statuses))
	for pk := range statuses {
		pks = append(pks, pk)
	}
	tasks, err := s.store.ListTasksByPKs(ctx, pks)
	if err != nil {
		return nil, err
	}
	out := make([]TaskWithStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskWithStatus{Task: t, StatusInfo: statuses[t.PK]})
	}
	return out, nil
}

// AppendTaskEvent records a start/complete/fail transition reported by the
// SDK.
func (s *BuildService) AppendTaskEvent(ctx context.Context, environmentID, buildID, taskID string, eventType domain.EventType, errorMessage string) error {
	if eventType.BuildScoped() || !eventType.Valid() {
		return fmt.Errorf("%w: %s is not a task event", domain.ErrValidation, eventType)
	}
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return err
	}
	task, err := s.store.GetTaskByTaskID(ctx, environmentID, taskID)
	if err != nil {
		return err
	}
	_, err = s.appendEvent(ctx, domain.Event{
		BuildID:      buildID,
		TaskPK:       &task.PK,
		TaskID:       task.TaskID,
		Type:         eventType,
		ErrorMessage: errorMessage,
	})
	return err
}

// AssetUpload is one asset in the POST assets body.
type AssetUpload struct {
	AssetType string          `json:"asset_type"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body"`
}

// UploadAssets attaches artifacts to a task.
func (s *BuildService) UploadAssets(ctx context.Context, environmentID, taskID string, uploads []AssetUpload) error {
	task, err := s.store.GetTaskByTaskID(ctx, environmentID, taskID)
	if err != nil {
		return err
	}
	assets := make([]domain.TaskRegistryAsset, 0, len(uploads))
	for _, u := range uploads {
		if u.AssetType == "" || u.Name == "" {
			return fmt.Errorf("%w: asset_type and name are required", domain.ErrValidation)
		}
		assets = append(assets, domain.TaskRegistryAsset{
			ID:        uuid.NewString(),
			TaskPK:    task.PK,
			AssetType: u.AssetType,
			Name:      u.Name,
			Body:      u.Body,
		})
	}
	return s.store.InsertAssets(ctx, assets)
}

// ListAssets returns the assets of a task.
func (s *BuildService) ListAssets(ctx context.Context, environmentID, taskID string) ([]domain.TaskRegistryAsset, error) {
	task, err := s.store.GetTaskByTaskID(ctx, environmentID, taskID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAssets(ctx, task.PK)
}

// ListEvents returns a build's chronological event list.
func (s *BuildService) ListEvents(ctx context.Context, environmentID, buildID string) ([]domain.Event, error) {
	if _, err := s.ownedBuild(ctx, environmentID, buildID); err != nil {
		return nil, err
	}
	return s.store.ListBuildEvents(ctx, buildID)
}

// GraphNode is one task in a build graph response.
type GraphNode struct {
	TaskID    string        `json:"task_id"`
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	Status    domain.Status `json:"status"`
}

// GraphEdge is a dependency edge between two graph nodes.
type GraphEdge struct {
	Upstream   string `json:"upstream"`
	Downstream string `json:"downstream"`
}

// Graph is the GET /builds/{b}/graph response.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildGraph reconstructs the task graph of one build: nodes are the tasks
// its events touched, edges the dependency rows between them.
func (s *BuildService) BuildGraph(ctx context.Context, environmentID, buildID string) (Graph, error) {
	tasks, err := s.ListBuildTasks(ctx, environmentID, buildID)
	if err != nil {
		return Graph{}, err
	}
	byPK := make(map[int64]string, len(tasks))
	pks := make([]int64, 0, len(tasks))
	graph := Graph{Nodes: make([]GraphNode, 0, len(tasks)), Edges: []GraphEdge{}}
	for _, t := range tasks {
		byPK[t.PK] = t.TaskID
		pks = append(pks, t.PK)
		graph.Nodes = append(graph.Nodes, GraphNode{
			TaskID:    t.TaskID,
			Namespace: t.Namespace,
			Name:      t.Name,
			Status:    t.Status,
		})
	}
	deps, err := s.store.ListDependenciesAmong(ctx, pks)
	if err != nil {
		return Graph{}, err
	}
	for _, dep := range deps {
		graph.Edges = append(graph.Edges, GraphEdge{
			Upstream:   byPK[dep.UpstreamPK],
			Downstream: byPK[dep.DownstreamPK],
		})
	}
	return graph, nil
}

// GetTask returns one task by its content hash.
func (s *BuildService) GetTask(ctx context.Context, environmentID, taskID string) (domain.Task, error) {
	return s.store.GetTaskByTaskID(ctx, environmentID, taskID)
}

// ListTasks returns the environment's tasks, paged.
func (s *BuildService) ListTasks(ctx context.Context, environmentID string, limit, offset int) ([]domain.Task, error) {
	return s.store.ListTasks(ctx, environmentID, limit, offset)
}

func (s *BuildService) ownedBuild(ctx context.Context, environmentID, buildID string) (domain.Build, error) {
	build, err := s.store.GetBuild(ctx, buildID)
	if err != nil {
		return domain.Build{}, err
	}
	if build.EnvironmentID != environmentID {
		// Builds outside the caller's environment are invisible, not
		// forbidden.
		return domain.Build{}, fmt.Errorf("build %s: %w", buildID, domain.ErrNotFound)
	}
	return build, nil
}

func (s *BuildService) appendEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	ev.ID = uuid.NewString()
	created, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return domain.Event{}, err
	}
	created.TaskID = ev.TaskID
	if s.broadcaster != nil {
		s.broadcaster.Publish(created)
	}
	return created, nil
}
