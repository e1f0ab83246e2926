package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

type fakeBuildStore struct {
	builds map[string]domain.Build
	tasks  map[string]domain.Task
	nextPK int64
	events []domain.Event
	edges  []domain.TaskDependency
	assets []domain.TaskRegistryAsset
}

func newFakeBuildStore() *fakeBuildStore {
	return &fakeBuildStore{
		builds: map[string]domain.Build{},
		tasks:  map[string]domain.Task{},
	}
}

func (f *fakeBuildStore) InsertBuild(_ context.Context, b domain.Build) (domain.Build, error) {
	b.CreatedAt = time.Now()
	f.builds[b.ID] = b
	return b, nil
}

func (f *fakeBuildStore) GetBuild(_ context.Context, id string) (domain.Build, error) {
	b, ok := f.builds[id]
	if !ok {
		return domain.Build{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBuildStore) ListBuilds(_ context.Context, envID string, limit, offset int) ([]domain.Build, error) {
	var out []domain.Build
	for _, b := range f.builds {
		if b.EnvironmentID == envID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) AppendEvent(_ context.Context, ev domain.Event) (domain.Event, error) {
	ev.CreatedAt = time.Now()
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeBuildStore) ListBuildEvents(_ context.Context, buildID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range f.events {
		if ev.BuildID == buildID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) BuildTaskStatuses(_ context.Context, buildID string) (map[int64]domain.StatusInfo, error) {
	byTask := map[int64][]domain.Event{}
	for _, ev := range f.events {
		if ev.BuildID == buildID && ev.TaskPK != nil {
			byTask[*ev.TaskPK] = append(byTask[*ev.TaskPK], ev)
		}
	}
	out := map[int64]domain.StatusInfo{}
	for pk, evs := range byTask {
		out[pk] = domain.DeriveTaskStatus(evs)
	}
	return out, nil
}

func (f *fakeBuildStore) BuildStatus(_ context.Context, buildID string) (domain.StatusInfo, error) {
	var evs []domain.Event
	for _, ev := range f.events {
		if ev.BuildID == buildID && ev.TaskPK == nil {
			evs = append(evs, ev)
		}
	}
	return domain.DeriveBuildStatus(evs), nil
}

func (f *fakeBuildStore) RegisterTask(_ context.Context, task domain.Task, buildID, eventID string, upstreamTaskIDs []string) (domain.Task, error) {
	key := task.EnvironmentID + "/" + task.TaskID
	existing, ok := f.tasks[key]
	if ok {
		task = existing
	} else {
		f.nextPK++
		task.PK = f.nextPK
		task.CreatedAt = time.Now()
		f.tasks[key] = task
	}
	pk := task.PK
	f.events = append(f.events, domain.Event{
		ID: eventID, BuildID: buildID, TaskPK: &pk, TaskID: task.TaskID,
		Type: domain.EventTaskPending, CreatedAt: time.Now(),
	})
	for _, up := range upstreamTaskIDs {
		if upTask, ok := f.tasks[task.EnvironmentID+"/"+up]; ok {
			f.edges = append(f.edges, domain.TaskDependency{UpstreamPK: upTask.PK, DownstreamPK: task.PK})
		}
	}
	return task, nil
}

func (f *fakeBuildStore) GetTaskByTaskID(_ context.Context, envID, taskID string) (domain.Task, error) {
	t, ok := f.tasks[envID+"/"+taskID]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeBuildStore) ListTasks(_ context.Context, envID string, limit, offset int) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range f.tasks {
		if t.EnvironmentID == envID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) ListTasksByPKs(_ context.Context, pks []int64) ([]domain.Task, error) {
	want := map[int64]bool{}
	for _, pk := range pks {
		want[pk] = true
	}
	var out []domain.Task
	for _, t := range f.tasks {
		if want[t.PK] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) ListDependenciesAmong(_ context.Context, pks []int64) ([]domain.TaskDependency, error) {
	want := map[int64]bool{}
	for _, pk := range pks {
		want[pk] = true
	}
	var out []domain.TaskDependency
	for _, e := range f.edges {
		if want[e.UpstreamPK] && want[e.DownstreamPK] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) InsertAssets(_ context.Context, assets []domain.TaskRegistryAsset) error {
	f.assets = append(f.assets, assets...)
	return nil
}

func (f *fakeBuildStore) ListAssets(_ context.Context, taskPK int64) ([]domain.TaskRegistryAsset, error) {
	var out []domain.TaskRegistryAsset
	for _, a := range f.assets {
		if a.TaskPK == taskPK {
			out = append(out, a)
		}
	}
	return out, nil
}

func newBuildService(store BuildStore) *BuildService {
	return NewBuildService(store, NewEventBroadcaster(logging.Nop()), logging.Nop())
}

func TestCreateBuildStartsRunning(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())

	build, err := svc.CreateBuild(context.Background(), "env-1", nil, CreateBuildRequest{Description: "nightly"})
	if err != nil {
		t.Fatal(err)
	}
	if build.Status != domain.StatusRunning {
		t.Errorf("new build status = %s, want running", build.Status)
	}
	if build.Name == "" || build.ID == "" {
		t.Errorf("build missing generated identifiers: %+v", build.Build)
	}

	got, err := svc.GetBuild(context.Background(), "env-1", build.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusRunning || got.StartedAt == nil {
		t.Errorf("derived status = %+v", got.StatusInfo)
	}
}

func TestBuildLifecycle(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.FailBuild(ctx, "env-1", build.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetBuild(ctx, "env-1", build.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || got.ErrorMessage != "boom" {
		t.Errorf("failed build derived as %+v", got.StatusInfo)
	}
}

func TestBuildScopedToEnvironment(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetBuild(ctx, "env-2", build.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-environment read = %v, want not found", err)
	}
	if err := svc.CompleteBuild(ctx, "env-2", build.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-environment complete = %v, want not found", err)
	}
}

func TestRegisterTaskAndGraph(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	up, err := svc.RegisterTask(ctx, "env-1", build.ID, RegisterTaskRequest{TaskID: "aaa", Name: "extract"})
	if err != nil {
		t.Fatal(err)
	}
	down, err := svc.RegisterTask(ctx, "env-1", build.ID, RegisterTaskRequest{
		TaskID: "bbb", Name: "transform", UpstreamTaskIDs: []string{"aaa"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.AppendTaskEvent(ctx, "env-1", build.ID, up.TaskID, domain.EventTaskStarted, ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.AppendTaskEvent(ctx, "env-1", build.ID, up.TaskID, domain.EventTaskCompleted, ""); err != nil {
		t.Fatal(err)
	}

	graph, err := svc.BuildGraph(ctx, "env-1", build.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Nodes) != 2 {
		t.Fatalf("graph nodes = %d, want 2", len(graph.Nodes))
	}
	statuses := map[string]domain.Status{}
	for _, n := range graph.Nodes {
		statuses[n.TaskID] = n.Status
	}
	if statuses[up.TaskID] != domain.StatusCompleted || statuses[down.TaskID] != domain.StatusPending {
		t.Errorf("node statuses = %v", statuses)
	}
	if len(graph.Edges) != 1 || graph.Edges[0].Upstream != "aaa" || graph.Edges[0].Downstream != "bbb" {
		t.Errorf("graph edges = %+v", graph.Edges)
	}
}

func TestRegisterTaskValidation(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RegisterTask(ctx, "env-1", build.ID, RegisterTaskRequest{Name: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing task_id = %v, want validation error", err)
	}
	if err := svc.AppendTaskEvent(ctx, "env-1", build.ID, "x", domain.EventBuildFailed, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("build event via task route = %v, want validation error", err)
	}
}

func TestAppendEventReachesSubscribers(t *testing.T) {
	broadcaster := NewEventBroadcaster(logging.Nop())
	svc := NewBuildService(newFakeBuildStore(), broadcaster, logging.Nop())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	ch, cancel := broadcaster.Subscribe(build.ID)
	defer cancel()

	if err := svc.CompleteBuild(ctx, "env-1", build.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		if ev.Type != domain.EventBuildCompleted {
			t.Errorf("streamed event type = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered to subscriber")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewEventBroadcaster(logging.Nop())
	_, cancel := b.Subscribe("b1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(domain.Event{ID: fmt.Sprintf("ev-%d", i), BuildID: "b1"})
	}
	if n := b.SubscriberCount(); n != 1 {
		t.Errorf("subscriber count = %d", n)
	}
}

func TestUploadAndListAssets(t *testing.T) {
	svc := newBuildService(newFakeBuildStore())
	ctx := context.Background()

	build, err := svc.CreateBuild(ctx, "env-1", nil, CreateBuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RegisterTask(ctx, "env-1", build.ID, RegisterTaskRequest{TaskID: "aaa", Name: "train"}); err != nil {
		t.Fatal(err)
	}
	err = svc.UploadAssets(ctx, "env-1", "aaa", []AssetUpload{
		{AssetType: "metrics", Name: "loss", Body: []byte(`{"final": 0.02}`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	assets, err := svc.ListAssets(ctx, "env-1", "aaa")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0].Name != "loss" {
		t.Errorf("assets = %+v", assets)
	}

	err = svc.UploadAssets(ctx, "env-1", "aaa", []AssetUpload{{Name: "missing-type"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("asset without type = %v, want validation error", err)
	}
}
