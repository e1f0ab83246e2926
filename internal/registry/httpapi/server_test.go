package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/auth"
	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/lock"
	"github.com/stardag/stardag/internal/registry/search"
	"github.com/stardag/stardag/internal/registry/service"
	"github.com/stardag/stardag/internal/registry/store"
)

// fakeAuthStore backs the auth service with fixed rows.
type fakeAuthStore struct {
	environments map[string]domain.Environment
}

func (f *fakeAuthStore) UpsertUserByExternalID(_ context.Context, id, externalID, email, displayName string) (domain.User, error) {
	return domain.User{ID: id, ExternalID: externalID, Email: email}, nil
}

func (f *fakeAuthStore) GetUser(_ context.Context, id string) (domain.User, error) {
	return domain.User{ID: id}, nil
}

func (f *fakeAuthStore) GetWorkspace(_ context.Context, id string) (domain.Workspace, error) {
	return domain.Workspace{ID: id, OrganizationID: "org-1"}, nil
}

func (f *fakeAuthStore) GetEnvironment(_ context.Context, id string) (domain.Environment, error) {
	env, ok := f.environments[id]
	if !ok {
		return domain.Environment{}, domain.ErrNotFound
	}
	return env, nil
}

func (f *fakeAuthStore) GetMemberRole(context.Context, string, string) (domain.Role, error) {
	return domain.RoleOwner, nil
}

func (f *fakeAuthStore) FindActiveAPIKeysByPrefix(context.Context, string) ([]domain.APIKey, error) {
	return nil, nil
}

func (f *fakeAuthStore) TouchAPIKey(context.Context, string, time.Time) error { return nil }

type fakeSearchStore struct {
	results []search.Result
	roots   []domain.TargetRoot
	lastSQL string
}

func (f *fakeSearchStore) SearchTasks(_ context.Context, q search.Query) ([]search.Result, error) {
	f.lastSQL = q.SQL
	return f.results, nil
}

func (f *fakeSearchStore) ListTargetRoots(context.Context, string) ([]domain.TargetRoot, error) {
	return f.roots, nil
}

type fakeSuggestSampler struct{}

func (fakeSuggestSampler) SampleRecentTaskParams(context.Context, string, int) ([]json.RawMessage, error) {
	return []json.RawMessage{[]byte(`{"seed": 1}`)}, nil
}

func (fakeSuggestSampler) TopCoreValues(context.Context, string, string, int) ([]string, error) {
	return []string{"train"}, nil
}

// memBuildStore is a map-backed service.BuildStore.
type memBuildStore struct {
	builds map[string]domain.Build
	tasks  map[string]domain.Task
	nextPK int64
	events []domain.Event
	edges  []domain.TaskDependency
	assets []domain.TaskRegistryAsset
}

func newMemBuildStore() *memBuildStore {
	return &memBuildStore{builds: map[string]domain.Build{}, tasks: map[string]domain.Task{}}
}

func (m *memBuildStore) InsertBuild(_ context.Context, b domain.Build) (domain.Build, error) {
	b.CreatedAt = time.Now()
	m.builds[b.ID] = b
	return b, nil
}

func (m *memBuildStore) GetBuild(_ context.Context, id string) (domain.Build, error) {
	b, ok := m.builds[id]
	if !ok {
		return domain.Build{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBuildStore) ListBuilds(_ context.Context, envID string, _, _ int) ([]domain.Build, error) {
	var out []domain.Build
	for _, b := range m.builds {
		if b.EnvironmentID == envID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBuildStore) AppendEvent(_ context.Context, ev domain.Event) (domain.Event, error) {
	ev.CreatedAt = time.Now()
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memBuildStore) ListBuildEvents(_ context.Context, buildID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range m.events {
		if ev.BuildID == buildID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memBuildStore) BuildTaskStatuses(_ context.Context, buildID string) (map[int64]domain.StatusInfo, error) {
	byTask := map[int64][]domain.Event{}
	for _, ev := range m.events {
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

func (m *memBuildStore) BuildStatus(_ context.Context, buildID string) (domain.StatusInfo, error) {
	var evs []domain.Event
	for _, ev := range m.events {
		if ev.BuildID == buildID && ev.TaskPK == nil {
			evs = append(evs, ev)
		}
	}
	return domain.DeriveBuildStatus(evs), nil
}

func (m *memBuildStore) RegisterTask(_ context.Context, task domain.Task, buildID, eventID string, upstreamTaskIDs []string) (domain.Task, error) {
	key := task.EnvironmentID + "/" + task.TaskID
	if existing, ok := m.tasks[key]; ok {
		task = existing
	} else {
		m.nextPK++
		task.PK = m.nextPK
		task.CreatedAt = time.Now()
		m.tasks[key] = task
	}
	pk := task.PK
	m.events = append(m.events, domain.Event{
		ID: eventID, BuildID: buildID, TaskPK: &pk, TaskID: task.TaskID,
		Type: domain.EventTaskPending, CreatedAt: time.Now(),
	})
	for _, up := range upstreamTaskIDs {
		if upTask, ok := m.tasks[task.EnvironmentID+"/"+up]; ok {
			m.edges = append(m.edges, domain.TaskDependency{UpstreamPK: upTask.PK, DownstreamPK: task.PK})
		}
	}
	return task, nil
}

func (m *memBuildStore) GetTaskByTaskID(_ context.Context, envID, taskID string) (domain.Task, error) {
	t, ok := m.tasks[envID+"/"+taskID]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memBuildStore) ListTasks(_ context.Context, envID string, _, _ int) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range m.tasks {
		if t.EnvironmentID == envID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memBuildStore) ListTasksByPKs(_ context.Context, pks []int64) ([]domain.Task, error) {
	want := map[int64]bool{}
	for _, pk := range pks {
		want[pk] = true
	}
	var out []domain.Task
	for _, t := range m.tasks {
		if want[t.PK] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memBuildStore) ListDependenciesAmong(_ context.Context, pks []int64) ([]domain.TaskDependency, error) {
	want := map[int64]bool{}
	for _, pk := range pks {
		want[pk] = true
	}
	var out []domain.TaskDependency
	for _, e := range m.edges {
		if want[e.UpstreamPK] && want[e.DownstreamPK] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memBuildStore) InsertAssets(_ context.Context, assets []domain.TaskRegistryAsset) error {
	m.assets = append(m.assets, assets...)
	return nil
}

func (m *memBuildStore) ListAssets(_ context.Context, taskPK int64) ([]domain.TaskRegistryAsset, error) {
	var out []domain.TaskRegistryAsset
	for _, a := range m.assets {
		if a.TaskPK == taskPK {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeWorkspaceStore backs the workspace service for UI-route tests. The
// embedded interface leaves methods these tests never reach unimplemented.
type fakeWorkspaceStore struct {
	service.AdminStore
}

func (f *fakeWorkspaceStore) GetUser(_ context.Context, id string) (domain.User, error) {
	return domain.User{ID: id, Email: "dev@example.com"}, nil
}

func (f *fakeWorkspaceStore) ListWorkspacesForUser(context.Context, string) ([]store.WorkspaceWithRole, error) {
	return []store.WorkspaceWithRole{{
		Workspace: domain.Workspace{ID: "ws-1", OrganizationID: "org-1", Slug: "main"},
		Role:      domain.RoleOwner,
	}}, nil
}

func (f *fakeWorkspaceStore) ListPendingInvitesByEmail(_ context.Context, email string, _ time.Time) ([]domain.Invite, error) {
	return []domain.Invite{{ID: "inv-1", OrganizationID: "org-1", Email: email, Status: domain.InvitePending}}, nil
}

func (f *fakeWorkspaceStore) GetOrganization(_ context.Context, id string) (domain.Organization, error) {
	return domain.Organization{ID: id, Name: "Acme Data"}, nil
}

func (f *fakeWorkspaceStore) GetWorkspace(_ context.Context, id string) (domain.Workspace, error) {
	return domain.Workspace{ID: id, OrganizationID: "org-1"}, nil
}

func (f *fakeWorkspaceStore) GetMemberRole(context.Context, string, string) (domain.Role, error) {
	return domain.RoleOwner, nil
}

// oidcStub is a minimal OIDC issuer: a well-known document, a JWKS
// endpoint, and an RS256 signer for ID tokens the verifier will accept.
type oidcStub struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newOIDCStub(t *testing.T) *oidcStub {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	stub := &oidcStub{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": stub.server.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": "kid-1",
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (o *oidcStub) issuer() string { return o.server.URL }

func (o *oidcStub) token(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   o.server.URL,
		"aud":   "stardag",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"sub":   "ext-user-1",
		"email": "dev@example.com",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(o.key)
	require.NoError(t, err)
	return signed
}

// newTestEnv wires the router with in-memory stores, one environment env-1
// in workspace ws-1, and a stub OIDC issuer. It returns the server, the
// issuer stub, and a valid internal token.
func newTestEnv(t *testing.T) (*Server, *oidcStub, string) {
	t.Helper()
	stub := newOIDCStub(t)
	internal := auth.NewInternalTokens("test-secret", "stardag-test", 5*time.Minute)
	authStore := &fakeAuthStore{environments: map[string]domain.Environment{
		"env-1":     {ID: "env-1", WorkspaceID: "ws-1"},
		"env-other": {ID: "env-other", WorkspaceID: "ws-2"},
	}}
	verifier := auth.NewOIDCVerifier(stub.issuer(), "stardag", stub.server.Client(), logging.Nop())
	authSvc := auth.NewService(authStore, verifier, internal, logging.Nop())

	broadcaster := service.NewEventBroadcaster(logging.Nop())
	builds := service.NewBuildService(newMemBuildStore(), broadcaster, logging.Nop())
	workspaces := service.NewWorkspaceService(&fakeWorkspaceStore{}, logging.Nop())

	srv := New(Config{
		Debug:         true,
		OIDCIssuerURL: stub.issuer(),
		OIDCClientID:  "stardag-cli",
	}, Deps{
		Auth:        authSvc,
		Builds:      builds,
		Workspaces:  workspaces,
		Locks:       lock.New(nil, logging.Nop()),
		Broadcaster: broadcaster,
		Suggester:   search.NewSuggester(fakeSuggestSampler{}, time.Minute, logging.Nop()),
		SearchStore: &fakeSearchStore{},
		Logger:      logging.Nop(),
	})

	token, _, err := internal.Mint("user-1", "ws-1")
	require.NoError(t, err)
	return srv, stub, token
}

func newTestServer(t *testing.T) (*Server, string) {
	srv, _, token := newTestEnv(t)
	return srv, token
}

func doJSON(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(environmentHeader, "env-1")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSDKRequiresCredential(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/builds", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenIsDistinct(t *testing.T) {
	srv, _ := newTestServer(t)
	expired := auth.NewInternalTokens("test-secret", "stardag-test", -time.Minute)
	token, _, err := expired.Mint("user-1", "ws-1")
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/builds", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_expired")
}

func TestEnvironmentOutsideWorkspaceForbidden(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(environmentHeader, "env-other")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBuildFlow(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/builds", token, `{"description": "nightly"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "running", created.Status)
	assert.NotEmpty(t, created.Name)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks", token,
		`{"task_id": "abc123", "name": "extract", "params": {"day": "2026-08-26"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks/abc123/events", token,
		`{"event_type": "TASK_STARTED"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks/abc123/events", token,
		`{"event_type": "TASK_FAILED", "error_message": "oom"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds/"+created.ID+"/graph", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var graph struct {
		Nodes []struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &graph))
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, "failed", graph.Nodes[0].Status)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/fail", token,
		`{"error_message": "task failed"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds/"+created.ID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed"`)
}

func TestUnknownBuildIs404(t *testing.T) {
	srv, token := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/builds/nope", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestMalformedBodyIs422(t *testing.T) {
	srv, token := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/builds", token, `{"description": `)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed_body")
}

func TestSearchFilterValidation(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/search/tasks?filters=bogus_key:x", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/search/tasks?filters=task_name:extract", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/search/columns", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "task_id")
}

func TestSuggestEndpoints(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/search/suggest/keys?prefix=param.", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "param.seed")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/search/suggest/values?key=status", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/search/suggest/values", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExchangeRequiresOIDC(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/auth/exchange", "", `{"workspace_id": "ws-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthConfigIsPublic(t *testing.T) {
	srv, stub, _ := newTestEnv(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/auth/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Issuer   string `json:"oidc_issuer"`
		ClientID string `json:"oidc_client_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, stub.issuer(), body.Issuer)
	assert.Equal(t, "stardag-cli", body.ClientID)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskTransitionEndpoints(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/builds", token, `{"description": "transitions"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	for _, taskID := range []string{"good1", "bad1"} {
		rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks", token,
			`{"task_id": "`+taskID+`", "name": "step"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks/good1/start", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks/good1/complete", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/tasks/bad1/start", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, srv, http.MethodPost,
		"/api/v1/builds/"+created.ID+"/tasks/bad1/fail?error_message=oom", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds/"+created.ID+"/graph", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var graph struct {
		Nodes []struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &graph))
	statuses := map[string]string{}
	for _, n := range graph.Nodes {
		statuses[n.TaskID] = n.Status
	}
	assert.Equal(t, "completed", statuses["good1"])
	assert.Equal(t, "failed", statuses["bad1"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds/"+created.ID+"/events", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oom")
}

func TestFailBuildMessageInQuery(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/builds", token, `{"description": "doomed"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/builds/"+created.ID+"/fail?error_message=boom", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/builds/"+created.ID+"/events", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
	assert.Contains(t, rec.Body.String(), "BUILD_FAILED")
}

func TestSearchAliasRoutes(t *testing.T) {
	srv, token := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/tasks/search?filters=task_name:extract", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/search/columns", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "task_id")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/search/keys?prefix=param.", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "param.seed")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/search/values?key=status", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
}

func TestLockAliasRoutes(t *testing.T) {
	srv, token := newTestServer(t)

	// Path-addressed forms bind the name from the URL; a zero TTL is
	// rejected after that binding, before any storage access.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/locks/job-1/acquire", token, `{"owner_id": "o1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ttl")

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/locks/job-1/renew", token, `{"owner_id": "o1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ttl")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/locks/tasks/job-1/completion-status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUIRoutesRequireExchangedToken(t *testing.T) {
	srv, stub, internalToken := newTestEnv(t)
	oidcToken := stub.token(t)

	// Pre-exchange routes accept the raw OIDC token.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/ui/me", oidcToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "dev@example.com")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/ui/me/invites", oidcToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Acme Data")

	// Workspace management needs an exchanged token; the same OIDC token is
	// rejected there.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/ui/workspaces/ws-1", oidcToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/ui/workspaces/ws-1", internalToken, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
