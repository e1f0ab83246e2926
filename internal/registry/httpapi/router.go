// Package httpapi mounts the registry's HTTP surface: the environment-scoped
// SDK API, the user-facing UI API, and the auth exchange endpoint.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/auth"
	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/lock"
	"github.com/stardag/stardag/internal/registry/observability"
	"github.com/stardag/stardag/internal/registry/search"
	"github.com/stardag/stardag/internal/registry/service"
)

// SearchStore is the store slice the search endpoints need beyond the
// suggester.
type SearchStore interface {
	SearchTasks(ctx context.Context, q search.Query) ([]search.Result, error)
	ListTargetRoots(ctx context.Context, environmentID string) ([]domain.TargetRoot, error)
}

// Config carries the listener settings plus the OIDC coordinates the server
// advertises to clients on /auth/config.
type Config struct {
	ListenAddr   string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	OIDCIssuerURL string
	OIDCClientID  string
}

// Deps bundles everything the router serves.
type Deps struct {
	Auth        *auth.Service
	Builds      *service.BuildService
	Workspaces  *service.WorkspaceService
	Locks       *lock.Service
	Suggester   *search.Suggester
	SearchStore SearchStore
	Broadcaster *service.EventBroadcaster
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Logger      logging.Logger
}

// Server is the registry HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	auth        *auth.Service
	builds      *service.BuildService
	workspaces  *service.WorkspaceService
	locks       *lock.Service
	suggester   *search.Suggester
	searchStore SearchStore
	broadcaster *service.EventBroadcaster
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      logging.Logger

	oidcIssuerURL string
	oidcClientID  string
}

// New builds the server and mounts every route.
func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	s := &Server{
		engine:      engine,
		auth:        deps.Auth,
		builds:      deps.Builds,
		workspaces:  deps.Workspaces,
		locks:       deps.Locks,
		suggester:   deps.Suggester,
		searchStore: deps.SearchStore,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      logging.OrNop(deps.Logger),

		oidcIssuerURL: cfg.OIDCIssuerURL,
		oidcClientID:  cfg.OIDCClientID,
	}

	engine.Use(gin.Recovery())
	engine.Use(s.requestTrace())
	engine.Use(s.requestMetrics())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", environmentHeader}
	engine.Use(cors.New(corsConfig))

	s.routes()

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	// SSE streams hold the response open; the write timeout must not cut
	// them off.
	writeTimeout := cfg.WriteTimeout

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api/v1")

	api.GET("/health", s.handleHealth)
	api.GET("/healthz", s.handleHealth)
	api.GET("/auth/config", s.handleAuthConfig)
	api.POST("/auth/exchange", s.handleExchange)

	sdk := api.Group("", s.sdkAuth())
	{
		sdk.POST("/builds", s.handleCreateBuild)
		sdk.GET("/builds", s.handleListBuilds)
		sdk.GET("/builds/:id", s.handleGetBuild)
		sdk.POST("/builds/:id/complete", s.handleCompleteBuild)
		sdk.POST("/builds/:id/fail", s.handleFailBuild)
		sdk.GET("/builds/:id/tasks", s.handleListBuildTasks)
		sdk.POST("/builds/:id/tasks", s.handleRegisterTask)
		sdk.POST("/builds/:id/tasks/:task_id/events", s.handleTaskEvent)
		sdk.POST("/builds/:id/tasks/:task_id/start", s.taskTransition(domain.EventTaskStarted))
		sdk.POST("/builds/:id/tasks/:task_id/complete", s.taskTransition(domain.EventTaskCompleted))
		sdk.POST("/builds/:id/tasks/:task_id/fail", s.taskTransition(domain.EventTaskFailed))
		sdk.GET("/builds/:id/events", s.handleListEvents)
		sdk.GET("/builds/:id/events/stream", s.handleStreamEvents)
		sdk.GET("/builds/:id/graph", s.handleBuildGraph)

		sdk.GET("/tasks", s.handleListTasks)
		sdk.GET("/tasks/:task_id", s.handleGetTask)
		sdk.GET("/tasks/:task_id/completed", s.handleTaskCompleted)
		sdk.GET("/tasks/:task_id/assets", s.handleListAssets)
		sdk.POST("/tasks/:task_id/assets", s.handleUploadAssets)

		sdk.GET("/target-roots", s.handleSDKTargetRoots)

		sdk.POST("/locks/acquire", s.handleAcquireLock)
		sdk.POST("/locks/renew", s.handleRenewLock)
		sdk.POST("/locks/release", s.handleReleaseLock)
		sdk.POST("/locks/:name/acquire", s.handleAcquireLockNamed)
		sdk.POST("/locks/:name/renew", s.handleRenewLockNamed)
		sdk.POST("/locks/:name/release", s.handleReleaseLockNamed)
		sdk.GET("/locks", s.handleListLocks)
		sdk.GET("/locks/:name", s.handleGetLock)
		sdk.GET("/locks/tasks/:task_id/completion-status", s.handleLockCompletionStatus)

		sdk.GET("/search/tasks", s.handleSearchTasks)
		sdk.GET("/search/columns", s.handleSearchColumns)
		sdk.GET("/search/suggest/keys", s.handleSuggestKeys)
		sdk.GET("/search/suggest/values", s.handleSuggestValues)
		sdk.GET("/tasks/search", s.handleSearchTasks)
		sdk.GET("/tasks/search/columns", s.handleSearchColumns)
		sdk.GET("/tasks/search/keys", s.handleSuggestKeys)
		sdk.GET("/tasks/search/values", s.handleSuggestValues)
	}

	// The bootstrap routes accept a raw OIDC token: a fresh login has no
	// workspace to exchange into yet, but still needs to see its profile,
	// answer invites, and create a first workspace.
	bootstrap := api.Group("/ui", s.bootstrapAuth())
	{
		bootstrap.GET("/me", s.handleMe)
		bootstrap.GET("/me/invites", s.handleMyInvites)
		bootstrap.POST("/workspaces", s.handleCreateWorkspace)
		bootstrap.POST("/invites/:id/accept", s.handleAcceptInvite)
		bootstrap.POST("/invites/:id/decline", s.handleDeclineInvite)
	}

	ui := api.Group("/ui", s.uiAuth())
	{
		ui.GET("/workspaces/:id", s.handleGetWorkspace)
		ui.PATCH("/workspaces/:id", s.handleUpdateWorkspace)
		ui.DELETE("/workspaces/:id", s.handleDeleteWorkspace)

		ui.GET("/workspaces/:id/environments", s.handleListEnvironments)
		ui.POST("/workspaces/:id/environments", s.handleCreateEnvironment)
		ui.DELETE("/workspaces/:id/environments/:env_id", s.handleDeleteEnvironment)

		ui.GET("/workspaces/:id/members", s.handleListMembers)
		ui.PATCH("/workspaces/:id/members/:user_id", s.handleUpdateMemberRole)
		ui.DELETE("/workspaces/:id/members/:user_id", s.handleRemoveMember)

		ui.GET("/workspaces/:id/invites", s.handleListInvites)
		ui.POST("/workspaces/:id/invites", s.handleCreateInvite)
		ui.DELETE("/invites/:id", s.handleCancelInvite)

		ui.GET("/workspaces/:id/environments/:env_id/api-keys", s.handleListAPIKeys)
		ui.POST("/workspaces/:id/environments/:env_id/api-keys", s.handleCreateAPIKey)
		ui.DELETE("/workspaces/:id/environments/:env_id/api-keys/:key_id", s.handleRevokeAPIKey)

		ui.GET("/workspaces/:id/environments/:env_id/target-roots", s.handleListTargetRoots)
		ui.POST("/workspaces/:id/environments/:env_id/target-roots", s.handleCreateTargetRoot)
		ui.PATCH("/workspaces/:id/environments/:env_id/target-roots/:root_id", s.handleUpdateTargetRoot)
		ui.DELETE("/workspaces/:id/environments/:env_id/target-roots/:root_id", s.handleDeleteTargetRoot)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.logger.Info("registry listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
