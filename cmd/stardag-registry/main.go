// Command stardag-registry runs the Stardag registry server: the HTTP API,
// the distributed lock service, the janitor, and the metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/auth"
	"github.com/stardag/stardag/internal/registry/httpapi"
	"github.com/stardag/stardag/internal/registry/janitor"
	"github.com/stardag/stardag/internal/registry/lock"
	"github.com/stardag/stardag/internal/registry/observability"
	"github.com/stardag/stardag/internal/registry/search"
	"github.com/stardag/stardag/internal/registry/serverconfig"
	"github.com/stardag/stardag/internal/registry/service"
	"github.com/stardag/stardag/internal/registry/store"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	logger := logging.NewComponentLogger("Main")

	cfg, err := serverconfig.Load(*configPath)
	if err != nil {
		logger.Error("load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database: %v", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("ping database: %v", err)
		os.Exit(1)
	}

	st := store.New(pool, logging.NewComponentLogger("Store"))
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema: %v", err)
		os.Exit(1)
	}
	if cfg.Seed {
		if err := st.Seed(ctx); err != nil {
			logger.Error("seed: %v", err)
			os.Exit(1)
		}
		logger.Info("development seed applied")
	}

	metrics, err := observability.New(observability.Config{
		Enabled:        cfg.Metrics.Enabled,
		PrometheusPort: cfg.Metrics.PrometheusPort,
	}, logging.NewComponentLogger("Metrics"))
	if err != nil {
		logger.Error("init metrics: %v", err)
		os.Exit(1)
	}

	tracer, err := observability.NewTracer(observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Error("init tracing: %v", err)
		os.Exit(1)
	}

	var oidc *auth.OIDCVerifier
	if cfg.OIDC.IssuerURL != "" {
		oidc = auth.NewOIDCVerifier(cfg.OIDC.IssuerURL, cfg.OIDC.Audience,
			http.DefaultClient, logging.NewComponentLogger("OIDC"))
	} else {
		logger.Warn("no OIDC issuer configured; only API keys and internal tokens will authenticate")
	}
	internalTokens := auth.NewInternalTokens(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
	authSvc := auth.NewService(st, oidc, internalTokens, logging.NewComponentLogger("Auth"))

	broadcaster := service.NewEventBroadcaster(logging.NewComponentLogger("Broadcaster"))
	buildSvc := service.NewBuildService(st, broadcaster, logging.NewComponentLogger("Builds"))
	workspaceSvc := service.NewWorkspaceService(st, logging.NewComponentLogger("Workspaces"))
	lockSvc := lock.New(pool, logging.NewComponentLogger("Locks"))
	suggester := search.NewSuggester(st, cfg.SuggestTTL, logging.NewComponentLogger("Suggest"))

	jan := janitor.New(janitor.Config{
		Enabled:   cfg.Janitor.Enabled,
		Schedule:  cfg.Janitor.Schedule,
		LockGrace: cfg.Janitor.LockGrace,
	}, lockSvc, st, metrics, logging.NewComponentLogger("Janitor"))
	if err := jan.Start(); err != nil {
		logger.Error("start janitor: %v", err)
		os.Exit(1)
	}

	server := httpapi.New(httpapi.Config{
		ListenAddr:    cfg.ListenAddr,
		Debug:         cfg.Debug,
		OIDCIssuerURL: cfg.OIDC.IssuerURL,
		OIDCClientID:  cfg.OIDC.ClientID,
	}, httpapi.Deps{
		Auth:        authSvc,
		Builds:      buildSvc,
		Workspaces:  workspaceSvc,
		Locks:       lockSvc,
		Suggester:   suggester,
		SearchStore: st,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Tracer:      tracer,
		Logger:      logging.NewComponentLogger("HTTP"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	jan.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http server: %v", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown metrics: %v", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown tracing: %v", err)
	}
	logger.Info("registry stopped")
}
