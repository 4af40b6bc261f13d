// Command vibekanban runs the workspace authorization and membership
// service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/psychon7/vibe-kanban/pkg/auth"
	"github.com/psychon7/vibe-kanban/pkg/config"
	"github.com/psychon7/vibe-kanban/pkg/middleware"
	"github.com/psychon7/vibe-kanban/pkg/notify"
	"github.com/psychon7/vibe-kanban/pkg/observability"
	"github.com/psychon7/vibe-kanban/pkg/rbac"
	"github.com/psychon7/vibe-kanban/pkg/storage"
	"github.com/psychon7/vibe-kanban/pkg/workspaces"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vibekanban: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting vibekanban")

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := rbac.Migrate(db); err != nil {
		return err
	}
	if err := workspaces.Migrate(db); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, continuing without it")
			redisClient = nil
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	tracingShutdown, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	// Catalog strategy. The join evaluator reads the catalog tables
	// through a two-tier cache; the static evaluator carries the
	// fixed tiers in code and the top of the hierarchy shifts from
	// Owner to Admin.
	var (
		evaluator rbac.Evaluator
		topRole   = rbac.RoleOwnerID
	)
	switch cfg.Authz.Strategy {
	case config.StrategyStatic:
		evaluator = rbac.NewStaticEvaluator(db)
		topRole = rbac.RoleAdminID
	default:
		cache, err := rbac.NewTwoTierCache(cfg.Authz.PermissionCacheSize, redisClient, cfg.Authz.PermissionCacheTTL)
		if err != nil {
			return err
		}
		evaluator = rbac.NewJoinEvaluator(db, cache)
	}

	var notifier notify.Notifier
	if cfg.Invitations.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Invitations.WebhookURL)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// Local mode is single-user, so the field strategy would only ever
	// compare the caller against itself.
	var ownership rbac.OwnershipChecker = rbac.AlwaysOwner{}
	if cfg.Authz.OwnershipStrategy == config.OwnershipField && !cfg.Authz.LocalMode {
		ownership = rbac.NewFieldOwner(db, map[string]string{
			"workspace": "workspaces",
		})
	}

	store := workspaces.NewSQLService(db, cfg.Storage.Driver, workspaces.SystemClock{})
	catalog := rbac.NewStore(db)
	service := workspaces.NewService(store, catalog, evaluator, notifier, logger, metrics, workspaces.ServiceConfig{
		TopRoleID:     topRole,
		InvitationTTL: cfg.Invitations.TTL,
		BaseURL:       cfg.Server.BaseURL,
		Ownership:     ownership,
	})

	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger))
	if cfg.Authz.LocalMode {
		router.Use(middleware.LocalIdentity(&auth.Principal{
			ID:    "local",
			Email: "local@localhost",
			Name:  "Local User",
		}))
	} else {
		router.Use(middleware.Identity)
	}
	if metrics != nil {
		router.Use(metrics.HTTPMiddleware(routeTemplate))
	}
	api := router.PathPrefix("/api").Subrouter()
	workspaces.NewHandlers(service, logger).RegisterRoutes(api)
	rbac.NewHandlers(catalog, logger, cfg.Authz.AllowRoleManagement).RegisterRoutes(api)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "vibekanban")
	}

	sweeper := workspaces.NewSweeper(store, logger, metrics)
	if err := sweeper.Start(cfg.Invitations.SweepSchedule); err != nil {
		return err
	}

	opsServer := startOpsServer(cfg, db, redisClient, metrics, logger)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	if metrics != nil {
		go collectDBStats(db, metrics)
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(opsServer.Shutdown)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if tracingShutdown != nil {
		shutdown.RegisterShutdownFunc(tracingShutdown)
	}
	return shutdown.WaitForShutdown()
}

// routeTemplate returns the mux route pattern for metric labels.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "unmatched"
}

func startOpsServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(db, redisClient, version))
	if metrics != nil {
		opsMux.Handle("/metrics", metrics.Handler())
	}

	opsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.OpsPort,
		Handler: opsMux,
	}
	go func() {
		logger.WithField("addr", opsServer.Addr).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("ops server failed")
		}
	}()
	return opsServer
}

func collectDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.CollectDBStats(db)
	}
}
