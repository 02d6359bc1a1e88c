package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/staffplan/internal/application"
	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/config"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/docstore/memstore"
	"github.com/example/staffplan/internal/docstore/sqlstore"
	"github.com/example/staffplan/internal/events"
	httptransport "github.com/example/staffplan/internal/http"
	"github.com/example/staffplan/internal/listeners"
	"github.com/example/staffplan/internal/locks"
	"github.com/example/staffplan/internal/obs"
	"github.com/example/staffplan/internal/presence"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, health, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	metrics := obs.New()
	metrics.SetBuildInfo(version, commit)
	bus := events.NewBus()

	manager := application.NewManager(application.Deps{
		Store:   store,
		Bus:     bus,
		Metrics: metrics,
		Now:     time.Now,
		Logger:  logger,
	}, application.ManagerConfig{
		Workspace:   workspaceConfig(cfg),
		IdleTimeout: cfg.WorkspaceIdleTimeout,
	})
	manager.Start(ctx)

	repo := availability.NewRepository(store)
	collaborators := application.NewCollaboratorService(repo, bus, time.Now, logger)
	availabilities := application.NewAvailabilityService(
		repo,
		application.RetryingSave(application.DirectSave(repo), docstore.DefaultRetryConfig()),
		bus,
		nil,
		time.Now,
		logger,
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Workspaces:     httptransport.NewWorkspaceHandler(manager, logger),
		Planning:       httptransport.NewPlanningHandler(collaborators, availabilities, logger),
		Resolver:       manager,
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		Health:         health,
		Logger:         logger,
	})

	// No WriteTimeout: the presence stream stays open.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
		manager.Shutdown(shutdownCtx)
	}()

	logger.Info("staffplan API listening", "addr", server.Addr, "store", cfg.StoreDriver, "version", version)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		manager.Shutdown(context.Background())
		return err
	}
	<-stopped
	logger.Info("staffplan API stopped")
	return nil
}

// openStore builds the document store selected by cfg and its health check.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (docstore.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory, "":
		store := memstore.New(logger)
		return store, func(context.Context) error { return nil }, nil
	case config.DriverSQLite, config.DriverPgx:
		dbCfg := sqlstore.DefaultConfig(cfg.StoreDSN)
		dbCfg.Driver = cfg.StoreDriver
		if cfg.StoreDriver == config.DriverPgx {
			dbCfg.MaxOpenConns = 10
			dbCfg.MaxIdleConns = 5
		}
		store, err := sqlstore.Open(ctx, dbCfg, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Ping, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

func workspaceConfig(cfg config.Config) application.WorkspaceConfig {
	wc := application.DefaultWorkspaceConfig()
	wc.Listeners = listeners.Config{
		MaxListeners: cfg.MaxListeners,
		IdleTimeout:  cfg.ListenerIdleTimeout,
	}
	wc.Prefetch.Days = cfg.PrefetchDays
	wc.Prefetch.Debounce = cfg.PrefetchDebounce
	wc.Presence = presence.Config{
		Heartbeat:      cfg.HeartbeatInterval,
		IdleThreshold:  cfg.IdleThreshold,
		SessionTimeout: cfg.SessionTimeout,
		HoverThrottle:  cfg.HoverThrottle,
		HoverDebounce:  cfg.HoverDebounce,
		HoverTTL:       cfg.HoverTTL,
		Retry:          docstore.DefaultRetryConfig(),
	}
	wc.Locks = locks.Config{
		EditTTL:      cfg.LockTTL,
		HoverTTL:     cfg.HoverLockTTL,
		ReleaseGrace: locks.DefaultReleaseGrace,
		Retry:        docstore.DefaultRetryConfig(),
	}
	return wc
}
