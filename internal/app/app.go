package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/answercache/internal/answercache"
	"github.com/yungbote/answercache/internal/config"
	dbpkg "github.com/yungbote/answercache/internal/data/db"
	"github.com/yungbote/answercache/internal/data/repos"
	httpserver "github.com/yungbote/answercache/internal/http"
	"github.com/yungbote/answercache/internal/inflight"
	"github.com/yungbote/answercache/internal/kv"
	"github.com/yungbote/answercache/internal/observability"
	"github.com/yungbote/answercache/internal/platform/logger"
	"github.com/yungbote/answercache/internal/services"
)

type App struct {
	Log    *logger.Logger
	Cfg    *config.Config
	DB     *dbpkg.Service
	KV     kv.Store
	Repos  repos.Repos
	Server *httpserver.Server

	Cache       *answercache.Cache
	Coordinator *inflight.Coordinator
	Completions services.CompletionService

	shutdownOtel func(context.Context) error
}

// New loads configuration and builds the app from it.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig wires every component from cfg. On error, whatever was already
// opened is closed.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Log: log, Cfg: cfg}

	a.shutdownOtel = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Env,
		Version:     cfg.Otel.Version,
	})

	log.Info("Connecting database...", "driver", cfg.Database.Driver)
	db, err := dbpkg.New(cfg.Database, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.Repos = repos.New(db.DB(), log)

	log.Info("Connecting key-value store...", "mode", cfg.Redis.Mode)
	store, err := wireKV(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init kv store: %w", err)
	}
	a.KV = store

	prov, err := wireProvider(cfg.Provider)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init provider: %w", err)
	}

	a.wireServices(log, prov)
	a.Server = httpserver.NewServer(cfg.HTTP, wireRouter(a, log), log)
	return a, nil
}

// HealthCheck pings the database and the key-value store concurrently.
func (a *App) HealthCheck(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.DB.Ping(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.KV.Ping(gctx); err != nil {
			return fmt.Errorf("kv: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.Log.Warn("kv close failed", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("database close failed", "error", err)
		}
	}
	if a.shutdownOtel != nil {
		timeout := a.Cfg.HTTP.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("tracer shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
