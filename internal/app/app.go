package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/db"
	"github.com/iriberri/provgraph/internal/graph"
	"github.com/iriberri/provgraph/internal/graph/repofs"
	"github.com/iriberri/provgraph/internal/platform/cachecfg"
	"github.com/iriberri/provgraph/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Env      *graph.Env
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	theDB, err := openDB(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	backend, err := openBackend(cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	cacheCfg, err := cachecfg.FromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load cache config: %w", err)
	}

	env := &graph.Env{
		Nodes:     reposet.Nodes,
		Links:     reposet.Links,
		Computers: reposet.Computers,
		Files:     backend,
		Kinds:     graph.NewRegistry(),
		Cache:     cacheCfg,
		Log:       log,
		Version:   cfg.EngineVersion,
	}

	workerID := fmt.Sprintf("%s-%s", hostname(), uuid.New().String()[:8])
	serviceset, err := wireServices(cfg, log, reposet, env, workerID)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Repos:    reposet,
		Env:      env,
		Services: serviceset,
	}, nil
}

func openDB(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	if cfg.DBDriver == "sqlite" {
		gdb, err := db.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		return gdb, nil
	}
	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	return pg.DB(), nil
}

func openBackend(cfg Config) (repofs.Backend, error) {
	if cfg.GCSBucket != "" {
		backend, err := repofs.NewGCSBackend(context.Background(), cfg.GCSBucket, os.Getenv("STORAGE_EMULATOR_HOST"))
		if err != nil {
			return nil, fmt.Errorf("init gcs repository: %w", err)
		}
		return backend, nil
	}
	backend, err := repofs.NewLocalBackend(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("init local repository: %w", err)
	}
	return backend, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}

// Start launches the worker pool and the control bus listener. Run
// blocks callers separately; Start returns immediately.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.ControlBus != nil {
		if err := a.Services.ControlBus.StartListener(ctx, handleControl(a.Env, a.Log)); err != nil {
			a.Log.Warn("Failed to start control bus listener", "error", err)
		}
	}
	if a.Services.Pool != nil {
		go func() {
			if err := a.Services.Pool.Run(ctx); err != nil {
				a.Log.Error("Worker pool stopped", "error", err)
			}
		}()
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Services.Guard.ReleaseAll(context.Background())
	if a.Services.ControlBus != nil {
		_ = a.Services.ControlBus.Close()
	}
	if a.Services.Mirror != nil {
		_ = a.Services.Mirror.Close(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
