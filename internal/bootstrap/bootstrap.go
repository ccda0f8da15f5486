// Package bootstrap assembles the platform components from configuration.
package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ai-task-platform/internal/apicache"
	"ai-task-platform/internal/apiservice"
	"ai-task-platform/internal/apiservice/dataforseo"
	"ai-task-platform/internal/apiservice/openai"
	"ai-task-platform/internal/cache"
	"ai-task-platform/internal/cache/redis"
	"ai-task-platform/internal/cache/ristretto"
	"ai-task-platform/internal/cache/tiered"
	"ai-task-platform/internal/config"
	"ai-task-platform/internal/ledger"
	"ai-task-platform/internal/logger"
	taskDB "ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/engine"
	tmKafka "ai-task-platform/internal/task-manager/kafka"
	"ai-task-platform/internal/task-manager/services"
	"ai-task-platform/internal/task-worker/processors"
	gormdb "ai-task-platform/pkg/db"
)

// App holds the wired components shared by the manager and worker binaries.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Ledger    *ledger.Ledger
	Tasks     *taskDB.TaskStore
	APILogs   *taskDB.APILogStore
	APICache  *apicache.Cache
	Services  processors.Services
	Engine    *engine.Engine
	Scheduler *services.SchedulerService
	Notifier  engine.Notifier

	log              *logger.Logger
	closers          []func()
	schedulerStarted bool
}

// New connects storage, builds the API services and the engine, registers the
// built-in task types and creates the scheduler. StartScheduler starts it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	app := &App{Config: cfg, log: log}

	gormDB, err := gormdb.NewGormDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	app.DB = gormDB
	app.closers = append(app.closers, func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := gormdb.AutoMigrate(gormDB, taskDB.AllModels()...); err != nil {
		app.Close()
		return nil, err
	}

	app.Ledger = ledger.New(gormDB, log)
	app.Tasks = taskDB.NewTaskStore(gormDB)
	app.APILogs = taskDB.NewAPILogStore(gormDB)

	backend, err := app.cacheBackend(cfg.Cache)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.APICache = apicache.New(backend, cfg.Cache.Prefix, cfg.Cache.DefaultTTL, log)

	if err := app.buildServices(); err != nil {
		app.Close()
		return nil, err
	}

	app.Notifier = engine.NopNotifier{}
	if cfg.Kafka.Enabled {
		notifier := tmKafka.NewNotifier(tmKafka.NewWriter(cfg.Kafka), log)
		app.Notifier = notifier
		app.closers = append(app.closers, func() {
			if err := notifier.Close(); err != nil {
				log.Errorw("kafka notifier close failed", "error", err)
			}
		})
	}

	app.Engine = engine.New(app.Tasks, app.Ledger, app.Notifier, log, engine.Options{
		BatchLimit:  cfg.Scheduler.BatchLimit,
		Workers:     cfg.Scheduler.Workers,
		TaskTimeout: cfg.Scheduler.TaskTimeout,
	})
	if err := processors.RegisterAll(app.Engine, app.Services); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to register task types: %w", err)
	}

	app.Scheduler, err = services.NewSchedulerService(ctx, app.Engine, cfg.Scheduler, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// StartScheduler starts the engine passes and points the engine's dispatch
// trigger at the scheduler. Until then approvals only wait for a pass.
func (a *App) StartScheduler() error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	a.Engine.SetDispatchTrigger(a.Scheduler)
	a.schedulerStarted = true
	return nil
}

// StopScheduler waits for running passes and stops the scheduler. It is a
// no-op when the scheduler was never started.
func (a *App) StopScheduler() {
	if !a.schedulerStarted {
		return
	}
	a.Engine.SetDispatchTrigger(nil)
	a.Scheduler.Stop()
	a.schedulerStarted = false
}

func (a *App) cacheBackend(cfg config.CacheConfig) (cache.Cache, error) {
	local := func() (cache.Cache, error) {
		l1, err := ristretto.New(cfg.MaxCostBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		a.closers = append(a.closers, l1.Close)
		return l1, nil
	}
	shared := func() *redis.Cache {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return redis.New(rdb)
	}

	switch cfg.Backend {
	case "redis":
		return shared(), nil
	case "tiered":
		l1, err := local()
		if err != nil {
			return nil, err
		}
		return tiered.New(l1, shared(), cfg.L1Expire), nil
	case "", "memory":
		return local()
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func (a *App) buildServices() error {
	cfg := a.Config
	deps := func() apiservice.Deps {
		return apiservice.Deps{
			Cache:   a.APICache,
			Ledger:  a.Ledger,
			Logs:    a.APILogs,
			Breaker: apiservice.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
			Logger:  a.log,
		}
	}

	oaSvc, err := apiservice.New(openai.NewProvider(cfg.OpenAI), deps(), apiservice.Options{
		Sandbox: cfg.OpenAI.Sandbox,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create openai service: %w", err)
	}
	dfsSvc, err := apiservice.New(dataforseo.NewProvider(cfg.DataForSEO), deps(), apiservice.Options{
		Sandbox: cfg.DataForSEO.Sandbox,
		Timeout: cfg.DataForSEO.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create dataforseo service: %w", err)
	}

	a.Services = processors.Services{
		OpenAI:     openai.NewClient(oaSvc, cfg.OpenAI.DefaultModel),
		DataForSEO: dataforseo.NewClient(dfsSvc),
	}
	a.log.Infow("api services ready", "openai_sandbox", cfg.OpenAI.Sandbox, "dataforseo_sandbox", cfg.DataForSEO.Sandbox)
	return nil
}

// Close releases resources in reverse creation order. The scheduler is
// stopped by StopScheduler.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
