package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"

	"ai-task-platform/internal/bootstrap"
	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/api"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer log.Sync()
	log = log.Named("task-manager")
	log.Info("Task Manager Service starting...")

	appCtx, appCancel := context.WithCancel(context.Background())

	app, err := bootstrap.New(appCtx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	if cfg.Scheduler.Enabled {
		if err := app.StartScheduler(); err != nil {
			log.Fatalw("failed to start scheduler", "error", err)
		}
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	h := server.Default(server.WithHostPorts(cfg.Server.Addr), server.WithExitWaitTime(cfg.Server.ExitWaitTime))
	api.Register(h, api.Handlers{
		Tasks:   api.NewTaskHandler(app.Engine, log),
		Credits: api.NewCreditHandler(app.Ledger, log),
		Admin:   api.NewAdminHandler(app.APICache, app.Scheduler, app.APILogs, log),
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Infow("received signal, initiating graceful shutdown", "signal", sig.String())

		// running passes finish their tasks before the app context goes away
		app.StopScheduler()
		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Errorw("hertz server shutdown error", "error", err)
		} else {
			log.Info("Hertz server gracefully stopped.")
		}

		app.Close()
		log.Info("Task Manager gracefully shut down.")
	}()

	log.Infow("Task Manager Service starting Hertz server", "addr", cfg.Server.Addr)
	h.Spin()
}
