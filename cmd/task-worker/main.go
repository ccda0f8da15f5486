package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"ai-task-platform/internal/bootstrap"
	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/services"
)

// The worker runs the dispatch and dependency passes without the HTTP surface.
// With kafka enabled it also reacts to task events instead of waiting for the
// next interval.
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
	log = log.Named("task-worker")
	log.Info("Starting Task Worker Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer app.Close()

	if err := app.StartScheduler(); err != nil {
		log.Fatalw("failed to start scheduler", "error", err)
	}

	var consumer *services.EventConsumer
	consumed := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer = services.NewEventConsumer(services.NewEventReader(cfg.Kafka), app.Scheduler, log)
		go func() {
			defer close(consumed)
			consumer.Consume(ctx)
		}()
		log.Infow("listening for task events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.EventsTopic, "group_id", cfg.Kafka.ConsumerGroup)
	} else {
		close(consumed)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Infow("shutdown signal received", "signal", sig.String())

	app.StopScheduler()
	cancel()
	<-consumed
	if consumer != nil {
		consumer.Close()
	}
	log.Info("Task Worker gracefully shut down.")
}
