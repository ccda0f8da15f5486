package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
)

const (
	tagEnginePass   = "engine_pass"
	tagTriggeredRun = "triggered_pass"
)

// Passes is the part of the task engine driven by the scheduler.
type Passes interface {
	ProcessPending(ctx context.Context) (int, error)
	CheckDependencies(ctx context.Context) (int, error)
}

// SchedulerService runs the engine's dispatch and dependency passes on
// intervals and on demand.
type SchedulerService struct {
	Scheduler  gocron.Scheduler
	engine     Passes
	cfg        config.SchedulerConfig
	log        *logger.Logger
	appContext context.Context
}

func NewSchedulerService(ctx context.Context, engine Passes, cfg config.SchedulerConfig, log *logger.Logger) (*SchedulerService, error) {
	log = log.Named("scheduler")
	s, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Hour
	}
	if cfg.DependencyInterval <= 0 {
		cfg.DependencyInterval = 5 * time.Minute
	}
	return &SchedulerService{
		Scheduler:  s,
		engine:     engine,
		cfg:        cfg,
		log:        log,
		appContext: ctx,
	}, nil
}

func (s *SchedulerService) Start() error {
	if err := s.scheduleJobs(); err != nil {
		return err
	}
	s.Scheduler.Start()
	s.log.Infow("scheduler started",
		"dispatch_interval", s.cfg.DispatchInterval,
		"dependency_interval", s.cfg.DependencyInterval,
		"jobs", len(s.Scheduler.Jobs()),
	)
	return nil
}

func (s *SchedulerService) Stop() {
	if err := s.Scheduler.Shutdown(); err != nil {
		s.log.Errorw("error shutting down gocron scheduler", "error", err)
		return
	}
	s.log.Info("scheduler stopped")
}

func (s *SchedulerService) scheduleJobs() error {
	s.Scheduler.RemoveByTags(tagEnginePass)

	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"process_pending", s.cfg.DispatchInterval, s.runDispatch},
		{"check_dependencies", s.cfg.DependencyInterval, s.runDependencyCheck},
	}
	for _, j := range jobs {
		job, err := s.Scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithTags(tagEnginePass, j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		s.log.Infow("engine pass scheduled", "job", j.name, "job_id", job.ID(), "interval", j.interval)
	}
	return nil
}

// TriggerDispatch queues a dispatch pass that starts immediately.
func (s *SchedulerService) TriggerDispatch() {
	s.runOnce("triggered_dispatch", s.runDispatch)
}

// TriggerDependencyCheck queues a dependency pass that starts immediately.
func (s *SchedulerService) TriggerDependencyCheck() {
	s.runOnce("triggered_dependency_check", s.runDependencyCheck)
}

func (s *SchedulerService) runOnce(name string, run func()) {
	_, err := s.Scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(run),
		gocron.WithName(name),
		gocron.WithTags(tagTriggeredRun),
	)
	if err != nil {
		s.log.Errorw("failed to queue one-time pass", "job", name, "error", err)
	}
}

func (s *SchedulerService) runDispatch() {
	n, err := s.engine.ProcessPending(s.appContext)
	if err != nil {
		s.log.Errorw("dispatch pass failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Infow("dispatch pass processed tasks", "count", n)
	}
}

func (s *SchedulerService) runDependencyCheck() {
	n, err := s.engine.CheckDependencies(s.appContext)
	if err != nil {
		s.log.Errorw("dependency pass failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Infow("dependency pass promoted tasks", "count", n)
	}
}

// gocronLogger routes gocron's internal logging through zap.
type gocronLogger struct {
	log *logger.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debugw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Errorw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warnw(msg, args...) }
