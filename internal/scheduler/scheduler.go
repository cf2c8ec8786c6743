package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

// Minimal internal interfaces so the scheduler can be unit tested with
// small fake implementations.
type batchRunner interface {
	RunBatch(ctx context.Context, limit int) (*domain.BatchResult, error)
}

type healthRunner interface {
	RunCheck(ctx context.Context) (*domain.HealthReport, error)
}

// Scheduler drives the periodic workers in-process. The same worker entry
// points stay reachable through the cron HTTP endpoints, so an external
// trigger can coexist with (or replace) this runner.
type Scheduler struct {
	outbox batchRunner
	media  batchRunner
	health healthRunner
	cfg    environments.WorkerConfig

	cron    *cron.Cron
	running bool
	mu      sync.RWMutex

	// Statistics
	lastOutboxRunAt time.Time
	lastMediaRunAt  time.Time
	lastHealthRunAt time.Time
	outboxRuns      int64
	mediaRuns       int64
	healthRuns      int64
	messagesSent    int64
}

func NewScheduler(outbox, media batchRunner, health healthRunner, cfg environments.WorkerConfig) *Scheduler {
	return &Scheduler{
		outbox: outbox,
		media:  media,
		health: health,
		cfg:    cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Warnf("Scheduler is already running")
		return nil
	}

	c := cron.New()

	if _, err := c.AddFunc(s.cfg.OutboxSchedule, func() { s.runOutbox(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.MediaSchedule, func() { s.runMedia(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.HealthSchedule, func() { s.runHealth(ctx) }); err != nil {
		return err
	}

	c.Start()

	s.cron = c
	s.running = true

	logger.Infof("Scheduler started (outbox %q, media %q, health %q)",
		s.cfg.OutboxSchedule, s.cfg.MediaSchedule, s.cfg.HealthSchedule)

	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	// Wait for in-flight jobs to finish.
	<-c.Stop().Done()

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runOutbox(ctx context.Context) {
	s.mu.Lock()
	s.lastOutboxRunAt = time.Now()
	s.outboxRuns++
	run := s.outboxRuns
	s.mu.Unlock()

	logger.Debugf("[Outbox run #%d] starting", run)

	result, err := s.outbox.RunBatch(ctx, s.cfg.OutboxBatchSize)
	if err != nil {
		logger.Errorf("[Outbox run #%d] failed: %v", run, err)
		return
	}

	if result.Processed > 0 {
		s.mu.Lock()
		s.messagesSent += int64(result.Succeeded)
		s.mu.Unlock()

		logger.Infof("[Outbox run #%d] %d processed, %d sent, %d failed",
			run, result.Processed, result.Succeeded, result.Failed)
	}
}

func (s *Scheduler) runMedia(ctx context.Context) {
	s.mu.Lock()
	s.lastMediaRunAt = time.Now()
	s.mediaRuns++
	run := s.mediaRuns
	s.mu.Unlock()

	result, err := s.media.RunBatch(ctx, s.cfg.MediaBatchSize)
	if err != nil {
		logger.Errorf("[Media run #%d] failed: %v", run, err)
		return
	}

	if result.Processed > 0 {
		logger.Infof("[Media run #%d] %d processed, %d resolved, %d failed",
			run, result.Processed, result.Succeeded, result.Failed)
	}
}

func (s *Scheduler) runHealth(ctx context.Context) {
	s.mu.Lock()
	s.lastHealthRunAt = time.Now()
	s.healthRuns++
	run := s.healthRuns
	s.mu.Unlock()

	report, err := s.health.RunCheck(ctx)
	if err != nil {
		logger.Errorf("[Health run #%d] failed: %v", run, err)
		return
	}

	if report.Updated > 0 || len(report.Errors) > 0 {
		logger.Infof("[Health run #%d] %d checked, %d updated, %d errors",
			run, report.Checked, report.Updated, len(report.Errors))
	}
}

type SchedulerStatus struct {
	Running         bool      `json:"running"`
	LastOutboxRunAt time.Time `json:"lastOutboxRunAt,omitempty"`
	LastMediaRunAt  time.Time `json:"lastMediaRunAt,omitempty"`
	LastHealthRunAt time.Time `json:"lastHealthRunAt,omitempty"`
	OutboxRuns      int64     `json:"outboxRuns"`
	MediaRuns       int64     `json:"mediaRuns"`
	HealthRuns      int64     `json:"healthRuns"`
	MessagesSent    int64     `json:"messagesSent"`
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SchedulerStatus{
		Running:         s.running,
		LastOutboxRunAt: s.lastOutboxRunAt,
		LastMediaRunAt:  s.lastMediaRunAt,
		LastHealthRunAt: s.lastHealthRunAt,
		OutboxRuns:      s.outboxRuns,
		MediaRuns:       s.mediaRuns,
		HealthRuns:      s.healthRuns,
		MessagesSent:    s.messagesSent,
	}
}
