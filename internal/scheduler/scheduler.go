// Package scheduler is the cron-driven orchestrator. It enqueues the
// scheduled job types on their cron expressions and handles them: the
// pipeline run kicks discovery per tier, and the sweeps promote stale
// reviews, batch approved rules into releases, and feed open conflicts to
// the arbiter. The arbiter sweep's daily trigger is randomized within a
// window so upstream government sites never see a predictable load spike.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/workers"
)

// Scheduler owns the cron entries. Job execution itself goes through the
// durable queue so a restart mid-run loses nothing.
type Scheduler struct {
	cron   *cron.Cron
	enq    workers.Enqueuer
	cfg    config.ScheduleConfig
	logger *slog.Logger
	rng    *rand.Rand
}

// New builds the scheduler in the configured timezone.
func New(enq workers.Enqueuer, cfg config.ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", cfg.Timezone, err)
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		enq:    enq,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start registers the entries and starts the cron loop.
func (s *Scheduler) Start() error {
	entries := []struct {
		spec    string
		jobType string
		opts    []queue.EnqueueOption
	}{
		{s.cfg.PipelineRun, queue.TypePipelineRun, nil},
		{s.cfg.AutoApprove, queue.TypeAutoApprove, nil},
		{s.cfg.ReleaseBatch, queue.TypeReleaseBatch, nil},
	}
	for _, e := range entries {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.enqueue(e.jobType, e.opts...) }); err != nil {
			return fmt.Errorf("scheduler: register %s (%q): %w", e.jobType, e.spec, err)
		}
	}

	// The arbiter sweep fires at the window-start hour but the job itself
	// is delayed by a random offset inside the window.
	spec := fmt.Sprintf("0 %d * * *", s.cfg.ArbiterWindowStart)
	if _, err := s.cron.AddFunc(spec, func() {
		delay := time.Duration(s.rng.Int63n(int64(s.cfg.ArbiterWindow)))
		s.enqueue(queue.TypeArbiterSweep, queue.WithDelay(delay))
	}); err != nil {
		return fmt.Errorf("scheduler: register %s (%q): %w", queue.TypeArbiterSweep, spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"timezone", s.cfg.Timezone,
		"pipeline_run", s.cfg.PipelineRun,
		"auto_approve", s.cfg.AutoApprove,
		"release_batch", s.cfg.ReleaseBatch,
		"arbiter_window_start", s.cfg.ArbiterWindowStart)
	return nil
}

// Stop halts the cron loop and waits for in-flight trigger functions.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) enqueue(jobType string, opts ...queue.EnqueueOption) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := s.enq.Enqueue(ctx, jobType, nil, opts...)
	if err != nil {
		s.logger.Error("scheduler: enqueue failed", "job_type", jobType, "error", err)
		return
	}
	s.logger.Info("scheduler: job enqueued", "job_type", jobType, "job_id", id)
}
