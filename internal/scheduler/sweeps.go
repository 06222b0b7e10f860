package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/workers"
)

// SweepStore is what the scheduled sweeps need from persistence.
type SweepStore interface {
	StaleManualReview(ctx context.Context, olderThan time.Time, minConfidence float64) ([]uuid.UUID, error)
	UpdateRuleStatus(ctx context.Context, id uuid.UUID, status model.RuleStatus, note string) error
	ApprovedUnreleased(ctx context.Context, limit int) ([]uuid.UUID, error)
	OpenConflicts(ctx context.Context, limit int) ([]model.RegulatoryConflict, error)
}

// Sweeps handles the scheduled job types: the pipeline run fan-out and
// the three maintenance sweeps.
type Sweeps struct {
	store  SweepStore
	enq    workers.Enqueuer
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeps wires the scheduled-job handlers.
func NewSweeps(store SweepStore, enq workers.Enqueuer, cfg config.Config, logger *slog.Logger) *Sweeps {
	return &Sweeps{store: store, enq: enq, cfg: cfg, logger: logger, now: time.Now}
}

// HandlePipelineRun kicks discovery: CRITICAL sources immediately, HIGH
// after the configured delay, NORMAL after twice that delay.
func (s *Sweeps) HandlePipelineRun(ctx context.Context, task *asynq.Task) error {
	var p queue.PipelineRunPayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	delay := s.cfg.Schedules.HighTierDelay
	tiers := []struct {
		tier  model.PriorityTier
		after time.Duration
	}{
		{model.TierCritical, 0},
		{model.TierHigh, delay},
		{model.TierNormal, 2 * delay},
	}
	for _, t := range tiers {
		if !tierWanted(p.Tiers, t.tier) {
			continue
		}
		if _, err := s.enq.Enqueue(ctx, queue.TypeDiscover,
			queue.DiscoverPayload{Tier: t.tier}, queue.WithDelay(t.after)); err != nil {
			return fmt.Errorf("pipeline run: enqueue discover %s: %w", t.tier, err)
		}
	}
	s.logger.Info("pipeline run dispatched", "high_tier_delay", delay)
	return nil
}

func tierWanted(want []model.PriorityTier, tier model.PriorityTier) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == tier {
			return true
		}
	}
	return false
}

// HandleAutoApprove promotes manual-review rules that sat past the review
// window with enough confidence. Release batching picks them up later.
func (s *Sweeps) HandleAutoApprove(ctx context.Context, task *asynq.Task) error {
	cutoff := s.now().Add(-s.cfg.Review.AutoApproveAfter)
	ids, err := s.store.StaleManualReview(ctx, cutoff, s.cfg.Review.MinConfidence)
	if err != nil {
		return fmt.Errorf("auto-approve sweep: %w", err)
	}
	for _, id := range ids {
		note := fmt.Sprintf("auto-approved after %s in manual review", s.cfg.Review.AutoApproveAfter)
		if err := s.store.UpdateRuleStatus(ctx, id, model.RuleApproved, note); err != nil {
			return fmt.Errorf("auto-approve sweep: rule %s: %w", id, err)
		}
	}
	s.logger.Info("auto-approve sweep done", "approved", len(ids))
	return nil
}

// HandleReleaseBatch collects approved-but-unreleased rules into one
// release job, capped at the configured batch size.
func (s *Sweeps) HandleReleaseBatch(ctx context.Context, task *asynq.Task) error {
	ids, err := s.store.ApprovedUnreleased(ctx, s.cfg.Releasing.BatchSize)
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("release batch: nothing approved")
		return nil
	}
	if _, err := s.enq.Enqueue(ctx, queue.TypeRelease, queue.ReleasePayload{RuleIDs: ids}); err != nil {
		return fmt.Errorf("release batch: enqueue: %w", err)
	}
	s.logger.Info("release batch enqueued", "rules", len(ids))
	return nil
}

// HandleArbiterSweep enumerates open conflicts and enqueues one arbiter
// job each, up to the sweep limit.
func (s *Sweeps) HandleArbiterSweep(ctx context.Context, task *asynq.Task) error {
	conflicts, err := s.store.OpenConflicts(ctx, s.cfg.Arbiter.SweepLimit)
	if err != nil {
		return fmt.Errorf("arbiter sweep: %w", err)
	}
	for _, c := range conflicts {
		if _, err := s.enq.Enqueue(ctx, queue.TypeArbitrate,
			queue.ArbitratePayload{ConflictID: c.ID}); err != nil {
			return fmt.Errorf("arbiter sweep: enqueue conflict %s: %w", c.ID, err)
		}
	}
	s.logger.Info("arbiter sweep done", "conflicts", len(conflicts))
	return nil
}
