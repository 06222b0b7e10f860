package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fiskal-io/regstream/internal/extract"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/ratelimit"
)

// ExtractRunner runs the classification and extraction fan-out for one
// evidence snapshot. Satisfied by *extract.Orchestrator.
type ExtractRunner interface {
	Run(ctx context.Context, evidenceID uuid.UUID) (*extract.Outcome, error)
}

// ExtractorStore is what the extractor worker needs from persistence.
type ExtractorStore interface {
	GetEvidence(ctx context.Context, id uuid.UUID) (*model.Evidence, error)
}

// Extractor processes one Extract job end to end under a per-evidence
// single-flight lock: nothing stops the same evidence id from being
// enqueued twice, so the lock is what keeps replicas off the same snapshot.
type Extractor struct {
	runner  ExtractRunner
	store   ExtractorStore
	locker  Locker
	enq     Enqueuer
	domains *ratelimit.DomainLimiter
	logger  *slog.Logger
}

// NewExtractor wires the extraction worker.
func NewExtractor(runner ExtractRunner, store ExtractorStore, locker Locker, enq Enqueuer, domains *ratelimit.DomainLimiter, logger *slog.Logger) *Extractor {
	return &Extractor{
		runner:  runner,
		store:   store,
		locker:  locker,
		enq:     enq,
		domains: domains,
		logger:  logger,
	}
}

// Handle processes one extract job.
func (e *Extractor) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.ExtractPayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	// lock.ErrHeld propagates so retry/backoff reschedules the job after
	// the holder finishes.
	lease, err := e.locker.Acquire(ctx, "evidence:"+p.EvidenceID.String())
	if err != nil {
		return fmt.Errorf("extractor: evidence %s: %w", p.EvidenceID, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("extractor: lease release failed",
				"evidence_id", p.EvidenceID, "error", err)
		}
	}()

	outcome, err := e.runner.Run(ctx, p.EvidenceID)
	if err != nil {
		return err
	}
	if err := outcome.Err(); err != nil {
		// Invalid LLM output is a failed extraction, not a transient
		// fault; dead-letter it for triage instead of retrying.
		if outcome.SchemaOnly() {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	e.logger.Info("extractor: evidence processed",
		"evidence_id", p.EvidenceID,
		"primary_type", outcome.Classification.PrimaryType,
		"created", outcome.Created(),
		"extractor_errors", len(outcome.Errors))

	if len(outcome.ClaimIDs) == 0 {
		return nil
	}

	ev, err := e.store.GetEvidence(ctx, p.EvidenceID)
	if err != nil {
		return fmt.Errorf("extractor: evidence %s: %w", p.EvidenceID, err)
	}

	// One Compose job per domain group; this evidence is one domain. The
	// delay is the domain's politeness window, which also staggers
	// downstream load.
	delay := e.domains.DelayFor(ev.Domain)
	if _, err := e.enq.Enqueue(ctx, queue.TypeCompose, queue.ComposePayload{
		Domain:   ev.Domain,
		ClaimIDs: outcome.ClaimIDs,
	}, queue.WithDelay(delay)); err != nil {
		return fmt.Errorf("extractor: enqueue compose: %w", err)
	}

	e.logger.Info("extractor: compose enqueued",
		"domain", ev.Domain, "claims", len(outcome.ClaimIDs), "delay", delay)
	return nil
}
