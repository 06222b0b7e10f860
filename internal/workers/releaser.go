package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

// ReleaserStore is what publishing needs from persistence.
type ReleaserStore interface {
	RulesWithStatus(ctx context.Context, ids []uuid.UUID, status model.RuleStatus) ([]uuid.UUID, error)
	OpenConflictCountForRules(ctx context.Context, ruleIDs []uuid.UUID) (int, error)
	CreateRelease(ctx context.Context, ruleIDs []uuid.UUID, effectiveFrom time.Time) (*model.Release, error)
	RebuildGraph(ctx context.Context) error
}

// Releaser publishes a batch of approved rules as one immutable Release
// and rebuilds the downstream knowledge graph. It runs on a concurrency-1
// queue so the release sequence stays auditable.
type Releaser struct {
	store  ReleaserStore
	logger *slog.Logger
	now    func() time.Time
}

// NewReleaser wires the release worker.
func NewReleaser(store ReleaserStore, logger *slog.Logger) *Releaser {
	return &Releaser{store: store, logger: logger, now: time.Now}
}

// Handle processes one release job.
func (r *Releaser) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.ReleasePayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}
	if len(p.RuleIDs) == 0 {
		return nil
	}

	// A retried job after a committed release sees no APPROVED rules
	// left; it only needs the graph rebuild it originally failed on.
	approved, err := r.store.RulesWithStatus(ctx, p.RuleIDs, model.RuleApproved)
	if err != nil {
		return fmt.Errorf("releaser: filter approved: %w", err)
	}
	if len(approved) == 0 {
		r.logger.Info("releaser: nothing left to release", "requested", len(p.RuleIDs))
		if err := r.store.RebuildGraph(ctx); err != nil {
			return fmt.Errorf("releaser: rebuild graph: %w", err)
		}
		return nil
	}

	// An open conflict on any batched rule blocks the whole batch; the
	// retry machinery picks it back up after the arbiter has run.
	open, err := r.store.OpenConflictCountForRules(ctx, approved)
	if err != nil {
		return fmt.Errorf("releaser: conflict check: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("releaser: %d open conflicts block release of %d rules", open, len(approved))
	}

	release, err := r.store.CreateRelease(ctx, approved, r.now().UTC())
	if err != nil {
		return fmt.Errorf("releaser: create release: %w", err)
	}

	if err := r.store.RebuildGraph(ctx); err != nil {
		// The release is committed; a failed rebuild retries the job and
		// rebuilding is idempotent over released rules.
		return fmt.Errorf("releaser: rebuild graph after release %d: %w", release.Sequence, err)
	}

	r.logger.Info("releaser: release published",
		"release_id", release.ID, "sequence", release.Sequence, "rules", len(release.RuleIDs))
	return nil
}
