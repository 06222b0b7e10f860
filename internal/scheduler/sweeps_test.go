package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enqueued struct {
	JobType string
	Payload any
	Opts    int
}

type fakeEnqueuer struct {
	jobs []enqueued
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.EnqueueOption) (string, error) {
	f.jobs = append(f.jobs, enqueued{JobType: jobType, Payload: payload, Opts: len(opts)})
	return uuid.NewString(), nil
}

type fakeSweepStore struct {
	stale     []uuid.UUID
	statuses  map[uuid.UUID]model.RuleStatus
	approved  []uuid.UUID
	conflicts []model.RegulatoryConflict
}

func (f *fakeSweepStore) StaleManualReview(ctx context.Context, olderThan time.Time, minConfidence float64) ([]uuid.UUID, error) {
	return f.stale, nil
}

func (f *fakeSweepStore) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status model.RuleStatus, note string) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]model.RuleStatus{}
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeSweepStore) ApprovedUnreleased(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if len(f.approved) > limit {
		return f.approved[:limit], nil
	}
	return f.approved, nil
}

func (f *fakeSweepStore) OpenConflicts(ctx context.Context, limit int) ([]model.RegulatoryConflict, error) {
	if len(f.conflicts) > limit {
		return f.conflicts[:limit], nil
	}
	return f.conflicts, nil
}

func sweepTask(jobType string) *asynq.Task {
	return asynq.NewTask(jobType, []byte("{}"))
}

func testSweeps(store SweepStore, enq *fakeEnqueuer) *Sweeps {
	cfg := config.Default()
	cfg.Releasing.BatchSize = 2
	cfg.Arbiter.SweepLimit = 2
	return NewSweeps(store, enq, cfg, discardLogger())
}

func TestPipelineRunStaggersTiers(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := testSweeps(&fakeSweepStore{}, enq)

	err := s.HandlePipelineRun(context.Background(), sweepTask(queue.TypePipelineRun))
	require.NoError(t, err)

	require.Len(t, enq.jobs, 3)
	tiers := make([]model.PriorityTier, 0, 3)
	for _, j := range enq.jobs {
		assert.Equal(t, queue.TypeDiscover, j.JobType)
		tiers = append(tiers, j.Payload.(queue.DiscoverPayload).Tier)
		assert.Equal(t, 1, j.Opts, "every tier carries a delay option")
	}
	assert.Equal(t, []model.PriorityTier{model.TierCritical, model.TierHigh, model.TierNormal}, tiers)
}

func TestPipelineRunTierFilter(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := testSweeps(&fakeSweepStore{}, enq)

	payload := []byte(`{"tiers": ["CRITICAL"]}`)
	err := s.HandlePipelineRun(context.Background(), asynq.NewTask(queue.TypePipelineRun, payload))
	require.NoError(t, err)

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, model.TierCritical, enq.jobs[0].Payload.(queue.DiscoverPayload).Tier)
}

func TestAutoApprovePromotesStaleRules(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &fakeSweepStore{stale: []uuid.UUID{a, b}}
	enq := &fakeEnqueuer{}
	s := testSweeps(store, enq)

	err := s.HandleAutoApprove(context.Background(), sweepTask(queue.TypeAutoApprove))
	require.NoError(t, err)

	assert.Equal(t, model.RuleApproved, store.statuses[a])
	assert.Equal(t, model.RuleApproved, store.statuses[b])
	assert.Empty(t, enq.jobs, "release batching picks approvals up separately")
}

func TestReleaseBatchCapsAtBatchSize(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	store := &fakeSweepStore{approved: ids}
	enq := &fakeEnqueuer{}
	s := testSweeps(store, enq)

	err := s.HandleReleaseBatch(context.Background(), sweepTask(queue.TypeReleaseBatch))
	require.NoError(t, err)

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, queue.TypeRelease, enq.jobs[0].JobType)
	assert.Len(t, enq.jobs[0].Payload.(queue.ReleasePayload).RuleIDs, 2)
}

func TestReleaseBatchNothingApproved(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := testSweeps(&fakeSweepStore{}, enq)
	require.NoError(t, s.HandleReleaseBatch(context.Background(), sweepTask(queue.TypeReleaseBatch)))
	assert.Empty(t, enq.jobs)
}

func TestArbiterSweepEnqueuesPerConflict(t *testing.T) {
	conflicts := []model.RegulatoryConflict{
		{ID: uuid.New(), Status: model.ConflictOpen},
		{ID: uuid.New(), Status: model.ConflictOpen},
		{ID: uuid.New(), Status: model.ConflictOpen},
	}
	store := &fakeSweepStore{conflicts: conflicts}
	enq := &fakeEnqueuer{}
	s := testSweeps(store, enq)

	err := s.HandleArbiterSweep(context.Background(), sweepTask(queue.TypeArbiterSweep))
	require.NoError(t, err)

	require.Len(t, enq.jobs, 2, "sweep respects the limit")
	for i, j := range enq.jobs {
		assert.Equal(t, queue.TypeArbitrate, j.JobType)
		assert.Equal(t, conflicts[i].ID, j.Payload.(queue.ArbitratePayload).ConflictID)
	}
}
