package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

type fakeArbiterStore struct {
	*fakeRuleStore
	conflicts map[uuid.UUID]*model.RegulatoryConflict
}

func (f *fakeArbiterStore) GetConflict(ctx context.Context, id uuid.UUID) (*model.RegulatoryConflict, error) {
	c, ok := f.conflicts[id]
	if !ok {
		return nil, errors.New("no such conflict")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeArbiterStore) ResolveConflict(ctx context.Context, id uuid.UUID, winner uuid.UUID, resolution string) error {
	c, ok := f.conflicts[id]
	if !ok {
		return errors.New("no such conflict")
	}
	now := time.Now()
	c.Status = model.ConflictResolved
	c.WinnerRuleID = &winner
	c.Resolution = resolution
	c.ResolvedAt = &now
	return nil
}

func arbitrateTask(t *testing.T, conflictID uuid.UUID) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.ArbitratePayload{ConflictID: conflictID})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeArbitrate, payload)
}

func arbiterFixture() (*fakeArbiterStore, *model.RegulatoryConflict, *model.RegulatoryRule, *model.RegulatoryRule) {
	existing := &model.RegulatoryRule{
		ID: uuid.New(), Concept: "vat-rate-standard-de",
		Summary: "Standard rate is 19%.", Status: model.RuleReleased, Confidence: 0.9,
	}
	candidate := &model.RegulatoryRule{
		ID: uuid.New(), Concept: "vat-rate-standard-de",
		Summary: "Standard rate is 20% from 2027.", Status: model.RuleDraft, Confidence: 0.85,
	}
	conflict := &model.RegulatoryConflict{
		ID: uuid.New(), Concept: existing.Concept,
		ExistingRuleID: existing.ID, CandidateRuleID: candidate.ID,
		Description: "rates disagree", Status: model.ConflictOpen,
	}
	st := &fakeArbiterStore{
		fakeRuleStore: newFakeRuleStore(existing, candidate),
		conflicts:     map[uuid.UUID]*model.RegulatoryConflict{conflict.ID: conflict},
	}
	return st, conflict, existing, candidate
}

func TestArbiterCandidateWins(t *testing.T) {
	st, conflict, existing, candidate := arbiterFixture()
	port := llm.NewStubPort(nil).
		Respond(llm.TaskArbitrate, `{"winner": "candidate", "resolution": "newer gazette supersedes"}`)
	enq := &fakeEnqueuer{}

	a := NewArbiter(st, port, enq, discardLogger())
	err := a.Handle(context.Background(), arbitrateTask(t, conflict.ID))
	require.NoError(t, err)

	resolved := st.conflicts[conflict.ID]
	assert.Equal(t, model.ConflictResolved, resolved.Status)
	require.NotNil(t, resolved.WinnerRuleID)
	assert.Equal(t, candidate.ID, *resolved.WinnerRuleID)

	assert.Equal(t, model.RuleRejected, st.rules[existing.ID].Status)
	assert.Equal(t, model.RuleComposed, st.rules[candidate.ID].Status, "winner re-enters review")

	reviews := enq.byType(queue.TypeReview)
	require.Len(t, reviews, 1)
	assert.Equal(t, candidate.ID, reviews[0].Payload.(queue.ReviewPayload).RuleID)
}

func TestArbiterReleasedExistingWinnerStaysReleased(t *testing.T) {
	st, conflict, existing, candidate := arbiterFixture()
	port := llm.NewStubPort(nil).
		Respond(llm.TaskArbitrate, `{"winner": "existing", "resolution": "candidate source is secondary"}`)
	enq := &fakeEnqueuer{}

	a := NewArbiter(st, port, enq, discardLogger())
	require.NoError(t, a.Handle(context.Background(), arbitrateTask(t, conflict.ID)))

	assert.Equal(t, model.RuleReleased, st.rules[existing.ID].Status)
	assert.Equal(t, model.RuleRejected, st.rules[candidate.ID].Status)
	assert.Empty(t, enq.jobs, "a released winner needs no re-review")
}

func TestArbiterSkipsResolvedConflict(t *testing.T) {
	st, conflict, _, _ := arbiterFixture()
	st.conflicts[conflict.ID].Status = model.ConflictResolved
	port := llm.NewStubPort(nil)

	a := NewArbiter(st, port, &fakeEnqueuer{}, discardLogger())
	require.NoError(t, a.Handle(context.Background(), arbitrateTask(t, conflict.ID)))
	assert.Empty(t, port.Calls())
}
