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

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/extract"
	"github.com/fiskal-io/regstream/internal/lock"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/ratelimit"
)

type fakeRunner struct {
	outcome *extract.Outcome
	err     error
	calls   []uuid.UUID
}

func (f *fakeRunner) Run(ctx context.Context, evidenceID uuid.UUID) (*extract.Outcome, error) {
	f.calls = append(f.calls, evidenceID)
	return f.outcome, f.err
}

type fakeEvidenceStore struct {
	evidence map[uuid.UUID]*model.Evidence
}

func (f *fakeEvidenceStore) GetEvidence(ctx context.Context, id uuid.UUID) (*model.Evidence, error) {
	ev, ok := f.evidence[id]
	if !ok {
		return nil, errors.New("no such evidence")
	}
	return ev, nil
}

func extractTask(t *testing.T, evidenceID uuid.UUID) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.ExtractPayload{EvidenceID: evidenceID})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeExtract, payload)
}

func testDomains() *ratelimit.DomainLimiter {
	return ratelimit.NewDomainLimiter(config.DomainsConfig{
		Default: config.DomainWindow{MinDelay: time.Second, MaxDelay: 2 * time.Second},
	})
}

func claimOutcome(claims int) *extract.Outcome {
	out := &extract.Outcome{
		Classification: &classify.Result{PrimaryType: classify.TypeLogic},
	}
	ids := make([]uuid.UUID, claims)
	for i := range ids {
		ids[i] = uuid.New()
	}
	out.ClaimIDs = ids
	out.Results = []extract.Result{{Extractor: classify.ExtractorClaim, CreatedIDs: ids}}
	return out
}

func TestExtractorEnqueuesDelayedCompose(t *testing.T) {
	evID := uuid.New()
	store := &fakeEvidenceStore{evidence: map[uuid.UUID]*model.Evidence{
		evID: {ID: evID, Domain: "www.bzst.de"},
	}}
	runner := &fakeRunner{outcome: claimOutcome(2)}
	locker := &fakeLocker{lease: &fakeLease{}}
	enq := &fakeEnqueuer{}

	e := NewExtractor(runner, store, locker, enq, testDomains(), discardLogger())
	err := e.Handle(context.Background(), extractTask(t, evID))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{evID}, runner.calls)
	assert.Equal(t, []string{"evidence:" + evID.String()}, locker.keys)
	assert.Equal(t, 1, locker.lease.released)

	composes := enq.byType(queue.TypeCompose)
	require.Len(t, composes, 1)
	p := composes[0].Payload.(queue.ComposePayload)
	assert.Equal(t, "www.bzst.de", p.Domain)
	assert.Len(t, p.ClaimIDs, 2)
	assert.Equal(t, 1, composes[0].Opts, "compose carries the politeness delay")
}

func TestExtractorPropagatesHeldLock(t *testing.T) {
	locker := &fakeLocker{err: lock.ErrHeld}
	e := NewExtractor(&fakeRunner{}, &fakeEvidenceStore{}, locker, &fakeEnqueuer{}, testDomains(), discardLogger())

	err := e.Handle(context.Background(), extractTask(t, uuid.New()))
	assert.ErrorIs(t, err, lock.ErrHeld)
}

func TestExtractorNoClaimsNoCompose(t *testing.T) {
	evID := uuid.New()
	outcome := &extract.Outcome{
		Classification: &classify.Result{PrimaryType: classify.TypeReference},
		Results:        []extract.Result{{Extractor: classify.ExtractorReference, CreatedIDs: []uuid.UUID{uuid.New()}}},
	}
	runner := &fakeRunner{outcome: outcome}
	locker := &fakeLocker{lease: &fakeLease{}}
	enq := &fakeEnqueuer{}

	e := NewExtractor(runner, &fakeEvidenceStore{}, locker, enq, testDomains(), discardLogger())
	err := e.Handle(context.Background(), extractTask(t, evID))
	require.NoError(t, err)
	assert.Empty(t, enq.jobs)
}

func TestExtractorFailedOutcomeFailsJob(t *testing.T) {
	outcome := &extract.Outcome{
		Classification: &classify.Result{PrimaryType: classify.TypeLogic},
		Errors: []extract.ExtractorError{
			{Extractor: classify.ExtractorClaim, Err: errors.New("model unavailable")},
		},
	}
	runner := &fakeRunner{outcome: outcome}
	locker := &fakeLocker{lease: &fakeLease{}}

	e := NewExtractor(runner, &fakeEvidenceStore{}, locker, &fakeEnqueuer{}, testDomains(), discardLogger())
	err := e.Handle(context.Background(), extractTask(t, uuid.New()))
	assert.ErrorContains(t, err, "all extractors failed")
	assert.NotErrorIs(t, err, asynq.SkipRetry, "transient failures keep the retry path")
	assert.Equal(t, 1, locker.lease.released, "the lock releases even on failure")
}

func TestExtractorSchemaFailureSkipsRetry(t *testing.T) {
	outcome := &extract.Outcome{
		Classification: &classify.Result{PrimaryType: classify.TypeLogic},
		Errors: []extract.ExtractorError{
			{Extractor: classify.ExtractorClaim, Err: &extract.SchemaError{
				Shape: "claim", Err: errors.New("missing required property exactQuote"),
			}},
		},
	}
	runner := &fakeRunner{outcome: outcome}
	locker := &fakeLocker{lease: &fakeLease{}}

	e := NewExtractor(runner, &fakeEvidenceStore{}, locker, &fakeEnqueuer{}, testDomains(), discardLogger())
	err := e.Handle(context.Background(), extractTask(t, uuid.New()))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
