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

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/fetch"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

type fakeSentinelStore struct {
	sources  []model.Source
	seen     map[string]bool // sourceID:hash
	inserted []model.Evidence
	polled   []uuid.UUID
}

func (f *fakeSentinelStore) ActiveSourcesByTier(ctx context.Context, tier model.PriorityTier) ([]model.Source, error) {
	var out []model.Source
	for _, s := range f.sources {
		if s.Tier == tier {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSentinelStore) EvidenceSeen(ctx context.Context, sourceID uuid.UUID, hash string) (bool, error) {
	return f.seen[sourceID.String()+":"+hash], nil
}

func (f *fakeSentinelStore) InsertEvidence(ctx context.Context, ev *model.Evidence) (bool, error) {
	key := ev.SourceID.String() + ":" + ev.ContentHash
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.inserted = append(f.inserted, *ev)
	return true, nil
}

func (f *fakeSentinelStore) MarkSourcePolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.polled = append(f.polled, id)
	return nil
}

type fakeFetcher struct {
	results map[string]*fetch.Result
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	res, ok := f.results[rawURL]
	if !ok {
		return nil, errors.New("unexpected url " + rawURL)
	}
	return res, nil
}

func discoverTask(t *testing.T, tier model.PriorityTier) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.DiscoverPayload{Tier: tier})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeDiscover, payload)
}

func sentinelCfg() config.SentinelConfig {
	return config.SentinelConfig{
		UserAgent:    "test",
		FetchTimeout: time.Second,
		MaxBodyBytes: 1 << 20,
		DedupeTTL:    time.Minute,
	}
}

func TestSentinelDiscoversNewEvidence(t *testing.T) {
	src := model.Source{ID: uuid.New(), Name: "BZSt", URL: "https://www.bzst.de/vat", Tier: model.TierCritical, Active: true}
	store := &fakeSentinelStore{sources: []model.Source{src}, seen: map[string]bool{}}
	fetcher := &fakeFetcher{results: map[string]*fetch.Result{
		src.URL: {
			Body:        "<html>Umsatzsteuer</html>",
			ContentType: "text/html",
			ContentHash: "abcdef0123456789abcdef0123456789",
			FinalURL:    src.URL,
			FetchedAt:   time.Now(),
		},
	}}
	enq := &fakeEnqueuer{}

	s := NewSentinel(store, fetcher, enq, sentinelCfg(), discardLogger())
	err := s.Handle(context.Background(), discoverTask(t, model.TierCritical))
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, src.ID, store.inserted[0].SourceID)
	assert.Equal(t, "www.bzst.de", store.inserted[0].Domain)
	require.Len(t, enq.byType(queue.TypeExtract), 1)
	assert.Len(t, store.polled, 1)
}

func TestSentinelSkipsSeenContent(t *testing.T) {
	src := model.Source{ID: uuid.New(), Name: "BZSt", URL: "https://www.bzst.de/vat", Tier: model.TierCritical, Active: true}
	store := &fakeSentinelStore{sources: []model.Source{src}, seen: map[string]bool{}}
	fetcher := &fakeFetcher{results: map[string]*fetch.Result{
		src.URL: {
			Body:        "same content",
			ContentType: "text/plain",
			ContentHash: "cafebabecafebabecafebabecafebabecafebabecafebabecafebabecafebabe",
			FinalURL:    src.URL,
			FetchedAt:   time.Now(),
		},
	}}
	enq := &fakeEnqueuer{}

	s := NewSentinel(store, fetcher, enq, sentinelCfg(), discardLogger())
	require.NoError(t, s.Handle(context.Background(), discoverTask(t, model.TierCritical)))
	require.NoError(t, s.Handle(context.Background(), discoverTask(t, model.TierCritical)))

	assert.Len(t, store.inserted, 1, "second pass sees the same hash")
	assert.Len(t, enq.byType(queue.TypeExtract), 1)
	assert.Len(t, store.polled, 2, "polling is recorded either way")
}

func TestSentinelRobotsDisallowIsNotAFailure(t *testing.T) {
	src := model.Source{ID: uuid.New(), Name: "Blocked", URL: "https://blocked.example/law", Tier: model.TierCritical, Active: true}
	store := &fakeSentinelStore{sources: []model.Source{src}, seen: map[string]bool{}}
	fetcher := &fakeFetcher{errs: map[string]error{src.URL: fetch.ErrRobotsDisallowed}}
	enq := &fakeEnqueuer{}

	s := NewSentinel(store, fetcher, enq, sentinelCfg(), discardLogger())
	err := s.Handle(context.Background(), discoverTask(t, model.TierCritical))
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
	assert.Empty(t, enq.jobs)
}

func TestSentinelAllSourcesDownFailsJob(t *testing.T) {
	srcA := model.Source{ID: uuid.New(), URL: "https://a.example", Tier: model.TierHigh, Active: true}
	srcB := model.Source{ID: uuid.New(), URL: "https://b.example", Tier: model.TierHigh, Active: true}
	store := &fakeSentinelStore{sources: []model.Source{srcA, srcB}, seen: map[string]bool{}}
	fetcher := &fakeFetcher{errs: map[string]error{
		srcA.URL: errors.New("timeout"),
		srcB.URL: errors.New("refused"),
	}}
	enq := &fakeEnqueuer{}

	s := NewSentinel(store, fetcher, enq, sentinelCfg(), discardLogger())
	err := s.Handle(context.Background(), discoverTask(t, model.TierHigh))
	assert.ErrorContains(t, err, "all 2 sources failed")
}
