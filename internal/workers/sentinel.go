package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/patrickmn/go-cache"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/fetch"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/ratelimit"
)

// SentinelStore is what discovery needs from persistence.
type SentinelStore interface {
	ActiveSourcesByTier(ctx context.Context, tier model.PriorityTier) ([]model.Source, error)
	EvidenceSeen(ctx context.Context, sourceID uuid.UUID, contentHash string) (bool, error)
	InsertEvidence(ctx context.Context, ev *model.Evidence) (bool, error)
	MarkSourcePolled(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PageFetcher retrieves one source URL. Satisfied by *fetch.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Sentinel polls active sources of one tier and turns unseen content into
// Evidence plus one Extract job each. It runs on a concurrency-1 queue so
// two discovery passes never interleave.
type Sentinel struct {
	store   SentinelStore
	fetcher PageFetcher
	enq     Enqueuer
	seen    *cache.Cache // sourceID+hash → struct{}, saves DB lookups within a run window
	logger  *slog.Logger
}

// NewSentinel wires the discovery worker.
func NewSentinel(store SentinelStore, fetcher PageFetcher, enq Enqueuer, cfg config.SentinelConfig, logger *slog.Logger) *Sentinel {
	return &Sentinel{
		store:   store,
		fetcher: fetcher,
		enq:     enq,
		seen:    cache.New(cfg.DedupeTTL, cfg.DedupeTTL/2),
		logger:  logger,
	}
}

// Handle processes one discover job.
func (s *Sentinel) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.DiscoverPayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	sources, err := s.store.ActiveSourcesByTier(ctx, p.Tier)
	if err != nil {
		return fmt.Errorf("sentinel: list sources: %w", err)
	}
	if len(sources) == 0 {
		s.logger.Info("sentinel: no active sources", "tier", p.Tier)
		return nil
	}

	var discovered, failed int
	for _, src := range sources {
		n, err := s.pollSource(ctx, src)
		if err != nil {
			failed++
			s.logger.Warn("sentinel: source failed",
				"source", src.Name, "url", src.URL, "error", err)
			continue
		}
		discovered += n
	}

	s.logger.Info("sentinel: tier polled",
		"tier", p.Tier, "sources", len(sources), "discovered", discovered, "failed", failed)

	// All sources down is worth a retry; partial failure is routine.
	if failed == len(sources) {
		return fmt.Errorf("sentinel: all %d sources failed for tier %s", failed, p.Tier)
	}
	return nil
}

func (s *Sentinel) pollSource(ctx context.Context, src model.Source) (int, error) {
	res, err := s.fetcher.Fetch(ctx, src.URL)
	if errors.Is(err, fetch.ErrRobotsDisallowed) {
		// Permanent for this URL, does not fail the run.
		s.logger.Warn("sentinel: robots disallow", "source", src.Name, "url", src.URL)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if err := s.store.MarkSourcePolled(ctx, src.ID, res.FetchedAt); err != nil {
		return 0, err
	}

	dedupeKey := src.ID.String() + ":" + res.ContentHash
	if _, hit := s.seen.Get(dedupeKey); hit {
		return 0, nil
	}
	known, err := s.store.EvidenceSeen(ctx, src.ID, res.ContentHash)
	if err != nil {
		return 0, err
	}
	if known {
		s.seen.SetDefault(dedupeKey, struct{}{})
		return 0, nil
	}

	ev := &model.Evidence{
		ID:          uuid.New(),
		SourceID:    src.ID,
		URL:         res.FinalURL,
		Domain:      ratelimit.Domain(res.FinalURL),
		ContentType: res.ContentType,
		RawContent:  res.Body,
		ContentHash: res.ContentHash,
		FetchedAt:   res.FetchedAt,
	}
	inserted, err := s.store.InsertEvidence(ctx, ev)
	if err != nil {
		return 0, err
	}
	s.seen.SetDefault(dedupeKey, struct{}{})
	if !inserted {
		// Unique (source, hash) landed concurrently; nothing new.
		return 0, nil
	}

	if _, err := s.enq.Enqueue(ctx, queue.TypeExtract, queue.ExtractPayload{EvidenceID: ev.ID}); err != nil {
		return 0, fmt.Errorf("enqueue extract: %w", err)
	}

	s.logger.Info("sentinel: evidence discovered",
		"source", src.Name, "evidence_id", ev.ID, "content_hash", res.ContentHash[:12])
	return 1, nil
}
