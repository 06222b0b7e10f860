package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fiskal-io/regstream/internal/breaker"
	"github.com/fiskal-io/regstream/internal/metrics"
	"github.com/fiskal-io/regstream/internal/queue"
)

// Health is one watchdog snapshot, served by the status endpoint.
type Health struct {
	Status      string                   `json:"status"` // healthy | degraded
	Redis       string                   `json:"redis"`  // connected | disconnected
	Queues      map[string]queue.Stats   `json:"queues"`
	Breakers    map[string]breaker.Stats `json:"circuitBreakers"`
	DeadLetters int64                    `json:"deadLetters"`
	CheckedAt   time.Time                `json:"checkedAt"`
}

// Watchdog periodically samples queue depths, dead-letter depth and
// breaker states into metrics, and degrades the pipeline health when any
// of them signals trouble.
type Watchdog struct {
	inspector *queue.Inspector
	dlq       *queue.DeadLetterStore
	breakers  *breaker.Registry
	metrics   *metrics.Metrics
	rdb       redis.UniversalClient
	every     time.Duration
	logger    *slog.Logger
}

// NewWatchdog wires the watchdog.
func NewWatchdog(inspector *queue.Inspector, dlq *queue.DeadLetterStore, breakers *breaker.Registry, m *metrics.Metrics, rdb redis.UniversalClient, every time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		inspector: inspector,
		dlq:       dlq,
		breakers:  breakers,
		metrics:   m,
		rdb:       rdb,
		every:     every,
		logger:    logger,
	}
}

// Run samples until the context ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Collect(ctx)
		}
	}
}

// Collect takes one sample and exports it as metrics.
func (w *Watchdog) Collect(ctx context.Context) {
	for name, stats := range w.inspector.QueueStats() {
		w.metrics.QueueDepth.WithLabelValues(name, "waiting").Set(float64(stats.Waiting))
		w.metrics.QueueDepth.WithLabelValues(name, "active").Set(float64(stats.Active))
		w.metrics.QueueDepth.WithLabelValues(name, "failed").Set(float64(stats.Failed))
	}

	depth, err := w.dlq.Depth(ctx)
	if err != nil {
		w.logger.Warn("watchdog: dead-letter depth unavailable", "error", err)
	} else {
		w.metrics.DeadLetterDepth.Set(float64(depth))
	}

	if open := w.breakers.OpenCount(); open > 0 {
		w.logger.Warn("watchdog: open circuit breakers", "count", open)
	}
}

// Health builds the live status snapshot.
func (w *Watchdog) Health(ctx context.Context) Health {
	h := Health{
		Status:    "healthy",
		Redis:     "connected",
		Queues:    w.inspector.QueueStats(),
		Breakers:  w.breakers.Snapshot(),
		CheckedAt: time.Now().UTC(),
	}

	if err := w.rdb.Ping(ctx).Err(); err != nil {
		h.Redis = "disconnected"
		h.Status = "degraded"
	}

	depth, err := w.dlq.Depth(ctx)
	if err == nil {
		h.DeadLetters = depth
	}
	if h.DeadLetters > 0 || w.breakers.OpenCount() > 0 {
		h.Status = "degraded"
	}
	return h
}
