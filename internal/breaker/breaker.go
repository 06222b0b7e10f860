// Package breaker maintains one named circuit breaker per external
// dependency (source domains, the LLM endpoint) so a failing origin sheds
// load instead of dragging the pipeline down with it.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/metrics"
)

// ErrOpen is returned when the breaker refuses the call outright.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker wraps one external dependency. CLOSED passes calls through, OPEN
// fails them fast, HALF_OPEN lets a single trial call decide.
type Breaker struct {
	name        string
	callTimeout time.Duration
	cb          *gobreaker.CircuitBreaker[struct{}]
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Registry hands out named breakers sharing one configuration. It is
// constructed once and injected into everything that talks to the outside.
type Registry struct {
	mu       sync.Mutex
	cfg      config.BreakerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg config.BreakerConfig, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, r.cfg, r.logger, r.metrics)
	r.breakers[name] = b
	return b
}

// Snapshot reports every known breaker's state and counters.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}

// OpenCount returns how many breakers are currently open.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.breakers {
		if b.cb.State() == gobreaker.StateOpen {
			n++
		}
	}
	return n
}

func newBreaker(name string, cfg config.BreakerConfig, logger *slog.Logger, m *metrics.Metrics) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single trial call in HALF_OPEN
		Interval:    cfg.Window,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failurePct := int(counts.TotalFailures * 100 / counts.Requests)
			return failurePct >= cfg.ErrorThresholdPc
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.BreakerTransition.WithLabelValues(name, to.String()).Inc()
			}
		},
	}
	return &Breaker{
		name:        name,
		callTimeout: cfg.CallTimeout,
		cb:          gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Do runs fn through the breaker with the configured call timeout. When the
// circuit is open the call fails immediately with ErrOpen and fn is never
// invoked.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		callCtx := ctx
		if b.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
		return struct{}{}, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current state name ("closed", "open", "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Stats returns the breaker's rolling-window counters.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	return Stats{
		State:                b.cb.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
