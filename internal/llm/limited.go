package llm

import (
	"context"
	"encoding/json"

	"github.com/fiskal-io/regstream/internal/breaker"
	"github.com/fiskal-io/regstream/internal/metrics"
)

// CallBudget grants permits for model calls. Implemented by *Budget.
type CallBudget interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
}

// LimitedPort decorates a Port with the shared call budget, the LLM circuit
// breaker and call metrics. All pipeline workers receive this wrapper, never
// the raw provider.
type LimitedPort struct {
	inner   Port
	budget  CallBudget
	breaker *breaker.Breaker
	metrics *metrics.Metrics
}

// NewLimitedPort wraps a provider. Budget and breaker may be nil in tests.
func NewLimitedPort(inner Port, budget CallBudget, b *breaker.Breaker, m *metrics.Metrics) *LimitedPort {
	return &LimitedPort{inner: inner, budget: budget, breaker: b, metrics: m}
}

// Name returns the wrapped provider's name.
func (p *LimitedPort) Name() string { return p.inner.Name() }

// CompleteJSON suspends on the global budget, then runs the call through
// the breaker.
func (p *LimitedPort) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if p.budget != nil {
		if err := p.budget.Acquire(ctx); err != nil {
			p.count(req.Task, "budget_exhausted")
			return nil, err
		}
		defer p.budget.Release(context.WithoutCancel(ctx))
	}

	var doc json.RawMessage
	call := func(ctx context.Context) error {
		var err error
		doc, err = p.inner.CompleteJSON(ctx, req)
		return err
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		p.count(req.Task, "error")
		return nil, err
	}
	p.count(req.Task, "ok")
	return doc, nil
}

func (p *LimitedPort) count(task Task, status string) {
	if p.metrics != nil {
		p.metrics.LLMCalls.WithLabelValues(string(task), status).Inc()
	}
}
