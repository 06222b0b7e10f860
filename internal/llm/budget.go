package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/metrics"
)

// budgetScript holds the whole reservoir check in one atomic step:
// token refill, minimum inter-call spacing, and the active-call ceiling.
// KEYS[1] = reservoir hash key
// ARGV[1] = capacity, ARGV[2] = refill amount, ARGV[3] = refill interval ms
// ARGV[4] = min spacing ms, ARGV[5] = max active, ARGV[6] = now ms
var budgetScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local spacing = tonumber(ARGV[4])
local max_active = tonumber(ARGV[5])
local now = tonumber(ARGV[6])

local state = redis.call("HMGET", key, "tokens", "last_refill", "last_call", "active")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
local last_call = tonumber(state[3])
local active = tonumber(state[4])

if not tokens then
    tokens = capacity
    last_refill = now
    last_call = 0
    active = 0
end

local elapsed = now - last_refill
if elapsed >= interval then
    local intervals = math.floor(elapsed / interval)
    tokens = math.min(capacity, tokens + intervals * refill)
    last_refill = last_refill + intervals * interval
end

if active >= max_active then
    redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
    redis.call("PEXPIRE", key, interval * 3)
    return {0, "active"}
end
if now - last_call < spacing then
    redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
    redis.call("PEXPIRE", key, interval * 3)
    return {0, "spacing"}
end
if tokens < 1 then
    redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
    redis.call("PEXPIRE", key, interval * 3)
    return {0, "tokens"}
end

tokens = tokens - 1
active = active + 1
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill, "last_call", now, "active", active)
redis.call("PEXPIRE", key, interval * 3)
return {1, "ok"}
`)

var releaseScript = redis.NewScript(`
local active = tonumber(redis.call("HGET", KEYS[1], "active"))
if active and active > 0 then
    redis.call("HSET", KEYS[1], "active", active - 1)
end
return 1
`)

const budgetKey = "regstream:llm:budget"

// Budget is the shared global LLM call reservoir. Every worker process
// acquires a permit here before any model call, which makes it the
// pipeline's primary backpressure mechanism.
type Budget struct {
	rdb     redis.UniversalClient
	cfg     config.BudgetConfig
	metrics *metrics.Metrics
}

// NewBudget builds the reservoir on an existing Redis client.
func NewBudget(rdb redis.UniversalClient, cfg config.BudgetConfig, m *metrics.Metrics) *Budget {
	return &Budget{rdb: rdb, cfg: cfg, metrics: m}
}

// Acquire blocks until a permit is available or the context ends. On
// success the caller must Release exactly once.
func (b *Budget) Acquire(ctx context.Context) error {
	waited := false
	for {
		ok, err := b.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !waited {
			waited = true
			if b.metrics != nil {
				b.metrics.RateLimitHits.WithLabelValues("llm_budget").Inc()
			}
		}

		// Jittered poll so competing workers do not line up.
		wait := 100*time.Millisecond + time.Duration(rand.Int63n(int64(150*time.Millisecond)))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBudgetExhausted, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Release returns an active-call permit. Errors are best-effort: the state
// hash expires on its own if a process dies mid-call.
func (b *Budget) Release(ctx context.Context) {
	_ = releaseScript.Run(ctx, b.rdb, []string{budgetKey}).Err()
}

func (b *Budget) tryAcquire(ctx context.Context) (bool, error) {
	res, err := budgetScript.Run(ctx, b.rdb, []string{budgetKey},
		b.cfg.Capacity,
		b.cfg.RefillAmount,
		b.cfg.RefillInterval.Milliseconds(),
		b.cfg.MinSpacing.Milliseconds(),
		b.cfg.MaxActive,
		time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("llm budget: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, fmt.Errorf("llm budget: unexpected script result %v", res)
	}
	allowed, _ := vals[0].(int64)
	return allowed == 1, nil
}
