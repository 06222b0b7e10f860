// Package ratelimit schedules politeness delays against external domains.
//
// Every source domain gets a delay window; DelayFor returns a randomized
// value inside it so replicas hitting the same origin do not align into a
// thundering herd.
package ratelimit

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fiskal-io/regstream/internal/config"
)

// DomainLimiter yields randomized per-domain delays.
type DomainLimiter struct {
	mu       sync.RWMutex
	windows  map[string]config.DomainWindow
	fallback config.DomainWindow
	rand     *rand.Rand
}

// NewDomainLimiter builds a limiter from configuration. Domains without an
// override fall back to the conservative default window.
func NewDomainLimiter(cfg config.DomainsConfig) *DomainLimiter {
	windows := make(map[string]config.DomainWindow, len(cfg.Overrides))
	for domain, w := range cfg.Overrides {
		windows[strings.ToLower(domain)] = w
	}
	return &DomainLimiter{
		windows:  windows,
		fallback: cfg.Default,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DelayFor returns a randomized delay within the domain's configured window.
func (l *DomainLimiter) DelayFor(domain string) time.Duration {
	l.mu.RLock()
	w, ok := l.windows[strings.ToLower(domain)]
	l.mu.RUnlock()
	if !ok {
		w = l.fallback
	}

	span := w.MaxDelay - w.MinDelay
	if span <= 0 {
		return w.MinDelay
	}
	l.mu.Lock()
	jitter := time.Duration(l.rand.Int63n(int64(span)))
	l.mu.Unlock()
	return w.MinDelay + jitter
}

// Window returns the configured window for a domain (fallback if absent).
func (l *DomainLimiter) Window(domain string) config.DomainWindow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.windows[strings.ToLower(domain)]; ok {
		return w
	}
	return l.fallback
}

// SetWindow overrides the window for a domain at runtime.
func (l *DomainLimiter) SetWindow(domain string, w config.DomainWindow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[strings.ToLower(domain)] = w
}

// Domain extracts the host part of a URL, lowercased, without port.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
