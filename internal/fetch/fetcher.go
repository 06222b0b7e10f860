// Package fetch retrieves source pages politely: robots.txt compliance,
// redirect and size caps, and a circuit breaker per source domain.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fiskal-io/regstream/internal/breaker"
	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/ratelimit"
)

// ErrRobotsDisallowed marks a URL the source site's robots.txt forbids.
// It is permanent for the URL; callers must not retry.
var ErrRobotsDisallowed = errors.New("fetch: disallowed by robots.txt")

// Result is one fetched page snapshot.
type Result struct {
	Body        string
	ContentType string
	ContentHash string // hex sha256 of the body
	FinalURL    string
	StatusCode  int
	FetchedAt   time.Time
}

// Fetcher fetches page content from source URLs.
type Fetcher struct {
	httpClient *http.Client
	robots     *RobotsChecker
	breakers   *breaker.Registry
	userAgent  string
	maxBytes   int64
}

// New creates a Fetcher. Each source domain gets its own circuit breaker
// from the registry, so one flaky gazette cannot poison the rest.
func New(cfg config.SentinelConfig, breakers *breaker.Registry) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		robots:    NewRobotsChecker(cfg.UserAgent, cfg.FetchTimeout),
		breakers:  breakers,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
	}
}

// Fetch retrieves one URL through the domain's breaker after a robots
// check. A robots denial does not count against the breaker.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	allowed, _, err := f.robots.CanFetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if !allowed {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrRobotsDisallowed)
	}

	domain := ratelimit.Domain(rawURL)
	br := f.breakers.Get("fetch:" + domain)

	var result *Result
	err = br.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		result, fetchErr = f.fetch(ctx, rawURL)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return result, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	sum := sha256.Sum256(body)
	return &Result{
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		ContentHash: hex.EncodeToString(sum[:]),
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
