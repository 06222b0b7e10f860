package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiskal-io/regstream/internal/breaker"
	"github.com/fiskal-io/regstream/internal/config"
	"github.com/fiskal-io/regstream/internal/metrics"
)

func testFetcher(t *testing.T) *Fetcher {
	t.Helper()
	cfg := config.SentinelConfig{
		UserAgent:    "regstream-test/1.0",
		FetchTimeout: 5 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	breakers := breaker.NewRegistry(config.Default().Breakers, logger, metrics.New())
	return New(cfg, breakers)
}

func TestFetchReturnsHashedBody(t *testing.T) {
	const page = "<html><body>Umsatzsteuer aktuell</body></html>"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "regstream-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer ts.Close()

	res, err := testFetcher(t).Fetch(context.Background(), ts.URL+"/news")
	require.NoError(t, err)

	assert.Equal(t, page, res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)

	sum := sha256.Sum256([]byte(page))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.ContentHash)
}

func TestFetchHonorsRobotsDisallow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = io.WriteString(w, "User-agent: *\nDisallow: /intern/\n")
			return
		}
		t.Errorf("fetched disallowed path %s", r.URL.Path)
	}))
	defer ts.Close()

	_, err := testFetcher(t).Fetch(context.Background(), ts.URL+"/intern/entwurf")
	assert.ErrorIs(t, err, ErrRobotsDisallowed)
}

func TestFetchStopsAfterThreeRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer ts.Close()

	_, err := testFetcher(t).Fetch(context.Background(), ts.URL+"/loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirects")
}

func TestFetchCapsBodySize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, strings.Repeat("a", 4096))
	}))
	defer ts.Close()

	cfg := config.SentinelConfig{
		UserAgent:    "regstream-test/1.0",
		FetchTimeout: 5 * time.Second,
		MaxBodyBytes: 100,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := New(cfg, breaker.NewRegistry(config.Default().Breakers, logger, metrics.New()))

	res, err := f.Fetch(context.Background(), ts.URL+"/big")
	require.NoError(t, err)
	assert.Len(t, res.Body, 100)
}

func TestFetchNonOKStatusFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := testFetcher(t).Fetch(context.Background(), ts.URL+"/broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestRobotsCrawlDelayParsed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "User-agent: *\nCrawl-delay: 2\nAllow: /\n")
	}))
	defer ts.Close()

	checker := NewRobotsChecker("regstream-test/1.0", 5*time.Second)
	allowed, delay, err := checker.CanFetch(context.Background(), ts.URL+"/page")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2*time.Second, delay)
}
