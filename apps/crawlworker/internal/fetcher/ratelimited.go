// Package fetcher wraps CrawlTaskRunner's external fetch collaborator
// with outbound rate limiting. Implementing the crawler's HTML fetcher
// itself is explicitly out of scope (spec's non-goals) -- this package
// only decorates whatever concrete Fetcher a deployment supplies.
package fetcher

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Underlying is the real fetch collaborator -- structurally identical to
// runner.Fetcher, kept as a local type so this package has no dependency
// on internal/runner.
type Underlying interface {
	Fetch(ctx context.Context, url string) (title, content string, err error)
}

// RateLimited bounds how often the underlying fetcher is called, so one
// misbehaving crawl doesn't hammer a tenant's target site.
type RateLimited struct {
	underlying Underlying
	limiter    *rate.Limiter
}

// NewRateLimited builds a decorator allowing requestsPerSecond steady
// throughput with a burst of up to burst concurrent requests.
func NewRateLimited(underlying Underlying, requestsPerSecond float64, burst int) *RateLimited {
	return &RateLimited{
		underlying: underlying,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Fetch blocks until the rate limiter admits a slot, then delegates.
func (r *RateLimited) Fetch(ctx context.Context, url string) (string, string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", "", fmt.Errorf("rate limiter wait: %w", err)
	}
	return r.underlying.Fetch(ctx, url)
}

// Unconfigured is a placeholder Underlying that always errors, used when
// a deployment hasn't wired a real fetcher yet. Its existence lets
// cmd/worker construct a complete Runner without depending on a concrete
// HTML-fetching implementation, which this module does not provide.
type Unconfigured struct{}

func (Unconfigured) Fetch(ctx context.Context, url string) (string, string, error) {
	return "", "", fmt.Errorf("no fetcher configured for url %q", url)
}
