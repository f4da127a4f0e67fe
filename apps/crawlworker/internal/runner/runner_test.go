package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/concurrency"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

type stubFetcher struct {
	err error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "title", "content", nil
}

type stubPersister struct {
	result models.IngestResult
}

func (p *stubPersister) PersistOne(ctx context.Context, page models.FetchedPage) models.IngestResult {
	return p.result
}

func newTestLimiter(t *testing.T) *concurrency.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return concurrency.New(client, concurrency.DefaultConfig(), observability.NewStandardLogger("test"))
}

func unlimited(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) {
	return 10, nil
}

func TestRunOnceSucceedsAndResetsRetryCount(t *testing.T) {
	r := New(newTestLimiter(t), &stubFetcher{}, &stubPersister{}, unlimited, DefaultConfig(), observability.NewStandardLogger("test"))
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: uuid.New(), WebsiteID: uuid.New(),
		URL: "https://example.com", RetryCount: 3, FirstSeenAt: time.Now(),
	}

	outcome, delay := r.RunOnce(context.Background(), job)

	require.Equal(t, OutcomeSucceeded, outcome)
	require.Zero(t, delay)
	require.Zero(t, job.RetryCount, "success must reset the retry counter")
}

func TestRunOnceCapacityDeniedDoesNotIncrementRetryCount(t *testing.T) {
	zeroCapacity := func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) { return 0, nil }
	r := New(newTestLimiter(t), &stubFetcher{}, &stubPersister{}, zeroCapacity, DefaultConfig(), observability.NewStandardLogger("test"))
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: uuid.New(), WebsiteID: uuid.New(),
		URL: "https://example.com", FirstSeenAt: time.Now(),
	}

	outcome, delay := r.RunOnce(context.Background(), job)

	require.Equal(t, OutcomeCapacityDenied, outcome)
	require.GreaterOrEqual(t, delay, time.Duration(0))
	require.LessOrEqual(t, delay, DefaultConfig().BaseBackoff, "first denial backs off at most one base interval")
	require.Zero(t, job.RetryCount, "capacity denial is not a failure and must not count toward retries")
}

func TestRunOnceFetchFailureBacksOffAndIncrementsRetryCount(t *testing.T) {
	r := New(newTestLimiter(t), &stubFetcher{err: errors.New("fetch boom")}, &stubPersister{}, unlimited, DefaultConfig(), observability.NewStandardLogger("test"))
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: uuid.New(), WebsiteID: uuid.New(),
		URL: "https://example.com", FirstSeenAt: time.Now(),
	}

	outcome, delay := r.RunOnce(context.Background(), job)

	require.Equal(t, OutcomeFailedRetryable, outcome)
	require.Equal(t, 1, job.RetryCount)
	require.GreaterOrEqual(t, delay, time.Duration(0))
	require.LessOrEqual(t, delay, DefaultConfig().BaseBackoff)
}

func TestRunOnceReleasesSlotOnPersistFailure(t *testing.T) {
	limiter := newTestLimiter(t)
	failingPersister := &stubPersister{result: models.IngestResult{FailedCount: 1}}
	r := New(limiter, &stubFetcher{}, failingPersister, unlimited, DefaultConfig(), observability.NewStandardLogger("test"))

	tenantID := uuid.New()
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: tenantID, WebsiteID: uuid.New(),
		URL: "https://example.com", FirstSeenAt: time.Now(),
	}

	outcome, _ := r.RunOnce(context.Background(), job)
	require.Equal(t, OutcomeFailedRetryable, outcome)

	// The slot must have been released even though persistence failed:
	// re-acquiring up to full capacity should succeed without being
	// blocked by a leaked slot.
	for i := 0; i < 10; i++ {
		_, granted, err := limiter.Acquire(context.Background(), tenantID, 10)
		require.NoError(t, err)
		require.True(t, granted, "slot from the failed run must have been released")
	}
}

func TestRunOnceExceedingMaxRetriesAbandons(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	r := New(newTestLimiter(t), &stubFetcher{err: errors.New("still failing")}, &stubPersister{}, unlimited, cfg, observability.NewStandardLogger("test"))
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: uuid.New(), WebsiteID: uuid.New(),
		URL: "https://example.com", RetryCount: 2, FirstSeenAt: time.Now(),
	}

	outcome, delay := r.RunOnce(context.Background(), job)

	require.Equal(t, OutcomeAbandoned, outcome)
	require.Zero(t, delay)
}

func TestRunOnceAbandonsJobsPastMaxAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = time.Hour
	r := New(newTestLimiter(t), &stubFetcher{}, &stubPersister{}, unlimited, cfg, observability.NewStandardLogger("test"))
	job := &models.CrawlJob{
		ID: "crawl:run:abcd1234", TenantID: uuid.New(), WebsiteID: uuid.New(),
		URL: "https://example.com", FirstSeenAt: time.Now().Add(-2 * time.Hour),
	}

	outcome, _ := r.RunOnce(context.Background(), job)

	require.Equal(t, OutcomeAbandoned, outcome)
}
