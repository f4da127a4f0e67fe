package integration_test

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/concurrency"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/runner"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

type alwaysFailingFetcher struct{}

func (alwaysFailingFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	return "", "", errors.New("simulated fetch failure")
}

type noopPersister struct{}

func (noopPersister) PersistOne(ctx context.Context, page models.FetchedPage) models.IngestResult {
	return models.IngestResult{}
}

func plentyOfCapacity(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) {
	return 1000, nil
}

var _ = Describe("CrawlTaskRunner full-jitter backoff", func() {
	var (
		r        *runner.Runner
		limiter  *concurrency.Limiter
		tenantID uuid.UUID
	)

	BeforeEach(func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		limiter = concurrency.New(client, concurrency.DefaultConfig(), observability.NewStandardLogger("test"))
		tenantID = uuid.New()

		r = runner.New(limiter, alwaysFailingFetcher{}, noopPersister{}, plentyOfCapacity, runner.Config{
			BaseBackoff: 10 * time.Millisecond,
			MaxBackoff:  60 * time.Millisecond,
			MaxRetries:  1_000_000, // high enough that no sample in this run gets abandoned
			MaxAge:      24 * time.Hour,
		}, observability.NewStandardLogger("test"))
	})

	// Scenario B: 10,000 samples of the backoff computed for attempt=3
	// (tenant:{id}:limiter_backoff already at 2, this run's failure
	// advances it to 3) with base=10ms, max=60ms. cap = min(60, 10*2^2) =
	// 40ms. All samples must land in [0, 40ms]; the mean must land within
	// 15% of 20ms (the midpoint of a uniform distribution on [0, 40]).
	It("produces a full-jitter delay bounded by min(max_delay, base*2^(attempt-1))", func() {
		const samples = 10_000
		var total time.Duration

		for i := 0; i < samples; i++ {
			ctx := context.Background()
			Expect(limiter.ResetBackoff(ctx, tenantID)).To(Succeed())
			_, err := limiter.IncrementBackoff(ctx, tenantID) // streak -> 1
			Expect(err).NotTo(HaveOccurred())
			_, err = limiter.IncrementBackoff(ctx, tenantID) // streak -> 2
			Expect(err).NotTo(HaveOccurred())

			job := &models.CrawlJob{
				ID:          "crawl:run:sample",
				TenantID:    tenantID,
				WebsiteID:   uuid.New(),
				URL:         "https://example.com/page",
				FirstSeenAt: time.Now(),
			}

			// This call's own failure advances the shared streak to 3
			// and computes the delay from that value.
			outcome, delay := r.RunOnce(ctx, job)
			Expect(outcome).To(Equal(runner.OutcomeFailedRetryable))
			Expect(delay).To(BeNumerically(">=", 0))
			Expect(delay).To(BeNumerically("<=", 40*time.Millisecond))

			total += delay
		}

		mean := total / time.Duration(samples)
		lowerBound := time.Duration(float64(20*time.Millisecond) * 0.85)
		upperBound := time.Duration(float64(20*time.Millisecond) * 1.15)
		Expect(mean).To(BeNumerically(">=", lowerBound))
		Expect(mean).To(BeNumerically("<=", upperBound))
	})
})
