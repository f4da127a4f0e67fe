package integration_test

import (
	"context"
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

type succeedingFetcher struct{}

func (succeedingFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	return "title", "content", nil
}

type succeedingPersister struct{}

func (succeedingPersister) PersistOne(ctx context.Context, page models.FetchedPage) models.IngestResult {
	return models.IngestResult{SuccessCount: 1, SuccessfulURLs: []string{page.URL}}
}

// Scenario F: max_concurrent=1, one long-running job holds the slot.
// Submitting 5 more each requeues with a growing delay (limiter_backoff
// advancing) but none of them count as a retry. Once the long job
// releases the slot and the next job succeeds, the backoff streak resets:
// the following denial is back at the base delay.
var _ = Describe("CrawlTaskRunner sustained overload and reset", func() {
	var (
		mr       *miniredis.Miniredis
		limiter  *concurrency.Limiter
		tenantID uuid.UUID
		capacity func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error)
		cfg      runner.Config
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		limiter = concurrency.New(client, concurrency.DefaultConfig(), observability.NewStandardLogger("test"))
		tenantID = uuid.New()
		capacity = func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) { return 1, nil }
		cfg = runner.Config{
			BaseBackoff: 10 * time.Millisecond,
			MaxBackoff:  60 * time.Millisecond,
			MaxRetries:  1_000_000,
			MaxAge:      24 * time.Hour,
		}
	})

	AfterEach(func() {
		mr.Close()
	})

	It("grows the requeue delay under sustained denial and resets it after the next success", func() {
		ctx := context.Background()
		websiteID := uuid.New()

		// Simulate the one long-running job already holding the tenant's
		// only slot.
		longJobSlot, granted, err := limiter.Acquire(ctx, tenantID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(granted).To(BeTrue())

		deniedRunner := runner.New(limiter, succeedingFetcher{}, succeedingPersister{}, capacity, cfg, observability.NewStandardLogger("test"))

		delayCaps := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond, 60 * time.Millisecond}
		for i, delayCap := range delayCaps {
			job := &models.CrawlJob{
				ID: "crawl:run:overload", TenantID: tenantID, WebsiteID: websiteID,
				URL: "https://example.com/overloaded", FirstSeenAt: time.Now(),
			}

			outcome, delay := deniedRunner.RunOnce(ctx, job)

			Expect(outcome).To(Equal(runner.OutcomeCapacityDenied), "attempt %d", i+1)
			Expect(job.RetryCount).To(BeZero(), "capacity denial must never advance retry_count")
			Expect(delay).To(BeNumerically(">=", 0))
			Expect(delay).To(BeNumerically("<=", delayCap), "attempt %d delay must respect its growing cap", i+1)
		}

		// The long job finishes and releases the slot.
		Expect(limiter.Release(ctx, longJobSlot)).To(Succeed())

		// The next job succeeds, which must reset the streak.
		successJob := &models.CrawlJob{
			ID: "crawl:run:overload-success", TenantID: tenantID, WebsiteID: websiteID,
			URL: "https://example.com/recovered", FirstSeenAt: time.Now(),
		}
		outcome, delay := deniedRunner.RunOnce(ctx, successJob)
		Expect(outcome).To(Equal(runner.OutcomeSucceeded))
		Expect(delay).To(BeZero())

		// Hold the slot again and confirm the very next denial is back at
		// the base-level cap, not continuing the old streak.
		nextLongSlot, granted, err := limiter.Acquire(ctx, tenantID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(granted).To(BeTrue())
		DeferCleanup(func() { _ = limiter.Release(ctx, nextLongSlot) })

		resetJob := &models.CrawlJob{
			ID: "crawl:run:post-reset", TenantID: tenantID, WebsiteID: websiteID,
			URL: "https://example.com/post-reset", FirstSeenAt: time.Now(),
		}
		outcome, delay = deniedRunner.RunOnce(ctx, resetJob)
		Expect(outcome).To(Equal(runner.OutcomeCapacityDenied))
		Expect(delay).To(BeNumerically("<=", 10*time.Millisecond), "limiter_backoff must have been deleted on the prior success")
	})
})
