package integration_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/concurrency"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

var _ = Describe("TenantConcurrencyLimiter bounded admission", func() {
	var (
		mr       *miniredis.Miniredis
		limiter  *concurrency.Limiter
		tenantID uuid.UUID
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		limiter = concurrency.New(client, concurrency.DefaultConfig(), observability.NewStandardLogger("test"))
		tenantID = uuid.New()
	})

	AfterEach(func() {
		mr.Close()
	})

	// Scenario A: max_concurrent=2, 5 tasks each acquire/sleep(100ms)/
	// release. Observed peak active slots never exceeds 2; all 5 complete.
	It("never admits more than max_concurrent holders at once", func() {
		const maxConcurrent = 2
		const taskCount = 5

		var active int32
		var peak int32
		var wg sync.WaitGroup
		completed := make(chan struct{}, taskCount)

		for i := 0; i < taskCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx := context.Background()
				for {
					slot, granted, err := limiter.Acquire(ctx, tenantID, maxConcurrent)
					Expect(err).NotTo(HaveOccurred())
					if !granted {
						time.Sleep(5 * time.Millisecond)
						continue
					}

					cur := atomic.AddInt32(&active, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
							break
						}
					}

					time.Sleep(100 * time.Millisecond)

					atomic.AddInt32(&active, -1)
					Expect(limiter.Release(ctx, slot)).To(Succeed())
					completed <- struct{}{}
					return
				}
			}()
		}

		wg.Wait()
		close(completed)

		count := 0
		for range completed {
			count++
		}

		Expect(count).To(Equal(taskCount), "all tasks must eventually complete")
		Expect(atomic.LoadInt32(&peak)).To(BeNumerically("<=", maxConcurrent))
	})

	// Release idempotence: acquire; release; release leaves the same
	// counters as acquire; release.
	It("treats a second release on the same slot as a no-op", func() {
		ctx := context.Background()
		slot, granted, err := limiter.Acquire(ctx, tenantID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(granted).To(BeTrue())

		Expect(limiter.Release(ctx, slot)).To(Succeed())
		Expect(limiter.Release(ctx, slot)).To(Succeed())

		state := limiter.Inspect(ctx, tenantID, 1)
		Expect(state.ActiveSlots).To(Equal(0))
		Expect(state.AvailableCapacity).To(Equal(1))
	})
})
