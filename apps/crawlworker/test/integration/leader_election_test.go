package integration_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/feeder"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/queue"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// noopJobQueue satisfies queue.JobQueue without a real backend: the
// leader-election scenario only needs the feeder's drain loop to have
// somewhere to enqueue, never whether it actually delivers anything.
type noopJobQueue struct{}

func (noopJobQueue) Enqueue(ctx context.Context, jobID string, payload []byte) error { return nil }
func (noopJobQueue) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]queue.Message, error) {
	return nil, nil
}
func (noopJobQueue) Ack(ctx context.Context, msg queue.Message) error { return nil }
func (noopJobQueue) Requeue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	return nil
}
func (noopJobQueue) Depth(ctx context.Context) (int64, error) { return 0, nil }

var _ = Describe("CrawlFeeder leader election", func() {
	// Scenario D: launch 5 feeder instances simultaneously against the
	// same Redis. After leadership settles, exactly one of them must
	// believe itself leader -- split-brain must never occur.
	It("elects exactly one leader among concurrently-starting instances", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		const instanceCount = 5
		feeders := make([]*feeder.Feeder, instanceCount)
		cfg := feeder.Config{
			LeaderKey:         "integration-test:leader",
			LeaderLockTTL:     2 * time.Second,
			LeaderRefreshEach: 500 * time.Millisecond,
			DrainInterval:     time.Hour, // the drain loop itself is irrelevant here
			DrainBatchSize:    1,
		}

		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)

		for i := 0; i < instanceCount; i++ {
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			f := feeder.New(client, noopJobQueue{}, unlimitedCapacity, cfg, observability.NewStandardLogger("test"))
			feeders[i] = f
			f.Start(ctx)
		}

		Eventually(func() int {
			var leaders int32
			for _, f := range feeders {
				if f.IsLeader() {
					atomic.AddInt32(&leaders, 1)
				}
			}
			return int(leaders)
		}, 2*time.Second, 20*time.Millisecond).Should(Equal(1))

		for _, f := range feeders {
			f.Stop()
		}
	})
})

func unlimitedCapacity(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) {
	return 1000, nil
}
