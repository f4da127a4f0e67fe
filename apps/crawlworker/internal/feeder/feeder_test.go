package feeder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/queue"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

func TestJobIDIsDeterministic(t *testing.T) {
	runID := uuid.New()
	id1 := JobID(runID, "https://example.com/a")
	id2 := JobID(runID, "https://example.com/a")
	id3 := JobID(runID, "https://example.com/b")

	require.Equal(t, id1, id2, "same run+url must hash to the same job id")
	require.NotEqual(t, id1, id3)
	require.Contains(t, id1, "crawl:"+runID.String()+":")
}

func TestTryAcquireLeadershipIsCompareAndSet(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	logger := observability.NewStandardLogger("test")
	f1 := New(client, nil, nil, Config{LeaderKey: "crawl_feeder:leader", LeaderLockTTL: time.Second}, logger)
	f2 := New(client, nil, nil, Config{LeaderKey: "crawl_feeder:leader", LeaderLockTTL: time.Second}, logger)

	ctx := context.Background()
	require.True(t, f1.tryAcquireLeadership(ctx), "first acquirer should become leader")
	require.False(t, f2.tryAcquireLeadership(ctx), "second instance must not also become leader")

	// f1 can refresh its own lock.
	require.True(t, f1.tryAcquireLeadership(ctx))

	mr.FastForward(2 * time.Second) // let the lock expire
	require.True(t, f2.tryAcquireLeadership(ctx), "after expiry, a new instance may take over")
	require.False(t, f1.tryAcquireLeadership(ctx), "the old leader must not silently reclaim after losing it")
}

func TestDrainSkipsTenantOverCapacity(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tenantID, websiteID, runID := uuid.New(), uuid.New(), uuid.New()
	entry := pendingEntry{TenantID: tenantID, WebsiteID: websiteID, RunID: runID, URL: "https://example.com/x"}
	raw, _ := json.Marshal(entry)

	key := "tenant:" + tenantID.String() + ":crawl_pending"
	require.NoError(t, client.RPush(context.Background(), key, raw).Err())

	q := &noopQueue{}
	f := New(client, q, func(ctx context.Context, t, w uuid.UUID) (int, error) { return 0, nil },
		DefaultConfig(), observability.NewStandardLogger("test"))

	require.NoError(t, f.drainTenantList(context.Background(), key))
	require.Empty(t, q.jobIDs, "zero capacity must not enqueue anything")

	remaining, err := client.LLen(context.Background(), key).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), remaining, "entry must be pushed back, not dropped")
}

type noopQueue struct {
	jobIDs []string
}

func (q *noopQueue) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	q.jobIDs = append(q.jobIDs, jobID)
	return nil
}
func (q *noopQueue) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]queue.Message, error) {
	return nil, nil
}
func (q *noopQueue) Ack(ctx context.Context, msg queue.Message) error { return nil }
func (q *noopQueue) Requeue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	return nil
}
func (q *noopQueue) Depth(ctx context.Context) (int64, error) { return 0, nil }
