// Package feeder implements CrawlFeeder (C2): a singleton leader that
// drains each tenant's pending-URL queue into the shared job queue,
// respecting available capacity, with deterministic idempotent job IDs.
package feeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/queue"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// leaderAcquireScript grants leadership only if the key is unset or
// already owned by ownerToken (re-entrant refresh), grounded on
// pkg/services/document_lock_service.go's tryAcquireExpiredLock Lua CAS.
const leaderAcquireScript = `
local current = redis.call('GET', KEYS[1])
if current and current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`

// Config configures the Feeder.
type Config struct {
	LeaderKey         string
	LeaderLockTTL     time.Duration
	LeaderRefreshEach time.Duration
	DrainInterval     time.Duration
	DrainBatchSize    int
}

// DefaultConfig mirrors the teacher's ticker-driven job processor defaults.
func DefaultConfig() Config {
	return Config{
		LeaderKey:         "crawl_feeder:leader",
		LeaderLockTTL:     30 * time.Second,
		LeaderRefreshEach: 10 * time.Second,
		DrainInterval:     5 * time.Second,
		DrainBatchSize:    50,
	}
}

// CapacityLookup returns the currently configured available_capacity for
// a tenant+website pair, used to cap how many pending URLs get enqueued
// per drain pass.
type CapacityLookup func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error)

// Feeder is CrawlFeeder (C2).
type Feeder struct {
	redis      *redis.Client
	queue      queue.JobQueue
	capacity   CapacityLookup
	cfg        Config
	ownerToken string
	logger     observability.Logger

	isLeader atomic.Bool
	cancel   context.CancelFunc
}

// New builds a Feeder with a random owner token, used so leadership
// refresh can distinguish "still mine" from "someone else took over" --
// this resolves spec's Open Question #1 (see SPEC_FULL.md §11): refresh
// must be compare-and-set, never an unconditional EXPIRE.
func New(client *redis.Client, q queue.JobQueue, capacity CapacityLookup, cfg Config, logger observability.Logger) *Feeder {
	return &Feeder{
		redis:      client,
		queue:      q,
		capacity:   capacity,
		cfg:        cfg,
		ownerToken: uuid.New().String(),
		logger:     logger.WithPrefix("crawl-feeder"),
	}
}

// Start runs the leader-election and drain loops until ctx is cancelled.
func (f *Feeder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go f.leaderLoop(ctx)
}

// Stop ends the feeder's background loops.
func (f *Feeder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.isLeader.Store(false)
}

// IsLeader reports whether this instance currently holds the drain-loop
// leadership lock, for tests that need to observe split-brain-free leader election from outside the
// package.
func (f *Feeder) IsLeader() bool {
	return f.isLeader.Load()
}

func (f *Feeder) leaderLoop(ctx context.Context) {
	refreshTicker := time.NewTicker(f.cfg.LeaderRefreshEach)
	defer refreshTicker.Stop()

	isLeader := f.tryAcquireLeadership(ctx)
	f.isLeader.Store(isLeader)
	var drainCancel context.CancelFunc
	if isLeader {
		var drainCtx context.Context
		drainCtx, drainCancel = context.WithCancel(ctx)
		go f.drainLoop(drainCtx)
	}

	for {
		select {
		case <-ctx.Done():
			if drainCancel != nil {
				drainCancel()
			}
			return
		case <-refreshTicker.C:
			stillLeader := f.tryAcquireLeadership(ctx)
			f.isLeader.Store(stillLeader)
			if stillLeader && drainCancel == nil {
				var drainCtx context.Context
				drainCtx, drainCancel = context.WithCancel(ctx)
				go f.drainLoop(drainCtx)
			} else if !stillLeader && drainCancel != nil {
				f.logger.Warn("lost feeder leadership, demoting", nil)
				drainCancel()
				drainCancel = nil
			}
		}
	}
}

func (f *Feeder) tryAcquireLeadership(ctx context.Context) bool {
	res, err := f.redis.Eval(ctx, leaderAcquireScript, []string{f.cfg.LeaderKey},
		f.ownerToken, int(f.cfg.LeaderLockTTL.Seconds())).Result()
	if err != nil {
		f.logger.Warn("leader acquire/refresh failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	granted, _ := res.(int64)
	return granted == 1
}

func (f *Feeder) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.drainOnce(ctx); err != nil {
				f.logger.Error("drain pass failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// pendingEntry is what's stored in a tenant's Redis pending list.
type pendingEntry struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	WebsiteID uuid.UUID `json:"website_id"`
	RunID     uuid.UUID `json:"run_id"`
	URL       string    `json:"url"`
}

// drainOnce pulls up to DrainBatchSize pending URLs per tenant list found
// under the "tenant:*:crawl_pending" key pattern and enqueues each,
// subject to available_capacity.
func (f *Feeder) drainOnce(ctx context.Context) error {
	iter := f.redis.Scan(ctx, 0, "tenant:*:crawl_pending", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := f.drainTenantList(ctx, key); err != nil {
			f.logger.Error("draining tenant list failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	return iter.Err()
}

func (f *Feeder) drainTenantList(ctx context.Context, key string) error {
	enqueued := 0
	for i := 0; i < f.cfg.DrainBatchSize; i++ {
		raw, err := f.redis.LPop(ctx, key).Result()
		if err == redis.Nil {
			return nil // list drained
		}
		if err != nil {
			return err
		}

		var entry pendingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			f.logger.Warn("dropping malformed pending entry", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}

		available, err := f.capacity(ctx, entry.TenantID, entry.WebsiteID)
		if err != nil {
			return err
		}
		if enqueued >= available {
			// No capacity right now: push back to the tail so other
			// tenants get a turn, rather than busy-looping this one.
			if err := f.redis.RPush(ctx, key, raw).Err(); err != nil {
				return err
			}
			return nil
		}

		jobID := JobID(entry.RunID, entry.URL)
		payload, _ := json.Marshal(entry)
		if err := f.queue.Enqueue(ctx, jobID, payload); err != nil {
			return err
		}
		enqueued++
	}
	return nil
}

// JobID derives the deterministic, idempotent job ID for a URL within a
// run: "crawl:" + run_id + ":" + sha256(url)[:8], per spec §4.2.
func JobID(runID uuid.UUID, url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("crawl:%s:%s", runID.String(), hex.EncodeToString(sum[:])[:8])
}
