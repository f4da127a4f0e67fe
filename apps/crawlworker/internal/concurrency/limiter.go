// Package concurrency implements TenantConcurrencyLimiter: a per-tenant
// admission control gate backed by Redis, with an in-memory fallback and a
// circuit breaker that protects Redis from a thundering herd of retries
// when it is unhealthy.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// BreakerState mirrors the three states a per-tenant circuit breaker can
// be in, grounded on pkg/redis/circuit_breaker.go's CircuitState.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// acquireSlot.lua atomically checks the current count against the
// tenant's configured capacity and increments it only if there is room.
// Grounded on pkg/services/document_lock_service.go's tryAcquireExpiredLock
// Lua compare-and-swap, generalized from a single lock value to a bounded
// counter.
const acquireSlotScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or "0")
local capacity = tonumber(ARGV[1])
if current >= capacity then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`

const releaseSlotScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or "0")
if current <= 0 then
  return 0
end
redis.call('DECR', KEYS[1])
return 1
`

// Config configures a Limiter.
type Config struct {
	BreakerFailThreshold int
	BreakerResetTimeout  time.Duration
	BreakerHalfOpenMax   int
	SlotKeyTTL           time.Duration
}

// DefaultConfig returns sensible defaults, mirroring
// resilience.DefaultCircuitBreakerConfig in shape.
func DefaultConfig() Config {
	return Config{
		BreakerFailThreshold: 5,
		BreakerResetTimeout:  30 * time.Second,
		BreakerHalfOpenMax:   3,
		SlotKeyTTL:           1 * time.Hour,
	}
}

// breaker is a minimal per-tenant circuit breaker. It is intentionally not
// sony/gobreaker: it needs to be keyed per-tenant with cheap construction
// (one per Acquire call may check a map), and it must never trip on a
// capacity-denied response, only on Redis operational failures -- a
// distinction gobreaker's generic "error counting" can't express without
// the caller pre-filtering errors anyway, so a dedicated type is clearer.
type breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	halfOpenReqs int
	lastAttempt  time.Time
	generation   uint64
	cfg          Config
}

func newBreaker(cfg Config) *breaker {
	return &breaker{cfg: cfg}
}

// allow reports whether an operation may proceed, and the generation token
// the caller must present back to recordResult so stale half-open probes
// are ignored -- grounded on pkg/redis/circuit_breaker.go's
// beforeRequest/afterRequest(generation, err) pattern.
func (b *breaker) allow() (bool, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastAttempt) > b.cfg.BreakerResetTimeout {
			b.state = BreakerHalfOpen
			b.halfOpenReqs = 0
			b.generation++
		} else {
			return false, b.generation
		}
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.cfg.BreakerHalfOpenMax {
			return false, b.generation
		}
		b.halfOpenReqs++
	}

	b.lastAttempt = time.Now()
	return true, b.generation
}

func (b *breaker) recordResult(generation uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return // stale result from a probe that no longer matters
	}

	if err == nil {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.state = BreakerClosed
		}
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.BreakerFailThreshold {
		b.state = BreakerOpen
		b.generation++
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Limiter is TenantConcurrencyLimiter (C1).
type Limiter struct {
	redis    redis.Cmdable
	cfg      Config
	logger   observability.Logger
	breakers sync.Map // tenantID -> *breaker

	fallbackMu sync.Mutex
	fallback   map[string]int // tenantID -> active slot count, used while breaker is open or when a Redis acquire fails
}

// New builds a Limiter.
func New(client redis.Cmdable, cfg Config, logger observability.Logger) *Limiter {
	return &Limiter{
		redis:    client,
		cfg:      cfg,
		logger:   logger.WithPrefix("tenant-limiter"),
		fallback: make(map[string]int),
	}
}

func (l *Limiter) breakerFor(tenantID uuid.UUID) *breaker {
	v, _ := l.breakers.LoadOrStore(tenantID.String(), newBreaker(l.cfg))
	return v.(*breaker)
}

// Slot is the handle returned by Acquire; callers must always call
// Release, exactly once, regardless of how the crawl task finishes
// (success, failure, or panic) -- per spec §4.1/§4.3.
type Slot struct {
	tenantID   uuid.UUID
	key        string
	viaFallback bool
	released   bool
	mu         sync.Mutex
}

// UsedFallback reports whether this slot was acquired through the
// in-memory fallback path rather than Redis.
func (s *Slot) UsedFallback() bool {
	return s.viaFallback
}

func slotKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:active_slots", tenantID.String())
}

// Acquire attempts to reserve one concurrency slot for tenantID, bounded
// by capacity. It never blocks: callers that are denied a slot must
// requeue the crawl task (capacity-denied, not a failure, per spec §4.3).
func (l *Limiter) Acquire(ctx context.Context, tenantID uuid.UUID, capacity int) (*Slot, bool, error) {
	br := l.breakerFor(tenantID)
	ok, gen := br.allow()
	if !ok {
		return l.acquireFallback(tenantID, capacity)
	}

	key := slotKey(tenantID)
	res, err := l.redis.Eval(ctx, acquireSlotScript, []string{key},
		capacity, int(l.cfg.SlotKeyTTL.Seconds())).Result()
	br.recordResult(gen, err)
	if err != nil {
		l.logger.Warn("redis acquire failed, falling back", map[string]interface{}{
			"tenant_id": tenantID.String(),
			"error":     err.Error(),
		})
		return l.acquireFallback(tenantID, capacity)
	}

	granted, _ := res.(int64)
	if granted != 1 {
		return nil, false, nil
	}

	return &Slot{tenantID: tenantID, key: key}, true, nil
}

func (l *Limiter) acquireFallback(tenantID uuid.UUID, capacity int) (*Slot, bool, error) {
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()

	key := tenantID.String()
	if l.fallback[key] >= capacity {
		return nil, false, nil
	}
	l.fallback[key]++
	return &Slot{tenantID: tenantID, viaFallback: true}, true, nil
}

// Release returns a slot to its pool. It is idempotent: calling Release
// more than once on the same Slot is a no-op, matching the idempotent-
// release requirement in spec §4.1.
func (l *Limiter) Release(ctx context.Context, slot *Slot) error {
	if slot == nil {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.released {
		return nil
	}
	slot.released = true

	if slot.viaFallback {
		l.fallbackMu.Lock()
		if l.fallback[slot.tenantID.String()] > 0 {
			l.fallback[slot.tenantID.String()]--
		}
		l.fallbackMu.Unlock()
		return nil
	}

	br := l.breakerFor(slot.tenantID)
	ok, gen := br.allow()
	if !ok {
		// Breaker open on the release path: nothing we can safely do but
		// log it. The slot key has a TTL (SlotKeyTTL) as a backstop so a
		// leaked count doesn't wedge the tenant forever.
		l.logger.Warn("release skipped, breaker open", map[string]interface{}{
			"tenant_id": slot.tenantID.String(),
		})
		return nil
	}

	_, err := l.redis.Eval(ctx, releaseSlotScript, []string{slot.key}).Result()
	br.recordResult(gen, err)
	if err != nil {
		return errors.Wrap(err, "release slot")
	}
	return nil
}

// BreakerState returns the current breaker state for a tenant, for the
// operator inspection endpoint.
func (l *Limiter) BreakerState(tenantID uuid.UUID) BreakerState {
	return l.breakerFor(tenantID).State()
}

// backoffKeyTTL bounds how long a consecutive-denial/failure streak is
// remembered, per spec's tenant:{tenant_uuid}:limiter_backoff TTL=300s.
const backoffKeyTTL = 300 * time.Second

func backoffKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:limiter_backoff", tenantID.String())
}

// IncrementBackoff advances tenantID's consecutive capacity-denied-or-
// failed streak and returns the new count, used by the runner as the
// attempt number fed into the full-jitter backoff formula. The counter
// carries a TTL so an abandoned streak doesn't outlive the tenant's next
// genuinely idle period.
func (l *Limiter) IncrementBackoff(ctx context.Context, tenantID uuid.UUID) (int, error) {
	key := backoffKey(tenantID)
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "increment limiter backoff")
	}
	if n == 1 {
		if err := l.redis.Expire(ctx, key, backoffKeyTTL).Err(); err != nil {
			l.logger.Warn("failed to set limiter backoff ttl", map[string]interface{}{
				"tenant_id": tenantID.String(), "error": err.Error(),
			})
		}
	}
	return int(n), nil
}

// ResetBackoff clears tenantID's streak after a successful crawl
// completes -- per spec §4.3, reset happens on success only, never on a
// requeue, so a tenant that keeps overloading sees its delay keep growing.
func (l *Limiter) ResetBackoff(ctx context.Context, tenantID uuid.UUID) error {
	if err := l.redis.Del(ctx, backoffKey(tenantID)).Err(); err != nil {
		return errors.Wrap(err, "reset limiter backoff")
	}
	return nil
}

// Inspect returns the externally-observable state of tenantID's limiter
// against capacity, for the operator inspection endpoint (internal/httpapi).
func (l *Limiter) Inspect(ctx context.Context, tenantID uuid.UUID, capacity int) models.TenantLimiterState {
	state := l.BreakerState(tenantID)
	usingFallback := state == BreakerOpen

	var active int
	if usingFallback {
		l.fallbackMu.Lock()
		active = l.fallback[tenantID.String()]
		l.fallbackMu.Unlock()
	} else if val, err := l.redis.Get(ctx, slotKey(tenantID)).Int(); err == nil {
		active = val
	}

	available := capacity - active
	if available < 0 {
		available = 0
	}

	return models.TenantLimiterState{
		TenantID:          tenantID,
		ActiveSlots:       active,
		AvailableCapacity: available,
		BreakerState:      state.String(),
		UsingFallback:     usingFallback,
	}
}
