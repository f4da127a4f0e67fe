// Package runner implements CrawlTaskRunner (C3): the per-job state
// machine that acquires a tenant concurrency slot, fetches and persists a
// page, and always releases the slot -- distinguishing capacity-denied
// requeues from actual failures, per spec §4.3.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/concurrency"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/queue"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// Fetcher is the external collaborator that actually retrieves page
// content. Its implementation (HTML rendering, JS execution, etc.) is
// out of scope for crawlworker per spec's non-goals; only its narrow
// contract lives here.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (title, content string, err error)
}

// Persister is BatchPersister's narrow contract as seen by the runner.
type Persister interface {
	PersistOne(ctx context.Context, page models.FetchedPage) models.IngestResult
}

// CapacityLookup mirrors feeder.CapacityLookup; duplicated here to avoid
// an import cycle between feeder and runner over a single function type.
type CapacityLookup func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error)

// Config configures the Runner.
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxRetries  int
	MaxAge      time.Duration
}

// DefaultConfig mirrors spec §4.3's suggested defaults.
func DefaultConfig() Config {
	return Config{
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
		MaxRetries:  8,
		MaxAge:      24 * time.Hour,
	}
}

// Runner is CrawlTaskRunner (C3).
type Runner struct {
	limiter   *concurrency.Limiter
	fetcher   Fetcher
	persister Persister
	capacity  CapacityLookup
	cfg       Config
	logger    observability.Logger
}

// New builds a Runner.
func New(limiter *concurrency.Limiter, fetcher Fetcher, persister Persister, capacity CapacityLookup, cfg Config, logger observability.Logger) *Runner {
	return &Runner{
		limiter:   limiter,
		fetcher:   fetcher,
		persister: persister,
		capacity:  capacity,
		cfg:       cfg,
		logger:    logger.WithPrefix("crawl-task-runner"),
	}
}

// Outcome is what RunOnce decided to do with a job, for the caller (the
// queue consumer loop) to act on: ack, or requeue after a backoff delay
// (capacity denial and retryable failure alike).
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeCapacityDenied
	OutcomeFailedRetryable
	OutcomeAbandoned
)

// RunOnce executes the received -> slot-acquire -> crawl-and-persist ->
// slot-release state machine for a single job, per spec §4.3.
func (r *Runner) RunOnce(ctx context.Context, job *models.CrawlJob) (Outcome, time.Duration) {
	if time.Since(job.FirstSeenAt) > r.cfg.MaxAge {
		r.logger.Warn("abandoning job past max age", map[string]interface{}{
			"job_id": job.ID, "age": time.Since(job.FirstSeenAt).String(),
		})
		return OutcomeAbandoned, 0
	}

	available, err := r.capacity(ctx, job.TenantID, job.WebsiteID)
	if err != nil {
		r.logger.Error("capacity lookup failed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		return r.failureOutcome(ctx, job)
	}

	slot, granted, err := r.limiter.Acquire(ctx, job.TenantID, available)
	if err != nil {
		return r.failureOutcome(ctx, job)
	}
	if !granted {
		// Capacity-denied: not a failure, does not count toward
		// retry_count or age-based abandonment, per spec §4.3 -- but it
		// still advances tenant:{id}:limiter_backoff, so a tenant stuck
		// at capacity backs off the same way a failing one does.
		return OutcomeCapacityDenied, r.backoffDelay(ctx, job.TenantID)
	}

	// Every exit path from here releases the slot, including panics --
	// grounded on pkg/database/unit_of_work.go's ExecuteWithOptions
	// rollback-then-repanic pattern.
	defer func() {
		if p := recover(); p != nil {
			_ = r.limiter.Release(ctx, slot)
			panic(p)
		}
	}()

	title, content, err := r.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		_ = r.limiter.Release(ctx, slot)
		return r.failureOutcome(ctx, job)
	}

	result := r.persister.PersistOne(ctx, models.FetchedPage{
		TenantID:  job.TenantID,
		WebsiteID: job.WebsiteID,
		URL:       job.URL,
		Title:     title,
		Content:   content,
	})
	_ = r.limiter.Release(ctx, slot)

	if result.FailedCount > 0 {
		return r.failureOutcome(ctx, job)
	}

	// Both counters reset only on success, per spec §4.3: the in-job
	// retry_count (age-based abandonment) and the shared tenant
	// limiter_backoff streak (requeue-delay growth).
	job.RetryCount = 0
	if err := r.limiter.ResetBackoff(ctx, job.TenantID); err != nil {
		r.logger.Warn("failed to reset limiter backoff", map[string]interface{}{
			"tenant_id": job.TenantID.String(), "error": err.Error(),
		})
	}
	return OutcomeSucceeded, 0
}

func (r *Runner) failureOutcome(ctx context.Context, job *models.CrawlJob) (Outcome, time.Duration) {
	job.RetryCount++
	if job.RetryCount > r.cfg.MaxRetries {
		return OutcomeAbandoned, 0
	}
	return OutcomeFailedRetryable, r.backoffDelay(ctx, job.TenantID)
}

// backoffDelay advances tenantID's shared limiter_backoff streak and
// converts the new count into a full-jitter delay. Used for both
// capacity-denied requeues and retryable failures: both count toward the
// same streak, per spec §4.3.
func (r *Runner) backoffDelay(ctx context.Context, tenantID uuid.UUID) time.Duration {
	n, err := r.limiter.IncrementBackoff(ctx, tenantID)
	if err != nil {
		r.logger.Warn("failed to increment limiter backoff, falling back to base delay", map[string]interface{}{
			"tenant_id": tenantID.String(), "error": err.Error(),
		})
		n = 1
	}
	return fullJitterBackoff(n, r.cfg.BaseBackoff, r.cfg.MaxBackoff)
}

// Consume drives RunOnce against messages pulled from q, acting on the
// outcome: ack on success/abandonment, requeue with the returned backoff
// delay on capacity denial or retryable failure.
func (r *Runner) Consume(ctx context.Context, q queue.JobQueue, decode func([]byte) (*models.CrawlJob, error)) error {
	msgs, err := q.Receive(ctx, 10, 2*time.Second)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		job, err := decode(msg.Payload)
		if err != nil {
			r.logger.Error("dropping undecodable job", map[string]interface{}{"error": err.Error()})
			_ = q.Ack(ctx, msg)
			continue
		}

		outcome, delay := r.RunOnce(ctx, job)
		switch outcome {
		case OutcomeSucceeded, OutcomeAbandoned:
			_ = q.Ack(ctx, msg)
		case OutcomeCapacityDenied:
			_ = q.Requeue(ctx, msg, delay)
		case OutcomeFailedRetryable:
			_ = q.Requeue(ctx, msg, delay)
		}
	}
	return nil
}
