// Package cron implements CronLoops (C7): periodic maintenance jobs, each
// running as an independent ticker-driven loop so that one job's schedule
// or failure never affects another's. Grounded on
// apps/rag-loader/internal/scheduler/job_processor.go's
// Start/ticker/select/Stop(context.CancelFunc) shape.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// Loop runs fn every interval until Stop is called, logging (never
// panicking on) any error fn returns so a single bad tick doesn't kill the
// loop.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoop(name string, interval time.Duration, fn func(ctx context.Context) error, logger observability.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.WithPrefix("cron." + name),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine and returns immediately.
func (l *Loop) Start() {
	go func() {
		defer close(l.done)

		l.logger.Info("starting cron loop", map[string]interface{}{"interval": l.interval.String()})
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.ctx.Done():
				l.logger.Info("cron loop stopped", nil)
				return
			case <-ticker.C:
				if err := l.fn(l.ctx); err != nil {
					l.logger.Error("cron loop tick failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
}

// Stop cancels the loop and blocks until its goroutine has exited.
func (l *Loop) Stop() {
	l.cancel()
	<-l.done
}

// WebsiteQueuer enqueues one feeder descriptor per due website. Its
// concrete implementation lives against the website catalog (outside this
// module's schema), so the loop here only depends on this narrow seam.
type WebsiteQueuer interface {
	QueueDueWebsites(ctx context.Context) (queued int, err error)
}

// SubscriptionRenewer is the subset of subscription.Manager the renewal
// loop drives: list what's expiring, then renew (or recreate) each one
// independently.
type SubscriptionRenewer interface {
	ListExpiringSoon(ctx context.Context) ([]models.Subscription, error)
	Renew(ctx context.Context, sub *models.Subscription, token, userIntegrationID, siteID string, isOneDrive bool) error
}

// RenewalParamsResolver supplies the per-subscription token and ids the
// renewer needs -- a seam because token acquisition is tenant-credential
// specific and out of this package's scope.
type RenewalParamsResolver interface {
	ResolveRenewalParams(ctx context.Context, sub models.Subscription) (token, userIntegrationID, siteID string, isOneDrive bool, err error)
}

// AuditLogPurger applies one tenant's audit-log retention policy, in its
// own session, per spec's "new session per tenant" isolation rule.
type AuditLogPurger interface {
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	PurgeTenantAuditLogs(ctx context.Context, tenantID uuid.UUID) error
}

// ConversationPurger applies hierarchical (entity -> space -> tenant)
// conversation retention in a single pass.
type ConversationPurger interface {
	PurgeExpiredConversations(ctx context.Context) error
}

// ExportCleaner reads the Redis export-job manifest, deletes expired
// files and their manifest keys, and sweeps orphaned files past TTL.
type ExportCleaner interface {
	CleanupExpiredExports(ctx context.Context) error
}

// Scheduler owns the five loops spec §4.7 names and starts/stops them
// together. Each loop is independent: none interacts with another, and a
// failure in one never blocks or cancels the others.
type Scheduler struct {
	loops  []*Loop
	logger observability.Logger
}

// Config controls each loop's cadence. Zero values fall back to the
// schedule spec §4.7 names (hourly/sub-hourly/daily).
type Config struct {
	QueueDueWebsitesInterval    time.Duration
	SubscriptionRenewalInterval time.Duration
	PurgeAuditLogsInterval      time.Duration
	PurgeConversationsInterval  time.Duration
	CleanupExportFilesInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueDueWebsitesInterval:    time.Hour,
		SubscriptionRenewalInterval: 15 * time.Minute,
		PurgeAuditLogsInterval:      24 * time.Hour,
		PurgeConversationsInterval:  24 * time.Hour,
		CleanupExportFilesInterval:  24 * time.Hour,
	}
}

// NewScheduler builds all five loops. Any dependency left nil has its loop
// skipped entirely (useful for a deployment that doesn't run every
// maintenance concern in this process).
func NewScheduler(
	cfg Config,
	queuer WebsiteQueuer,
	renewer SubscriptionRenewer,
	resolver RenewalParamsResolver,
	auditPurger AuditLogPurger,
	convoPurger ConversationPurger,
	exportCleaner ExportCleaner,
	logger observability.Logger,
) *Scheduler {
	defaults := DefaultConfig()
	for _, iv := range []struct {
		got *time.Duration
		def time.Duration
	}{
		{&cfg.QueueDueWebsitesInterval, defaults.QueueDueWebsitesInterval},
		{&cfg.SubscriptionRenewalInterval, defaults.SubscriptionRenewalInterval},
		{&cfg.PurgeAuditLogsInterval, defaults.PurgeAuditLogsInterval},
		{&cfg.PurgeConversationsInterval, defaults.PurgeConversationsInterval},
		{&cfg.CleanupExportFilesInterval, defaults.CleanupExportFilesInterval},
	} {
		if *iv.got <= 0 {
			*iv.got = iv.def
		}
	}

	s := &Scheduler{logger: logger.WithPrefix("cron-scheduler")}

	if queuer != nil {
		s.loops = append(s.loops, newLoop("queue-due-websites", cfg.QueueDueWebsitesInterval, func(ctx context.Context) error {
			queued, err := queuer.QueueDueWebsites(ctx)
			if err != nil {
				return err
			}
			logger.Info("queued due websites", map[string]interface{}{"count": queued})
			return nil
		}, logger))
	}

	if renewer != nil && resolver != nil {
		s.loops = append(s.loops, newLoop("subscription-renewal", cfg.SubscriptionRenewalInterval, func(ctx context.Context) error {
			return renewSubscriptions(ctx, renewer, resolver, logger)
		}, logger))
	}

	if auditPurger != nil {
		s.loops = append(s.loops, newLoop("purge-audit-logs", cfg.PurgeAuditLogsInterval, func(ctx context.Context) error {
			return purgeAuditLogsPerTenant(ctx, auditPurger, logger)
		}, logger))
	}

	if convoPurger != nil {
		s.loops = append(s.loops, newLoop("purge-conversations", cfg.PurgeConversationsInterval, func(ctx context.Context) error {
			return convoPurger.PurgeExpiredConversations(ctx)
		}, logger))
	}

	if exportCleaner != nil {
		s.loops = append(s.loops, newLoop("cleanup-export-files", cfg.CleanupExportFilesInterval, func(ctx context.Context) error {
			return exportCleaner.CleanupExpiredExports(ctx)
		}, logger))
	}

	return s
}

// Start launches every configured loop.
func (s *Scheduler) Start() {
	for _, l := range s.loops {
		l.Start()
	}
}

// Stop stops every loop and waits for all of them to exit.
func (s *Scheduler) Stop() {
	var wg sync.WaitGroup
	for _, l := range s.loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Stop()
		}()
	}
	wg.Wait()
}

// renewSubscriptions lists what's expiring and renews each independently --
// a failure on one subscription is logged and does not stop the others
// from being attempted, matching spec's "new session per subscription"
// isolation rule.
func renewSubscriptions(ctx context.Context, renewer SubscriptionRenewer, resolver RenewalParamsResolver, logger observability.Logger) error {
	subs, err := renewer.ListExpiringSoon(ctx)
	if err != nil {
		return err
	}

	for i := range subs {
		sub := subs[i]
		token, userIntegrationID, siteID, isOneDrive, err := resolver.ResolveRenewalParams(ctx, sub)
		if err != nil {
			logger.Error("failed to resolve renewal params, skipping subscription", map[string]interface{}{
				"subscription_id": sub.ID.String(),
				"error":           err.Error(),
			})
			continue
		}
		if err := renewer.Renew(ctx, &sub, token, userIntegrationID, siteID, isOneDrive); err != nil {
			logger.Error("failed to renew subscription", map[string]interface{}{
				"subscription_id": sub.ID.String(),
				"error":           err.Error(),
			})
		}
	}
	return nil
}

// purgeAuditLogsPerTenant iterates tenants, applying each one's retention
// policy in its own session so one tenant's failure never rolls back
// another's purge -- per spec's explicit "new session per tenant" rule.
func purgeAuditLogsPerTenant(ctx context.Context, purger AuditLogPurger, logger observability.Logger) error {
	tenants, err := purger.ListTenants(ctx)
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		if err := purger.PurgeTenantAuditLogs(ctx, tenantID); err != nil {
			logger.Error("failed to purge tenant audit logs", map[string]interface{}{
				"tenant_id": tenantID.String(),
				"error":     err.Error(),
			})
		}
	}
	return nil
}
