// Package subscription implements SubscriptionManager (C6): the lifecycle
// of webhook subscriptions against an external, Microsoft-Graph-shaped
// change-notification API, plus reference-counted deletion.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// DefaultSubscriptionTTL is DefaultConfig's SubscriptionTTL: how far out a
// freshly (re)created or renewed subscription's expiration is set unless
// Config.SubscriptionTTL overrides it. Graph-shaped APIs cap this themselves.
const DefaultSubscriptionTTL = 72 * time.Hour

// Config controls Manager's behavior.
type Config struct {
	// NotificationWebhookURL is the callback Graph (or its stand-in) will
	// POST change notifications to. Empty means webhooks aren't
	// configured in this environment -- ensure_subscription degrades to
	// a no-op rather than erroring.
	NotificationWebhookURL string
	SubscriptionTTL        time.Duration
	// RenewalThreshold is the window used by ListExpiringSoon, matching
	// spec's renewal_threshold_hours.
	RenewalThreshold time.Duration
	PatchMaxElapsed  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SubscriptionTTL:  DefaultSubscriptionTTL,
		RenewalThreshold: 24 * time.Hour,
		PatchMaxElapsed:  30 * time.Second,
	}
}

// Manager implements ensure/recreate/renew/delete-if-unused against the
// crawlworker.subscriptions table and a GraphClient. Grounded on
// pkg/services/document_lock_service.go's TTL-lock-with-auto-refresh
// pattern, generalized from "refresh this lock before its TTL expires" to
// "renew this subscription before its expiration, recreate on 404."
type Manager struct {
	db     *sqlx.DB
	uow    database.UnitOfWork
	graph  GraphClient
	cfg    Config
	logger observability.Logger
}

func New(db *sqlx.DB, uow database.UnitOfWork, graph GraphClient, cfg Config, logger observability.Logger) *Manager {
	return &Manager{db: db, uow: uow, graph: graph, cfg: cfg, logger: logger.WithPrefix("subscription-manager")}
}

func buildResource(userIntegrationID, siteID string, isOneDrive bool) (string, models.SubscriptionResourceKind) {
	if isOneDrive {
		return fmt.Sprintf("/drives/%s/root", userIntegrationID), models.ResourceOneDrive
	}
	return fmt.Sprintf("/sites/%s/drives/%s/root", siteID, userIntegrationID), models.ResourceSharePoint
}

// EnsureSubscription returns the tenant+website's existing subscription if
// it is still valid, recreates it if expired, or creates a fresh one if
// none exists. Returns (nil, nil) -- not an error -- when
// NotificationWebhookURL isn't configured, per spec's "missing webhook URL
// configuration returns None (graceful, logged)".
func (m *Manager) EnsureSubscription(ctx context.Context, tenantID, websiteID uuid.UUID, userIntegrationID, siteID, token string, isOneDrive bool) (*models.Subscription, error) {
	if m.cfg.NotificationWebhookURL == "" {
		m.logger.Warn("no notification webhook configured, skipping subscription", map[string]interface{}{
			"tenant_id":  tenantID.String(),
			"website_id": websiteID.String(),
		})
		return nil, nil
	}

	existing, err := m.find(ctx, tenantID, websiteID)
	if err != nil {
		return nil, fmt.Errorf("find existing subscription: %w", err)
	}

	if existing != nil {
		if existing.ExpirationDateTime.After(time.Now()) {
			return existing, nil
		}
		if err := m.RecreateExpired(ctx, existing, token, userIntegrationID, siteID, isOneDrive); err != nil {
			return nil, fmt.Errorf("recreate expired subscription: %w", err)
		}
		return existing, nil
	}

	resource, kind := buildResource(userIntegrationID, siteID, isOneDrive)
	expiration := time.Now().Add(m.cfg.SubscriptionTTL)
	graphID, err := m.graph.CreateSubscription(ctx, token, resource, expiration)
	if err != nil {
		return nil, fmt.Errorf("create remote subscription: %w", err)
	}

	sub := &models.Subscription{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		WebsiteID:           websiteID,
		GraphSubscriptionID: graphID,
		Resource:            resource,
		ResourceKind:        kind,
		ExpirationDateTime:  expiration,
		RefCount:            1,
	}
	if err := m.insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist new subscription: %w", err)
	}
	return sub, nil
}

// RecreateExpired deletes the remote subscription (tolerating 404 -- it may
// already be gone) and creates a fresh one, preserving the local row's id.
// is_onedrive is threaded through explicitly on every call rather than
// trusted from the stored record, per spec's requirement that the flag
// "MUST be propagated on all automatic recreations" -- the caller's view of
// the ingest source's type is authoritative, not whatever shape happened to
// be persisted last.
func (m *Manager) RecreateExpired(ctx context.Context, sub *models.Subscription, token, userIntegrationID, siteID string, isOneDrive bool) error {
	if err := m.graph.DeleteSubscription(ctx, token, sub.GraphSubscriptionID); err != nil && err != ErrNotFound {
		return fmt.Errorf("delete remote subscription: %w", err)
	}

	resource, kind := buildResource(userIntegrationID, siteID, isOneDrive)
	expiration := time.Now().Add(m.cfg.SubscriptionTTL)
	graphID, err := m.graph.CreateSubscription(ctx, token, resource, expiration)
	if err != nil {
		return fmt.Errorf("create remote subscription: %w", err)
	}

	sub.GraphSubscriptionID = graphID
	sub.Resource = resource
	sub.ResourceKind = kind
	sub.ExpirationDateTime = expiration
	return m.update(ctx, sub)
}

// Renew PATCHes the remote subscription's expiration, retrying transient
// failures with the library's own exponential-backoff policy object (no
// custom jitter formula is needed here, unlike runner's full-jitter
// backoff). On 404, falls through to RecreateExpired.
func (m *Manager) Renew(ctx context.Context, sub *models.Subscription, token, userIntegrationID, siteID string, isOneDrive bool) error {
	newExpiration := time.Now().Add(m.cfg.SubscriptionTTL)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	var patchErr error
	err := backoff.Retry(func() error {
		patchErr = m.graph.PatchSubscription(ctx, token, sub.GraphSubscriptionID, newExpiration)
		if patchErr == ErrNotFound {
			return backoff.Permanent(patchErr)
		}
		return patchErr
	}, policy)

	if err != nil {
		if patchErr == ErrNotFound {
			m.logger.Warn("subscription missing remotely, recreating", map[string]interface{}{
				"subscription_id": sub.ID.String(),
			})
			return m.RecreateExpired(ctx, sub, token, userIntegrationID, siteID, isOneDrive)
		}
		return fmt.Errorf("patch remote subscription: %w", err)
	}

	sub.ExpirationDateTime = newExpiration
	return m.update(ctx, sub)
}

// DeleteIfUnused decrements the subscription's reference count and, only
// if it reaches zero, deletes the local row and fires a detached
// best-effort remote delete -- the local commit happens first, matching
// unit_of_work.go's commit-then-side-effect ordering, so a failed remote
// call never rolls back the local state. A failed remote delete is logged
// and not retried; nothing in this module sweeps the remote orphan later.
func (m *Manager) DeleteIfUnused(ctx context.Context, subscriptionID uuid.UUID, token string) error {
	var graphID string
	var shouldDelete bool

	err := m.uow.Execute(ctx, func(tx database.Transaction) error {
		var refCount int
		var id string
		if err := tx.QueryRow(
			`UPDATE crawlworker.subscriptions SET ref_count = ref_count - 1, updated_at = now()
			 WHERE id = $1 RETURNING ref_count, graph_subscription_id`,
			subscriptionID,
		).Scan(&refCount, &id); err != nil {
			return fmt.Errorf("decrement ref_count: %w", err)
		}
		graphID = id

		if refCount > 0 {
			return nil
		}
		shouldDelete = true
		if _, err := tx.Exec(`DELETE FROM crawlworker.subscriptions WHERE id = $1`, subscriptionID); err != nil {
			return fmt.Errorf("delete local subscription row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !shouldDelete {
		return nil
	}

	go func() {
		detachedCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if derr := m.graph.DeleteSubscription(detachedCtx, token, graphID); derr != nil && derr != ErrNotFound {
			m.logger.Warn("best-effort remote subscription delete failed, not retried", map[string]interface{}{
				"graph_subscription_id": graphID,
				"error":                 derr.Error(),
			})
		}
	}()
	return nil
}

// ListExpiringSoon returns subscriptions whose expiration falls within
// RenewalThreshold, for the subscription-renewal cron (C7) to drive
// Renew/RecreateExpired over.
func (m *Manager) ListExpiringSoon(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	cutoff := time.Now().Add(m.cfg.RenewalThreshold)
	err := m.db.SelectContext(ctx, &subs,
		`SELECT * FROM crawlworker.subscriptions WHERE expiration_date_time <= $1 ORDER BY expiration_date_time ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring subscriptions: %w", err)
	}
	return subs, nil
}

func (m *Manager) find(ctx context.Context, tenantID, websiteID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := m.db.GetContext(ctx, &sub,
		`SELECT * FROM crawlworker.subscriptions WHERE tenant_id = $1 AND website_id = $2`,
		tenantID, websiteID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (m *Manager) insert(ctx context.Context, sub *models.Subscription) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO crawlworker.subscriptions
		   (id, tenant_id, website_id, graph_subscription_id, resource, resource_kind, expiration_date_time, ref_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.TenantID, sub.WebsiteID, sub.GraphSubscriptionID, sub.Resource, sub.ResourceKind, sub.ExpirationDateTime, sub.RefCount,
	)
	return err
}

func (m *Manager) update(ctx context.Context, sub *models.Subscription) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE crawlworker.subscriptions
		 SET graph_subscription_id = $1, resource = $2, resource_kind = $3, expiration_date_time = $4, updated_at = now()
		 WHERE id = $5`,
		sub.GraphSubscriptionID, sub.Resource, sub.ResourceKind, sub.ExpirationDateTime, sub.ID,
	)
	return err
}
