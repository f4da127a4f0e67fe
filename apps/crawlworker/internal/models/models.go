// Package models holds the persistence-facing data types shared across
// crawlworker's components.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CrawlRunStatus is the lifecycle state of a CrawlRun.
type CrawlRunStatus string

const (
	CrawlRunStatusPending   CrawlRunStatus = "pending"
	CrawlRunStatusRunning   CrawlRunStatus = "running"
	CrawlRunStatusCompleted CrawlRunStatus = "completed"
	CrawlRunStatusFailed    CrawlRunStatus = "failed"
)

// CrawlRun groups the jobs produced by a single feeder pass for a tenant's
// website.
type CrawlRun struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	TenantID   uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	WebsiteID  uuid.UUID      `db:"website_id" json:"website_id"`
	Status     CrawlRunStatus `db:"status" json:"status"`
	EnqueuedAt time.Time      `db:"enqueued_at" json:"enqueued_at"`
	StartedAt  *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
}

// CrawlJobState is the state machine position of a CrawlJob, per spec §4.3.
type CrawlJobState string

const (
	CrawlJobReceived    CrawlJobState = "received"
	CrawlJobSlotWait    CrawlJobState = "slot_wait"
	CrawlJobProcessing  CrawlJobState = "processing"
	CrawlJobSucceeded   CrawlJobState = "succeeded"
	CrawlJobFailed      CrawlJobState = "failed"
	CrawlJobAbandoned   CrawlJobState = "abandoned"
	CrawlJobRequeued    CrawlJobState = "requeued"
)

// CrawlJob is a single URL fetch-and-ingest unit of work.
type CrawlJob struct {
	ID          string        `db:"id" json:"id"` // deterministic: "crawl:" + run_id + ":" + sha256(url)[:8]
	RunID       uuid.UUID     `db:"run_id" json:"run_id"`
	TenantID    uuid.UUID     `db:"tenant_id" json:"tenant_id"`
	WebsiteID   uuid.UUID     `db:"website_id" json:"website_id"`
	URL         string        `db:"url" json:"url"`
	State       CrawlJobState `db:"state" json:"state"`
	RetryCount  int           `db:"retry_count" json:"retry_count"`
	FirstSeenAt time.Time     `db:"first_seen_at" json:"first_seen_at"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// InfoBlob is a deduplicated logical document for a tenant's website,
// identified by (tenant_id, website_id, title).
type InfoBlob struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	WebsiteID   uuid.UUID       `db:"website_id" json:"website_id"`
	Title       string          `db:"title" json:"title"`
	SourceURL   string          `db:"source_url" json:"source_url"`
	ContentHash string          `db:"content_hash" json:"content_hash"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// InfoBlobChunk is one embeddable chunk of an InfoBlob.
type InfoBlobChunk struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InfoBlobID  uuid.UUID `db:"info_blob_id" json:"info_blob_id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	Content     string    `db:"content" json:"content"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	Embedding   []float32 `db:"embedding" json:"embedding,omitempty"`
	EmbeddingID string    `db:"embedding_id" json:"embedding_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TenantLimiterState is the externally-observable state of a tenant's
// concurrency limiter, returned by the operator inspection endpoint.
type TenantLimiterState struct {
	TenantID          uuid.UUID `json:"tenant_id"`
	ActiveSlots       int       `json:"active_slots"`
	AvailableCapacity int       `json:"available_capacity"`
	BreakerState      string    `json:"breaker_state"`
	UsingFallback     bool      `json:"using_fallback"`
}

// SubscriptionResourceKind distinguishes OneDrive from SharePoint-shaped
// resource URLs when (re)creating a Graph subscription.
type SubscriptionResourceKind string

const (
	ResourceOneDrive   SubscriptionResourceKind = "onedrive"
	ResourceSharePoint SubscriptionResourceKind = "sharepoint"
)

// Subscription tracks a webhook subscription against an external,
// Microsoft-Graph-shaped notification API.
type Subscription struct {
	ID                   uuid.UUID                `db:"id" json:"id"`
	TenantID             uuid.UUID                `db:"tenant_id" json:"tenant_id"`
	WebsiteID            uuid.UUID                `db:"website_id" json:"website_id"`
	GraphSubscriptionID  string                   `db:"graph_subscription_id" json:"graph_subscription_id"`
	Resource             string                   `db:"resource" json:"resource"`
	ResourceKind         SubscriptionResourceKind `db:"resource_kind" json:"resource_kind"`
	ExpirationDateTime   time.Time                `db:"expiration_date_time" json:"expiration_date_time"`
	RefCount             int                      `db:"ref_count" json:"ref_count"`
	CreatedAt            time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time                `db:"updated_at" json:"updated_at"`
}

// FailureReason is a closed enum of the reasons BatchPersister can fail to
// ingest a single document. Intentionally not a free-form string so
// callers can exhaustively switch over it.
type FailureReason string

const (
	FailureNoEmbeddingModel FailureReason = "NO_EMBEDDING_MODEL"
	FailureMissingProvider  FailureReason = "MISSING_PROVIDER"
	FailureEmptyContent     FailureReason = "EMPTY_CONTENT"
	FailureNoChunks         FailureReason = "NO_CHUNKS"
	FailureEmbeddingTimeout FailureReason = "EMBEDDING_TIMEOUT"
	FailureEmbeddingError   FailureReason = "EMBEDDING_ERROR"
	FailureDBError          FailureReason = "DB_ERROR"
)

// FetchedPage is the input to BatchPersister: a crawled page body plus the
// identifying fields needed to dedupe and attribute it.
type FetchedPage struct {
	TenantID  uuid.UUID
	WebsiteID uuid.UUID
	URL       string
	Title     string
	Content   string
}

// IngestResult is BatchPersister's return value for one batch of pages.
type IngestResult struct {
	SuccessCount     int
	FailedCount      int
	SuccessfulURLs   []string
	FailuresByReason map[FailureReason][]string
}
