// Package persist implements BatchPersister (C4): a two-phase ingest
// pipeline that chunks a crawled page, embeds each chunk, and commits the
// result (InfoBlob + chunks) in a short transaction of its own per page,
// with savepoints around the InfoBlob write and each chunk insert. There is
// no outer transaction spanning several pages, and a failed step fails
// that page's whole transaction.
package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/google/uuid"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/dbsession"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/embedding"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// Config configures the Persister.
type Config struct {
	ChunkSizeTokens      int
	ChunkOverlapTokens   int
	EmbeddingConcurrency int
	EmbeddingTimeout     time.Duration
	EmbeddingModel       string
	DedupCacheSize       int
}

// DefaultConfig mirrors config.ProcessingConfig's defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSizeTokens:      200,
		ChunkOverlapTokens:   40,
		EmbeddingConcurrency: 3,
		EmbeddingTimeout:     30 * time.Second,
		EmbeddingModel:       "amazon.titan-embed-text-v2:0",
		DedupCacheSize:       10_000,
	}
}

// Persister is BatchPersister (C4).
type Persister struct {
	db       *sqlx.DB
	recovery *dbsession.Recovery
	provider embedding.Provider
	breaker  *gobreaker.CircuitBreaker
	dedup    *lru.Cache[string, struct{}]
	chunker  *tokenChunker
	cfg      Config
	logger   observability.Logger
}

// New builds a Persister.
func New(db *sqlx.DB, uow database.UnitOfWork, provider embedding.Provider, cfg Config, logger observability.Logger) (*Persister, error) {
	dedup, err := lru.New[string, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new dedup cache: %w", err)
	}

	// A second circuit breaker layer, distinct from C1's per-tenant
	// counting semaphore breaker: this one protects the shared embedding
	// backend as a whole, so sony/gobreaker's generic trip-on-error-rate
	// policy is the right fit (no per-tenant keying, no capacity-denied
	// carve-out needed here).
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Persister{
		db:       db,
		recovery: dbsession.New(uow, logger),
		provider: provider,
		breaker:  breaker,
		dedup:    dedup,
		chunker:  newTokenChunker(cfg.ChunkSizeTokens, cfg.ChunkOverlapTokens),
		cfg:      cfg,
		logger:   logger.WithPrefix("batch-persister"),
	}, nil
}

// PersistOne ingests a single fetched page: hash, chunk, embed, then a
// short transaction to upsert the InfoBlob and its chunks.
func (p *Persister) PersistOne(ctx context.Context, page models.FetchedPage) models.IngestResult {
	result := models.IngestResult{FailuresByReason: map[models.FailureReason][]string{}}

	if page.Content == "" {
		result.FailedCount = 1
		result.FailuresByReason[models.FailureEmptyContent] = []string{page.URL}
		return result
	}

	contentHash := hashContent(page.Content)
	if _, seen := p.dedup.Get(dedupKey(page.TenantID, page.WebsiteID, contentHash)); seen {
		result.SuccessCount = 1
		result.SuccessfulURLs = []string{page.URL}
		return result
	}

	chunks := p.chunker.split(page.Content)
	if len(chunks) == 0 {
		result.FailedCount = 1
		result.FailuresByReason[models.FailureNoChunks] = []string{page.URL}
		return result
	}

	if p.provider == nil {
		result.FailedCount = 1
		result.FailuresByReason[models.FailureNoEmbeddingModel] = []string{page.URL}
		return result
	}

	embeddings, reason, err := p.embedChunks(ctx, chunks)
	if err != nil {
		result.FailedCount = 1
		result.FailuresByReason[reason] = []string{page.URL}
		return result
	}

	infoBlob := models.InfoBlob{
		ID:          uuid.New(),
		TenantID:    page.TenantID,
		WebsiteID:   page.WebsiteID,
		Title:       page.Title,
		SourceURL:   page.URL,
		ContentHash: contentHash,
	}

	if err := p.commitPage(ctx, infoBlob, chunks, embeddings); err != nil {
		p.logger.Error("commit failed", map[string]interface{}{"url": page.URL, "error": err.Error()})
		result.FailedCount = 1
		result.FailuresByReason[models.FailureDBError] = []string{page.URL}
		return result
	}

	p.dedup.Add(dedupKey(page.TenantID, page.WebsiteID, contentHash), struct{}{})
	result.SuccessCount = 1
	result.SuccessfulURLs = []string{page.URL}
	return result
}

// embedChunks runs embedding calls bounded by EmbeddingConcurrency,
// grounded on apps/rag-loader/internal/indexer/batch_processor.go's
// ProcessChunks (buffered-channel semaphore + WaitGroup fan-in), adapted
// from per-batch to per-chunk since BatchPersister processes one page at
// a time rather than a pre-batched request list. The semaphore is created
// per call, so it bounds concurrent embedding calls within one page only.
func (p *Persister) embedChunks(ctx context.Context, chunks []chunk) ([][]float32, models.FailureReason, error) {
	sem := make(chan struct{}, p.cfg.EmbeddingConcurrency)
	var wg sync.WaitGroup

	out := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))
	timedOut := make([]bool, len(chunks))

	for i, c := range chunks {
		wg.Add(1)
		go func(idx int, content string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			opCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbeddingTimeout)
			defer cancel()

			res, err := p.breaker.Execute(func() (interface{}, error) {
				return p.provider.Embed(opCtx, content, p.cfg.EmbeddingModel)
			})
			if err != nil {
				errs[idx] = err
				timedOut[idx] = opCtx.Err() == context.DeadlineExceeded
				return
			}
			out[idx] = res.([]float32)
		}(i, c.Content)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() != nil || timedOut[i] || err == context.DeadlineExceeded {
			return nil, models.FailureEmbeddingTimeout, err
		}
		return nil, models.FailureEmbeddingError, err
	}
	return out, "", nil
}

// commitPage writes the InfoBlob (delete-then-insert dedup against prior
// crawls of the same title) and its chunks inside one transaction with a
// savepoint wrapping each logical unit, grounded on
// pkg/database/unit_of_work.go's Savepoint/RollbackToSavepoint and
// apps/rag-loader/internal/repository/document_repository.go's
// *pq.Error/23505 unique-violation handling.
func (p *Persister) commitPage(ctx context.Context, blob models.InfoBlob, chunks []chunk, vectors [][]float32) error {
	return p.recovery.Execute(ctx, func(tx database.Transaction) error {
		if err := tx.Savepoint("info_blob"); err != nil {
			return err
		}

		// Dedup by (tenant_id, website_id, title): a re-crawl of the same
		// logical document replaces its prior chunks rather than
		// accumulating duplicates.
		if _, err := tx.Exec(
			`DELETE FROM crawlworker.info_blobs WHERE tenant_id = $1 AND website_id = $2 AND title = $3`,
			blob.TenantID, blob.WebsiteID, blob.Title,
		); err != nil {
			_ = tx.RollbackToSavepoint("info_blob")
			return fmt.Errorf("delete existing info_blob: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO crawlworker.info_blobs (id, tenant_id, website_id, title, source_url, content_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
			blob.ID, blob.TenantID, blob.WebsiteID, blob.Title, blob.SourceURL, blob.ContentHash,
		); err != nil {
			if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
				_ = tx.RollbackToSavepoint("info_blob")
				return fmt.Errorf("info_blob already exists for content_hash %s: %w", blob.ContentHash, err)
			}
			_ = tx.RollbackToSavepoint("info_blob")
			return fmt.Errorf("insert info_blob: %w", err)
		}

		if err := tx.ReleaseSavepoint("info_blob"); err != nil {
			return err
		}

		for i, c := range chunks {
			if err := tx.Savepoint(fmt.Sprintf("chunk_%d", i)); err != nil {
				return err
			}

			var vec []float32
			if i < len(vectors) {
				vec = vectors[i]
			}

			if _, err := tx.Exec(
				`INSERT INTO crawlworker.info_blob_chunks (id, info_blob_id, tenant_id, chunk_index, content, token_count, embedding, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
				uuid.New(), blob.ID, blob.TenantID, c.Index, c.Content, c.Tokens, pq.Array(vec),
			); err != nil {
				_ = tx.RollbackToSavepoint(fmt.Sprintf("chunk_%d", i))
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}

			if err := tx.ReleaseSavepoint(fmt.Sprintf("chunk_%d", i)); err != nil {
				return err
			}
		}

		return nil
	})
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func dedupKey(tenantID, websiteID uuid.UUID, contentHash string) string {
	return tenantID.String() + ":" + websiteID.String() + ":" + contentHash
}
