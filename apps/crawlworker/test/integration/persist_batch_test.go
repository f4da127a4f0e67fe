package integration_test

import (
	"context"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/persist"
	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

type fixedVectorProvider struct{ vector []float32 }

func (p fixedVectorProvider) Name() string { return "fixed" }
func (p fixedVectorProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return p.vector, nil
}
func (p fixedVectorProvider) HealthCheck(ctx context.Context) error { return nil }

// mergeIngestResults combines each page's outcome the way a batch caller
// (the runner processing a feeder drain, or a future multi-page endpoint)
// aggregates BatchPersister's per-page results into one batch report.
func mergeIngestResults(results ...models.IngestResult) models.IngestResult {
	merged := models.IngestResult{FailuresByReason: map[models.FailureReason][]string{}}
	for _, r := range results {
		merged.SuccessCount += r.SuccessCount
		merged.FailedCount += r.FailedCount
		merged.SuccessfulURLs = append(merged.SuccessfulURLs, r.SuccessfulURLs...)
		for reason, urls := range r.FailuresByReason {
			merged.FailuresByReason[reason] = append(merged.FailuresByReason[reason], urls...)
		}
	}
	return merged
}

var _ = Describe("BatchPersister two-phase partial failure", func() {
	// Scenario E: a batch of 3 pages where the middle page has empty
	// content. Result: success_count=2, failed_count=1,
	// successful_urls=[url_1, url_3], failures_by_reason={"EMPTY_CONTENT":[url_2]}.
	It("persists the surviving pages and reports the failing one under its reason", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { db.Close() })

		sqlxDB := sqlx.NewDb(db, "postgres")
		uow := database.NewUnitOfWork(sqlxDB, observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

		p, err := persist.New(sqlxDB, uow, fixedVectorProvider{vector: []float32{0.1, 0.2}}, persist.DefaultConfig(), observability.NewNoopLogger())
		Expect(err).NotTo(HaveOccurred())

		tenantID := uuid.New()
		websiteID := uuid.New()

		// Page 1 and page 3 each run a full commit transaction; page 2
		// never reaches the database at all (rejected before chunking).
		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectExec("SAVEPOINT info_blob").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("DELETE FROM crawlworker.info_blobs").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO crawlworker.info_blobs").WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("RELEASE SAVEPOINT info_blob").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("SAVEPOINT chunk_0").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO crawlworker.info_blob_chunks").WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("RELEASE SAVEPOINT chunk_0").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectCommit()
		}

		url1, url2, url3 := "https://example.com/1", "https://example.com/2", "https://example.com/3"

		r1 := p.PersistOne(context.Background(), models.FetchedPage{
			TenantID: tenantID, WebsiteID: websiteID, URL: url1, Title: "Page One", Content: "first page body",
		})
		r2 := p.PersistOne(context.Background(), models.FetchedPage{
			TenantID: tenantID, WebsiteID: websiteID, URL: url2, Title: "Page Two", Content: "",
		})
		r3 := p.PersistOne(context.Background(), models.FetchedPage{
			TenantID: tenantID, WebsiteID: websiteID, URL: url3, Title: "Page Three", Content: "third page body",
		})

		batch := mergeIngestResults(r1, r2, r3)

		Expect(batch.SuccessCount).To(Equal(2))
		Expect(batch.FailedCount).To(Equal(1))
		Expect(batch.SuccessfulURLs).To(Equal([]string{url1, url3}))
		Expect(batch.FailuresByReason).To(HaveKeyWithValue(models.FailureEmptyContent, []string{url2}))

		// Every successful URL corresponds to an actual commit; none
		// appears in both successful_urls and failures_by_reason.
		for _, urls := range batch.FailuresByReason {
			for _, u := range urls {
				Expect(batch.SuccessfulURLs).NotTo(ContainElement(u))
			}
		}

		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
