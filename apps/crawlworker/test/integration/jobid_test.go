package integration_test

import (
	"github.com/google/uuid"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/feeder"
)

var _ = Describe("CrawlFeeder deterministic job ids", func() {
	// Scenario C: make_job_id(run_id="f47ac10b-...", url="https://example.com/page1")
	// starts with "crawl:<run_id>:" and the trailing hash is 8 lowercase
	// hex chars.
	It("derives crawl:<run_id>:<8-hex-chars> from (run_id, url)", func() {
		runID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
		id := feeder.JobID(runID, "https://example.com/page1")

		Expect(id).To(HavePrefix("crawl:f47ac10b-58cc-4372-a567-0e02b2c3d479:"))
		suffix := id[len("crawl:f47ac10b-58cc-4372-a567-0e02b2c3d479:"):]
		Expect(suffix).To(MatchRegexp("^[0-9a-f]{8}$"))
	})

	// Invariant 3: same (run_id, url) => same job_id; different run_id =>
	// different job_id.
	It("is deterministic for a given (run_id, url) and varies with run_id", func() {
		runID := uuid.New()
		otherRunID := uuid.New()
		url := "https://example.com/stable-page"

		first := feeder.JobID(runID, url)
		second := feeder.JobID(runID, url)
		Expect(first).To(Equal(second))

		Expect(feeder.JobID(otherRunID, url)).NotTo(Equal(first))
	})
})
