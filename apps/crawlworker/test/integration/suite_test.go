// Package integration_test exercises crawlworker's components together
// rather than in isolation, covering the end-to-end lifecycle scenarios
// spec'd for CrawlTaskRunner and its collaborators: bounded concurrency,
// backoff distribution, deterministic job ids, leader election, two-phase
// persistence, and sustained-overload recovery.
package integration_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCrawlLifecycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CrawlWorker Lifecycle Suite")
}
