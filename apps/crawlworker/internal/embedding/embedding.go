// Package embedding provides BatchPersister's narrow embedding-provider
// contract plus two concrete implementations (Bedrock, gRPC model server),
// grounded on pkg/embedding/providers' shape but trimmed to what
// BatchPersister actually needs: one text in, one vector out.
package embedding

import (
	"context"
	"time"
)

// Provider generates embedding vectors for chunk content. It is
// intentionally narrower than pkg/embedding/providers.Provider (which
// also carries model catalogs, rate-limit metadata, etc.) since
// BatchPersister only ever needs "embed this text with this model."
type Provider interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
	Name() string
	HealthCheck(ctx context.Context) error
}

// Error mirrors pkg/embedding/providers.ProviderError's retryability
// signal. BatchPersister does not read it: it records
// FailureEmbeddingTimeout when a call's deadline expired and
// FailureEmbeddingError for any other failure.
type Error struct {
	Provider    string
	Message     string
	IsRetryable bool
	RetryAfter  *time.Duration
}

func (e *Error) Error() string {
	return e.Provider + " embedding error: " + e.Message
}
