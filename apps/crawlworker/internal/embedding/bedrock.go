package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// titanEmbeddingRequest/Response mirror the wire shape of Amazon Titan
// Text Embeddings, same as pkg/embedding/providers/bedrock_provider.go.
type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockProvider is a Provider backed by AWS Bedrock's Titan embedding
// models, grounded on pkg/embedding/providers.BedrockProvider's client
// construction and InvokeModel call shape, narrowed to a single model
// family since crawlworker doesn't need Bedrock's full model catalog.
type BedrockProvider struct {
	client *bedrockruntime.Client
}

// NewBedrockProvider builds a BedrockProvider for the given AWS region.
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal titan request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, &Error{Provider: "bedrock", Message: err.Error(), IsRetryable: isRetryable(err)}
	}

	var out titanEmbeddingResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal titan response: %w", err)
	}
	return out.Embedding, nil
}

func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String("amazon.titan-embed-text-v2:0"),
		ContentType: aws.String("application/json"),
		Body:        []byte(`{"inputText":"healthcheck"}`),
	})
	return err
}

// isRetryable treats timeouts as retryable; anything else (validation,
// access-denied) is not.
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
