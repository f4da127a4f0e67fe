package embedding

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// EmbedClient is the narrow gRPC client surface GRPCProvider needs,
// satisfied by a generated stub against an in-cluster model server's
// embedding.proto service (not vendored here -- see DESIGN.md's C4 entry
// for why this repo treats the stub as an injected dependency rather than
// generating one from a .proto that doesn't exist in this exercise).
type EmbedClient interface {
	Embed(ctx context.Context, in *EmbedRequest, opts ...grpc.CallOption) (*EmbedReply, error)
}

// EmbedRequest/EmbedReply stand in for the generated protobuf messages.
type EmbedRequest struct {
	Text  string
	Model string
}

type EmbedReply struct {
	Vector []float32
}

// GRPCProvider is a Provider backed by an in-cluster embedding model
// server, an alternative to BedrockProvider for tenants running their own
// model hosting rather than using AWS Bedrock.
type GRPCProvider struct {
	conn   *grpc.ClientConn
	client EmbedClient
}

// NewGRPCProvider dials target and wraps newClient(conn) as the stub
// constructor, so tests can inject a fake client without a real conn.
func NewGRPCProvider(target string, newClient func(*grpc.ClientConn) EmbedClient) (*GRPCProvider, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial embedding server %s: %w", target, err)
	}
	return &GRPCProvider{conn: conn, client: newClient(conn)}, nil
}

func (p *GRPCProvider) Name() string { return "grpc" }

func (p *GRPCProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	reply, err := p.client.Embed(ctx, &EmbedRequest{Text: text, Model: model})
	if err != nil {
		return nil, &Error{Provider: "grpc", Message: err.Error(), IsRetryable: true}
	}
	return reply.Vector, nil
}

func (p *GRPCProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Embed(ctx, &EmbedRequest{Text: "healthcheck", Model: "default"})
	return err
}

func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
