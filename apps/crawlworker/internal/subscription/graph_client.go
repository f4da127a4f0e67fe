package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned by GraphClient methods when the remote API
// responds 404 -- callers tolerate this for deletes and treat it as a
// trigger to recreate on renew.
var ErrNotFound = fmt.Errorf("subscription: remote resource not found")

// GraphClient talks to an external, Microsoft-Graph-shaped change
// notification API. No library in the pack wraps a Graph-subscription
// client, so this is built directly on net/http.
type GraphClient interface {
	CreateSubscription(ctx context.Context, token, resource string, expiration time.Time) (graphSubscriptionID string, err error)
	PatchSubscription(ctx context.Context, token, graphSubscriptionID string, expiration time.Time) error
	DeleteSubscription(ctx context.Context, token, graphSubscriptionID string) error
}

type createSubscriptionRequest struct {
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState,omitempty"`
}

type patchSubscriptionRequest struct {
	ExpirationDateTime string `json:"expirationDateTime"`
}

type subscriptionResponse struct {
	ID                 string `json:"id"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// httpGraphClient is the production GraphClient, issuing plain REST calls
// against baseURL (e.g. "https://graph.microsoft.com/v1.0").
type httpGraphClient struct {
	baseURL         string
	notificationURL string
	clientState     string
	httpClient      *http.Client
}

// NewHTTPGraphClient builds a GraphClient against baseURL, sending
// notificationURL as the webhook callback on every created subscription.
func NewHTTPGraphClient(baseURL, notificationURL, clientState string) GraphClient {
	return &httpGraphClient{
		baseURL:         baseURL,
		notificationURL: notificationURL,
		clientState:     clientState,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *httpGraphClient) CreateSubscription(ctx context.Context, token, resource string, expiration time.Time) (string, error) {
	body := createSubscriptionRequest{
		ChangeType:         "updated,deleted",
		NotificationURL:    c.notificationURL,
		Resource:           resource,
		ExpirationDateTime: expiration.UTC().Format(time.RFC3339),
		ClientState:        c.clientState,
	}
	var out subscriptionResponse
	if err := c.do(ctx, http.MethodPost, token, "/subscriptions", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpGraphClient) PatchSubscription(ctx context.Context, token, graphSubscriptionID string, expiration time.Time) error {
	body := patchSubscriptionRequest{ExpirationDateTime: expiration.UTC().Format(time.RFC3339)}
	return c.do(ctx, http.MethodPatch, token, "/subscriptions/"+graphSubscriptionID, body, nil)
}

func (c *httpGraphClient) DeleteSubscription(ctx context.Context, token, graphSubscriptionID string) error {
	return c.do(ctx, http.MethodDelete, token, "/subscriptions/"+graphSubscriptionID, nil, nil)
}

func (c *httpGraphClient) do(ctx context.Context, method, token, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
