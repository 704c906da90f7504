package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const entitlementTimeout = 10 * time.Second

// entitlementResponse is the subscriber snapshot returned by every
// endpoint of the entitlement service.
type entitlementResponse struct {
	Entitlements []string `json:"entitlements"`
}

type purchaseRequest struct {
	ProductID string `json:"product_id"`
}

// HTTPEntitlementClient implements domain.EntitlementClient against the
// subscription backend. All calls are synchronous; callers run them off
// the event loop.
type HTTPEntitlementClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
	userID   string
}

// NewHTTPEntitlementClient creates a client for the given endpoint.
// Returns nil when endpoint is empty so callers can treat the platform
// as absent.
func NewHTTPEntitlementClient(endpoint, apiKey, userID string) *HTTPEntitlementClient {
	if endpoint == "" {
		return nil
	}
	return &HTTPEntitlementClient{
		client:   &http.Client{Timeout: entitlementTimeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		userID:   userID,
	}
}

// ActiveEntitlements returns the entitlement ids currently active for the
// subscriber.
func (c *HTTPEntitlementClient) ActiveEntitlements(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/subscribers/%s", c.endpoint, c.userID)
	return c.doRequest(ctx, http.MethodGet, url, nil)
}

// Purchase starts a purchase of the given product and returns the active
// entitlements afterwards.
func (c *HTTPEntitlementClient) Purchase(ctx context.Context, productID string) ([]string, error) {
	body, err := json.Marshal(purchaseRequest{ProductID: productID})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/subscribers/%s/purchase", c.endpoint, c.userID)
	return c.doRequest(ctx, http.MethodPost, url, body)
}

// Restore replays past purchases and returns the active entitlements.
func (c *HTTPEntitlementClient) Restore(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/subscribers/%s/restore", c.endpoint, c.userID)
	return c.doRequest(ctx, http.MethodPost, url, nil)
}

func (c *HTTPEntitlementClient) doRequest(ctx context.Context, method, url string, body []byte) ([]string, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEntitlementCheck, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: service returned status %d", domain.ErrEntitlementCheck, resp.StatusCode)
	}

	var parsed entitlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", domain.ErrEntitlementCheck, err)
	}
	return parsed.Entitlements, nil
}

// Ensure HTTPEntitlementClient implements domain.EntitlementClient.
var _ domain.EntitlementClient = (*HTTPEntitlementClient)(nil)
