package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is the funnel-side consumer of the checkout routes: it forwards a
// purchase intent and returns the redirect URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a checkout client against the funnel server base URL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// BuyCredits starts a credit-pack purchase and returns the checkout URL.
// Returns ErrComingSoon when the flow is not yet available upstream.
func (c *Client) BuyCredits(ctx context.Context, pack string) (string, error) {
	if !ValidPack(pack) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPack, pack)
	}
	return c.post(ctx, "/api/credits/purchase/checkout", checkoutRequest{Pack: pack})
}

// GoPro starts a pro-plan subscription checkout and returns the URL.
func (c *Client) GoPro(ctx context.Context) (string, error) {
	return c.post(ctx, "/api/plan/pro/checkout", checkoutRequest{})
}

func (c *Client) post(ctx context.Context, path string, body checkoutRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkout request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read checkout response: %w", err)
	}

	if resp.StatusCode == http.StatusNotImplemented {
		return "", ErrComingSoon
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload map[string]interface{}
		_ = json.Unmarshal(raw, &payload)
		if msg, ok := payload["error"].(string); ok && msg != "" {
			return "", fmt.Errorf("checkout failed: %s", msg)
		}
		return "", fmt.Errorf("checkout failed with status %d", resp.StatusCode)
	}

	var out checkoutResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.URL == "" {
		return "", ErrInvalidResponse
	}
	return out.URL, nil
}
