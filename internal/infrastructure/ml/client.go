package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"RiskScanner/internal/domain"
	"RiskScanner/internal/ports"
)

// Client talks to an OpenAI-compatible embedding server.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) ModelName() string { return "http:" + c.model }

// Embed requests the vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": c.model,
		"input": text,
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	if err := c.post(ctx, "/embeddings", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response has no vector")
	}

	return resp.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("do request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			statusErr = domain.Transient(statusErr)
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			return fmt.Errorf("%w, close body: %v", statusErr, closeErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
