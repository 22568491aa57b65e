// Package embedding maintains per-page semantic vectors and serves top-k
// search over them.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/domsphere/siteintel/internal/site"
)

// ProviderConfig controls the HTTP embedding provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPProvider calls an external embedding service over HTTP. Any transport,
// auth or decode failure surfaces as site.ErrEmbeddingFailed.
type HTTPProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

var _ site.EmbeddingProvider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider from config, applying a default timeout.
func NewHTTPProvider(cfg ProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding.base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Disabled is the provider wired when no embedding service is configured.
// Every call fails with ErrEmbeddingFailed so embed and search operations
// degrade cleanly instead of panicking.
type Disabled struct{}

// Embed always fails.
func (Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding provider configured: %w", site.ErrEmbeddingFailed)
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a vector for text from the configured service.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", site.ErrEmbeddingFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", site.ErrEmbeddingFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed call: %v: %w", err, site.ErrEmbeddingFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("embed call status %d: %w", resp.StatusCode, site.ErrEmbeddingFailed)
	}
	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %v: %w", err, site.ErrEmbeddingFailed)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("embed response empty: %w", site.ErrEmbeddingFailed)
	}
	return decoded.Embedding, nil
}
