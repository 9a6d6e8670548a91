// Package retrieval implements the external knowledge endpoint client
// used by the Critic stage. The endpoint is a simple JSON search API;
// results come back as attributed external snippets.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
)

// DefaultTimeout bounds one retrieval round-trip.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps the response body read.
const maxResponseBytes = 4 << 20

// Config configures the retrieval client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the retrieval endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a retrieval client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("retrieval"),
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Text     string `json:"text"`
		SourceID string `json:"source_id"`
		URL      string `json:"url"`
		Date     string `json:"date"`
	} `json:"results"`
}

// Retrieve queries the endpoint and projects the results into external
// snippets. It satisfies the pipeline's retrieval tool signature.
func (c *Client) Retrieve(ctx context.Context, query string) ([]contextpack.Snippet, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(searchRequest{Query: query, Limit: 5})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("retrieval response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval endpoint returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("retrieval response malformed: %w", err)
	}

	snippets := make([]contextpack.Snippet, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Text == "" {
			continue
		}
		date, _ := time.Parse(time.RFC3339, r.Date)
		snippets = append(snippets, contextpack.Snippet{
			Text:        r.Text,
			Origin:      contextpack.OriginExternal,
			Date:        date,
			Attribution: attribution(r.SourceID, r.URL),
			Notes:       r.URL,
		})
	}
	c.logger.Debug("retrieval completed",
		zap.String("query", query), zap.Int("results", len(snippets)))
	return snippets, nil
}

func attribution(sourceID, url string) string {
	if sourceID != "" {
		return "retrieval:" + sourceID
	}
	return "retrieval:" + url
}
