// Package tavily implements the research gateway on the Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

const defaultBaseURL = "https://api.tavily.com"

// Config holds API access and throttling.
type Config struct {
	APIKey  string
	BaseURL string
	// SearchDepth is "basic" or "advanced".
	SearchDepth       string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client implements domain.ResearchGateway.
type Client struct {
	apiKey      string
	baseURL     string
	depth       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a research gateway. Without an API key every search
// fails with domain.ErrGatewayUnavailable.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "advanced"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		depth:       cfg.SearchDepth,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: limiter,
		logger:      logger.With(slog.String("component", "tavily")),
	}
}

type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

// Search returns up to maxResults hits for query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily: %w: api key not set", domain.ErrGatewayUnavailable)
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tavily: rate limit wait: %w", err)
	}

	payload, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: c.depth,
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("tavily: %w: %w", domain.ErrGatewayUnavailable, domain.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("tavily: %w: %w", domain.ErrGatewayUnavailable, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("tavily: %w: HTTP %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("tavily: %w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	c.logger.Debug("tavily: search", slog.String("query", query), slog.Int("results", len(out.Results)))
	return out.Results, nil
}

var _ domain.ResearchGateway = (*Client)(nil)
