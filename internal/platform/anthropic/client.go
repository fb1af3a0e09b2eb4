// Package anthropic implements the probability estimators on the Anthropic
// Messages API. A fast estimator scores headline impact and a deep one
// weighs web research; both ask the model for a single JSON verdict.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Config holds API access and throttling.
type Config struct {
	APIKey  string
	BaseURL string
	// RequestsPerMinute caps calls across both estimators. Zero disables
	// throttling.
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client is a minimal Messages API client shared by the estimators.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a Client. An empty API key is allowed; every call then
// fails with domain.ErrEstimatorUnavailable.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: limiter,
		logger:      logger.With(slog.String("component", "anthropic")),
	}
}

// Available reports whether the client has credentials.
func (c *Client) Available() bool { return c.apiKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user turn and returns the concatenated text blocks
// of the reply.
func (c *Client) Complete(ctx context.Context, model string, maxTokens int, prompt string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("anthropic: %w: api key not set", domain.ErrEstimatorUnavailable)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("anthropic: rate limit wait: %w", err)
	}

	payload, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var out messagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", domain.ErrUnparsableResponse)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c.logger.Debug("anthropic: completion",
		"model", model,
		"stop_reason", out.StopReason,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(sb.String()), nil
}

// checkHTTPStatus maps non-2xx responses to domain errors. Every mapped
// error matches domain.ErrGatewayUnavailable.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Type + ": " + ae.Error.Message
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrGatewayUnavailable, domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrGatewayUnavailable, domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrGatewayUnavailable, statusCode, msg)
	}
}
