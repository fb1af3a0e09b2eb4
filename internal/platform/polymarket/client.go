// Package polymarket implements the market gateway on Polymarket's public
// Gamma (discovery) and CLOB (pricing) REST APIs. No credentials are needed;
// the engine only reads.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// fallbackPrice is used for both sides when neither Gamma nor the CLOB
// report a price.
const fallbackPrice = 0.5

// Config holds the API roots and client behaviour.
type Config struct {
	// GammaHost is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
	GammaHost string
	// ClobHost is the CLOB API root, e.g. "https://clob.polymarket.com".
	ClobHost string
	Timeout  time.Duration
	// CacheTTL bounds how long a listing is served from cache. Zero disables
	// caching.
	CacheTTL time.Duration
}

// Client implements domain.MarketGateway.
type Client struct {
	gammaHost  string
	clobHost   string
	httpClient *http.Client
	cache      domain.MarketListCache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient creates a market gateway. cache may be nil.
func NewClient(cfg Config, cache domain.MarketListCache, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gammaHost:  strings.TrimRight(cfg.GammaHost, "/"),
		clobHost:   strings.TrimRight(cfg.ClobHost, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger.With(slog.String("component", "polymarket")),
	}
}

// ListActiveMarkets returns up to limit open markets ordered by volume,
// descending. Markets without Gamma prices are priced from the CLOB
// midpoint of their YES token, and failing that at 0.5/0.5.
func (c *Client) ListActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 100
	}
	key := "active:" + strconv.Itoa(limit)
	if c.cache != nil && c.cacheTTL > 0 {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("polymarket: cache read failed", slog.String("error", err.Error()))
		} else if ok {
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "volume")
	params.Set("ascending", "false")

	body, err := c.doGet(ctx, c.gammaHost+"/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}
	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w: %v", domain.ErrGatewayUnavailable, err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		a := &apiMarkets[i]
		if a.Closed || a.ID == "" || a.Question == "" {
			continue
		}
		m := a.ToDomainMarket()
		m.YesPrice, m.NoPrice = c.resolvePrices(ctx, a, m)
		markets = append(markets, m)
		if len(markets) == limit {
			break
		}
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, key, markets, c.cacheTTL); err != nil {
			c.logger.Warn("polymarket: cache write failed", slog.String("error", err.Error()))
		}
	}
	return markets, nil
}

func (c *Client) resolvePrices(ctx context.Context, a *APIMarket, m domain.Market) (yes, no float64) {
	if yes, no, ok := a.prices(); ok {
		return yes, no
	}
	if tok := m.TokenFor(domain.SideYes); tok != "" {
		price, ok, err := c.Quote(ctx, tok)
		if err != nil {
			c.logger.Debug("polymarket: fallback quote failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		}
		if ok {
			return price, 1 - price
		}
	}
	return fallbackPrice, fallbackPrice
}

// Quote returns the CLOB midpoint for tokenID. A token the CLOB does not
// know, or a response without a midpoint, yields ok=false.
func (c *Client) Quote(ctx context.Context, tokenID string) (float64, bool, error) {
	if tokenID == "" {
		return 0, false, nil
	}
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, c.clobHost+"/midpoint?"+params.Encode())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}
	var mp APIMidpoint
	if err := json.Unmarshal(body, &mp); err != nil {
		return 0, false, fmt.Errorf("polymarket/clob: decode midpoint: %w: %v", domain.ErrGatewayUnavailable, err)
	}
	if mp.Mid == nil {
		return 0, false, nil
	}
	return float64(*mp.Mid), true, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request.
func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Every mapped
// error also matches domain.ErrGatewayUnavailable so callers can treat them
// uniformly.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := truncateBody(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrGatewayUnavailable, domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrGatewayUnavailable, domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrGatewayUnavailable, domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrGatewayUnavailable, statusCode, bodyStr)
	}
}

func truncateBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

var _ domain.MarketGateway = (*Client)(nil)
