package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

const (
	defaultCryptoPanicURL = "https://cryptopanic.com/api/v1/posts/"
	sourceCryptoPanic     = "cryptopanic"
)

type cryptoPanicResponse struct {
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		PublishedAt string `json:"published_at"`
	} `json:"results"`
}

func (c *Client) fetchCryptoPanic(ctx context.Context) ([]domain.Headline, error) {
	params := url.Values{}
	params.Set("auth_token", c.cfg.CryptoPanicKey)
	params.Set("filter", "hot")
	params.Set("kind", "news")
	params.Set("public", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CryptoPanicURL+"?"+params.Encode(), nil)
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
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, domain.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var data cryptoPanicResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: decode posts: %v", domain.ErrGatewayUnavailable, err)
	}

	out := make([]domain.Headline, 0, min(len(data.Results), c.cfg.PerFeedLimit))
	for _, post := range data.Results {
		if len(out) == c.cfg.PerFeedLimit {
			break
		}
		title := strings.TrimSpace(post.Title)
		if title == "" {
			continue
		}
		h := domain.Headline{
			Title:  title,
			Link:   post.URL,
			Source: sourceCryptoPanic,
			Hash:   HashTitle(title),
		}
		if t, err := time.Parse(time.RFC3339, post.PublishedAt); err == nil {
			h.PublishedAt = t.UTC()
		}
		out = append(out, h)
	}
	return out, nil
}
