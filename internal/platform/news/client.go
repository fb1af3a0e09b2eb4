// Package news implements the headline gateway over RSS/Atom feeds and the
// CryptoPanic posts API. Headlines are identified by a hash of their
// normalised title and filtered against a HeadlineDedup window.
package news

import (
	"cmp"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// Feed is a named RSS or Atom source.
type Feed struct {
	Name string
	URL  string
}

// Config holds the sources and fetch limits.
type Config struct {
	Feeds          []Feed
	CryptoPanicKey string
	// CryptoPanicURL overrides the posts endpoint, mainly for tests.
	CryptoPanicURL string
	// PerFeedLimit caps the items taken from each source.
	PerFeedLimit int
	Timeout      time.Duration
}

// Client implements domain.NewsGateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dedup      domain.HeadlineDedup
	logger     *slog.Logger
}

// NewClient creates a news gateway. dedup must not be nil.
func NewClient(cfg Config, dedup domain.HeadlineDedup, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PerFeedLimit <= 0 {
		cfg.PerFeedLimit = 10
	}
	if cfg.CryptoPanicURL == "" {
		cfg.CryptoPanicURL = defaultCryptoPanicURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dedup:      dedup,
		logger:     logger.With(slog.String("component", "news")),
	}
}

// Poll fetches every source concurrently and returns the headlines not yet
// marked processed in the current window, newest first. A source that fails
// is logged and skipped; Poll fails only when every source failed.
func (c *Client) Poll(ctx context.Context) ([]domain.Headline, error) {
	type result struct {
		source string
		items  []domain.Headline
		err    error
	}
	sources := len(c.cfg.Feeds)
	if c.cfg.CryptoPanicKey != "" {
		sources++
	}
	// One slot per source keeps the merge order stable: feeds in configured
	// order, then CryptoPanic.
	results := make([]result, sources)

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range c.cfg.Feeds {
		g.Go(func() error {
			items, err := c.fetchFeed(gctx, f)
			results[i] = result{source: f.Name, items: items, err: err}
			return nil
		})
	}
	if c.cfg.CryptoPanicKey != "" {
		g.Go(func() error {
			items, err := c.fetchCryptoPanic(gctx)
			results[sources-1] = result{source: sourceCryptoPanic, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		all      []domain.Headline
		failures int
	)
	for _, r := range results {
		if r.err != nil {
			failures++
			c.logger.Warn("news: source failed", slog.String("source", r.source), slog.String("error", r.err.Error()))
			continue
		}
		all = append(all, r.items...)
	}
	if sources > 0 && failures == sources {
		return nil, fmt.Errorf("news: poll: all %d sources failed: %w", sources, domain.ErrGatewayUnavailable)
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]domain.Headline, 0, len(all))
	for _, h := range all {
		if _, dup := seen[h.Hash]; dup {
			continue
		}
		seen[h.Hash] = struct{}{}
		processed, err := c.dedup.Seen(ctx, h.Hash)
		if err != nil {
			c.logger.Warn("news: dedup check failed", slog.String("hash", h.Hash), slog.String("error", err.Error()))
		}
		if processed {
			continue
		}
		out = append(out, h)
	}
	slices.SortStableFunc(out, func(a, b domain.Headline) int {
		return cmp.Compare(b.PublishedAt.UnixNano(), a.PublishedAt.UnixNano())
	})
	return out, nil
}

// MarkProcessed records h so later polls in the same window skip it.
func (c *Client) MarkProcessed(ctx context.Context, h domain.Headline) error {
	hash := h.Hash
	if hash == "" {
		hash = HashTitle(h.Title)
	}
	if err := c.dedup.Mark(ctx, hash); err != nil {
		return fmt.Errorf("news: mark processed: %w", err)
	}
	return nil
}

func (c *Client) fetchFeed(ctx context.Context, f Feed) ([]domain.Headline, error) {
	fp := gofeed.NewParser()
	fp.Client = c.httpClient
	fp.UserAgent = "pollypilot/1.0"

	feed, err := fp.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	out := make([]domain.Headline, 0, min(len(feed.Items), c.cfg.PerFeedLimit))
	for _, item := range feed.Items {
		if len(out) == c.cfg.PerFeedLimit {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		h := domain.Headline{
			Title:  title,
			Link:   item.Link,
			Source: f.Name,
			Hash:   HashTitle(title),
		}
		switch {
		case item.PublishedParsed != nil:
			h.PublishedAt = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			h.PublishedAt = item.UpdatedParsed.UTC()
		}
		out = append(out, h)
	}
	return out, nil
}

// HashTitle returns the dedup key for a headline: the first 12 hex digits of
// the MD5 of the lower-cased, trimmed title.
func HashTitle(title string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(title))))
	return hex.EncodeToString(sum[:])[:12]
}

var _ domain.NewsGateway = (*Client)(nil)
