package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/cache/local"
	"github.com/alanyoungcy/pollypilot/internal/domain"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>World</title>
<item><title>Fed holds rates steady</title><link>https://x/1</link><pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate></item>
<item><title>  </title><link>https://x/blank</link></item>
<item><title>Election results are in</title><link>https://x/2</link><pubDate>Mon, 02 Jun 2025 12:00:00 GMT</pubDate></item>
<item><title>Third story</title><link>https://x/3</link><pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate></item>
</channel></rss>`

const cryptoBody = `{"results":[
 {"title":"Bitcoin tops record","url":"https://c/1","published_at":"2025-06-02T11:00:00Z"},
 {"title":"FED HOLDS RATES STEADY ","url":"https://c/dup","published_at":"2025-06-02T11:30:00Z"}
]}`

func newNewsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rss", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssBody))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /posts/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "secret", q.Get("auth_token"))
		assert.Equal(t, "hot", q.Get("filter"))
		assert.Equal(t, "news", q.Get("kind"))
		assert.Equal(t, "true", q.Get("public"))
		_, _ = w.Write([]byte(cryptoBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHashTitle(t *testing.T) {
	h := HashTitle("  Fed Holds Rates Steady ")
	assert.Len(t, h, 12)
	assert.Equal(t, h, HashTitle("fed holds rates steady"))
	assert.NotEqual(t, h, HashTitle("fed cuts rates"))
}

func TestPollMergesSortsAndDedups(t *testing.T) {
	srv := newNewsServer(t)
	dedup := local.NewHeadlineDedup(time.Hour)
	c := NewClient(Config{
		Feeds:          []Feed{{Name: "world", URL: srv.URL + "/rss"}, {Name: "down", URL: srv.URL + "/broken"}},
		CryptoPanicKey: "secret",
		CryptoPanicURL: srv.URL + "/posts/",
		PerFeedLimit:   3,
	}, dedup, nil)
	ctx := context.Background()

	got, err := c.Poll(ctx)
	require.NoError(t, err, "one failing feed does not fail the poll")

	var titles []string
	for _, h := range got {
		titles = append(titles, h.Title)
		assert.Equal(t, HashTitle(h.Title), h.Hash)
	}
	// per-feed limit of 3 counts only non-blank items; the upper-cased
	// CryptoPanic duplicate collapses into the RSS headline
	assert.Len(t, got, 4)
	assert.Equal(t, "Election results are in", titles[0])
	assert.Equal(t, "Bitcoin tops record", titles[1])
	assert.Contains(t, titles, "Third story")
	assert.Equal(t, "Third story", titles[len(titles)-1])

	require.NoError(t, c.MarkProcessed(ctx, got[0]))
	again, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	for _, h := range again {
		assert.NotEqual(t, got[0].Hash, h.Hash)
	}
}

func TestPollAllSourcesFailed(t *testing.T) {
	srv := newNewsServer(t)
	c := NewClient(Config{Feeds: []Feed{{Name: "down", URL: srv.URL + "/broken"}}}, local.NewHeadlineDedup(time.Hour), nil)

	_, err := c.Poll(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestPollWithoutSources(t *testing.T) {
	c := NewClient(Config{}, local.NewHeadlineDedup(time.Hour), nil)
	got, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkProcessedHashesMissingKey(t *testing.T) {
	dedup := local.NewHeadlineDedup(time.Hour)
	c := NewClient(Config{}, dedup, nil)
	ctx := context.Background()

	require.NoError(t, c.MarkProcessed(ctx, domain.Headline{Title: "Some Title"}))
	seen, err := dedup.Seen(ctx, HashTitle("some title"))
	require.NoError(t, err)
	assert.True(t, seen)
}
