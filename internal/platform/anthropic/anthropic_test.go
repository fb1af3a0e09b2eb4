package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

func TestParseEstimate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    domain.Estimate
		wantErr bool
	}{
		{
			name: "plain",
			text: `{"probability": 65, "confidence": 75, "reasoning": "Strong signal", "side": "YES"}`,
			want: domain.Estimate{Probability: 65, Confidence: 75, Reasoning: "Strong signal", Side: domain.SideYes},
		},
		{
			name: "wrapped in prose",
			text: "Here is my answer:\n{\"probability\": 20,\n \"confidence\": 60, \"reasoning\": \"Unlikely\", \"side\": \"no\"}\nThanks.",
			want: domain.Estimate{Probability: 20, Confidence: 60, Reasoning: "Unlikely", Side: domain.SideNo},
		},
		{
			name: "defaults",
			text: `{"probability": 50}`,
			want: domain.Estimate{Probability: 50, Side: domain.SideYes},
		},
		{
			name: "confidence clamped",
			text: `{"probability": 90, "confidence": 140}`,
			want: domain.Estimate{Probability: 90, Confidence: 100, Side: domain.SideYes},
		},
		{name: "no json", text: "I cannot help with that.", wantErr: true},
		{name: "missing probability", text: `{"confidence": 10}`, wantErr: true},
		{name: "out of range", text: `{"probability": 130}`, wantErr: true},
		{name: "string probability", text: `{"probability": "high"}`, wantErr: true},
		{name: "bad side", text: `{"probability": 40, "side": "MAYBE"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEstimate(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrUnparsableResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimatorWithoutKey(t *testing.T) {
	e := NewFastEstimator(NewClient(Config{}, nil), "m", 100)
	_, err := e.Estimate(context.Background(), domain.EstimateRequest{Question: "Q?"})
	assert.ErrorIs(t, err, domain.ErrEstimatorUnavailable)
}

func TestEstimatorRoundTrip(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"probability\": 72, \"confidence\": 55, \"reasoning\": \"ok\", \"side\": \"YES\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, RequestsPerMinute: 600}, nil)
	e := NewDeepEstimator(c, "deep-model", 500)
	est, err := e.Estimate(context.Background(), domain.EstimateRequest{
		Question: "Will X win?",
		YesPrice: 0.4,
		NoPrice:  0.6,
		Research: []domain.SearchResult{{Title: "Poll", Content: "X leads"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 72.0, est.Probability)
	assert.Equal(t, 55.0, est.Confidence)

	assert.Equal(t, "deep-model", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Will X win?")
	assert.Contains(t, got.Messages[0].Content, "1. Poll")
	assert.Contains(t, got.Messages[0].Content, "$0.40 (40% implied probability)")
}

func TestEstimatorHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusInternalServerError, domain.ErrGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"x","message":"nope"}}`))
			}))
			defer srv.Close()

			e := NewFastEstimator(NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil), "m", 10)
			_, err := e.Estimate(context.Background(), domain.EstimateRequest{Question: "Q?", Headline: "H"})
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
		})
	}
}

func TestEstimatorUnparsableReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"not sure"}]}`))
	}))
	defer srv.Close()

	e := NewFastEstimator(NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil), "m", 10)
	_, err := e.Estimate(context.Background(), domain.EstimateRequest{Question: "Q?"})
	assert.ErrorIs(t, err, domain.ErrUnparsableResponse)
}
