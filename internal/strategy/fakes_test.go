package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/portfolio"
	"github.com/alanyoungcy/pollypilot/internal/service"
	"github.com/alanyoungcy/pollypilot/internal/store/memory"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.Market
	quotes  map[string]float64
	listErr error
	limits  []int
}

func (f *fakeMarkets) ListActiveMarkets(_ context.Context, limit int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Market(nil), f.markets...), nil
}

func (f *fakeMarkets) Quote(_ context.Context, tokenID string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.quotes[tokenID]
	return p, ok, nil
}

type fakeNews struct {
	mu        sync.Mutex
	headlines []domain.Headline
	err       error
	processed []string
}

func (f *fakeNews) Poll(context.Context) ([]domain.Headline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Headline(nil), f.headlines...), f.err
}

func (f *fakeNews) MarkProcessed(_ context.Context, h domain.Headline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, h.Hash)
	return nil
}

type fakeEstimator struct {
	mu    sync.Mutex
	fn    func(domain.EstimateRequest) (domain.Estimate, error)
	calls []domain.EstimateRequest
}

func (f *fakeEstimator) Estimate(_ context.Context, req domain.EstimateRequest) (domain.Estimate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeEstimator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fixedEstimate(e domain.Estimate) *fakeEstimator {
	return &fakeEstimator{fn: func(domain.EstimateRequest) (domain.Estimate, error) { return e, nil }}
}

type fakeResearch struct {
	mu      sync.Mutex
	queries []string
	results []domain.SearchResult
	err     error
}

func (f *fakeResearch) Search(_ context.Context, query string, _ int) ([]domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type harness struct {
	deps     Deps
	ledger   *portfolio.Ledger
	journal  *service.Journal
	settings *service.SettingsService
	markets  *fakeMarkets
	news     *fakeNews
	research *fakeResearch
}

func newHarness(t *testing.T, balance float64) *harness {
	t.Helper()
	ctx := context.Background()
	ledger, err := portfolio.Open(ctx, memory.NewLedgerRepo(), balance, discardLogger())
	require.NoError(t, err)
	settings := service.NewSettingsService(memory.NewSettingsStore(), discardLogger())
	require.NoError(t, settings.Seed(ctx, domain.DefaultSettings()))
	journal := service.NewJournal(memory.NewEventStore(0), nil, nil, discardLogger())

	h := &harness{
		ledger:   ledger,
		journal:  journal,
		settings: settings,
		markets:  &fakeMarkets{quotes: map[string]float64{}},
		news:     &fakeNews{},
		research: &fakeResearch{},
	}
	h.deps = Deps{
		Markets:  h.markets,
		News:     h.news,
		Research: h.research,
		Fast:     fixedEstimate(domain.Estimate{}),
		Deep:     fixedEstimate(domain.Estimate{}),
		Book:     ledger,
		Settings: settings,
		Journal:  journal,
	}
	return h
}

func (h *harness) entries(t *testing.T, level domain.LogLevel) []domain.LogEntry {
	t.Helper()
	all, err := h.journal.Recent(context.Background(), 0)
	require.NoError(t, err)
	var out []domain.LogEntry
	for _, e := range all {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func market(id, question string, yes float64) domain.Market {
	return domain.Market{
		ID:       id,
		Question: question,
		YesPrice: yes,
		NoPrice:  1 - yes,
		TokenIDs: []string{id + "-yes", id + "-no"},
	}
}
