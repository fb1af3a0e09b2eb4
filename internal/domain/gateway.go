package domain

import "context"

// MarketGateway supplies active markets and live quotes.
type MarketGateway interface {
	ListActiveMarkets(ctx context.Context, limit int) ([]Market, error)
	// Quote returns the latest price for a token. ok is false when the venue
	// has no quote, which is not an error.
	Quote(ctx context.Context, tokenID string) (price float64, ok bool, err error)
}

// NewsGateway supplies headlines not yet marked processed.
type NewsGateway interface {
	Poll(ctx context.Context) ([]Headline, error)
	MarkProcessed(ctx context.Context, h Headline) error
}

// Estimator turns market context into a probability verdict. It returns
// ErrUnparsableResponse when the model output does not conform and
// ErrEstimatorUnavailable when it lacks credentials.
type Estimator interface {
	Estimate(ctx context.Context, req EstimateRequest) (Estimate, error)
}

// ResearchGateway runs web searches for the researcher.
type ResearchGateway interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}
