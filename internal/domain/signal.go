package domain

import "time"

// Headline is a news item offered to the sniper.
type Headline struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Hash        string    `json:"hash"`
}

// SearchResult is one web research hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// EstimateRequest is the context handed to a probability estimator. Headline
// is set by the sniper, Research by the researcher.
type EstimateRequest struct {
	Question string
	YesPrice float64
	NoPrice  float64
	Headline string
	Research []SearchResult
}

// Estimate is a probability estimator verdict. Probability and Confidence are
// both on a 0-100 scale.
type Estimate struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	Side        Side    `json:"side"`
}
