package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// maxSources and maxSourceChars bound the research excerpt in deep prompts.
const (
	maxSources     = 5
	maxSourceChars = 500
)

// verdictRe finds the first flat JSON object in a reply, tolerating prose
// around it.
var verdictRe = regexp.MustCompile(`\{[^{}]*\}`)

// Estimator implements domain.Estimator for one model and prompt style.
type Estimator struct {
	client    *Client
	model     string
	maxTokens int
	prompt    func(domain.EstimateRequest) string
}

// NewFastEstimator returns the headline-impact estimator used by the sniper.
func NewFastEstimator(c *Client, model string, maxTokens int) *Estimator {
	return &Estimator{client: c, model: model, maxTokens: maxTokens, prompt: headlinePrompt}
}

// NewDeepEstimator returns the research-backed estimator used by the
// researcher.
func NewDeepEstimator(c *Client, model string, maxTokens int) *Estimator {
	return &Estimator{client: c, model: model, maxTokens: maxTokens, prompt: researchPrompt}
}

// Estimate asks the model for a verdict. Replies that carry no usable JSON
// object yield domain.ErrUnparsableResponse.
func (e *Estimator) Estimate(ctx context.Context, req domain.EstimateRequest) (domain.Estimate, error) {
	text, err := e.client.Complete(ctx, e.model, e.maxTokens, e.prompt(req))
	if err != nil {
		return domain.Estimate{}, err
	}
	est, err := ParseEstimate(text)
	if err != nil {
		e.client.logger.Debug("anthropic: unparsable reply", slog.String("model", e.model), slog.String("error", err.Error()))
		return domain.Estimate{}, err
	}
	return est, nil
}

type verdict struct {
	Probability *float64 `json:"probability"`
	Confidence  *float64 `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	Side        string   `json:"side"`
}

// ParseEstimate extracts the verdict from a model reply. Probability is
// required and must lie in 0-100. A missing confidence reads as 0 and a
// missing side as YES.
func ParseEstimate(text string) (domain.Estimate, error) {
	raw := verdictRe.FindString(text)
	if raw == "" {
		return domain.Estimate{}, fmt.Errorf("anthropic: no json object: %w", domain.ErrUnparsableResponse)
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Estimate{}, fmt.Errorf("anthropic: decode verdict: %v: %w", err, domain.ErrUnparsableResponse)
	}
	if v.Probability == nil || *v.Probability < 0 || *v.Probability > 100 {
		return domain.Estimate{}, fmt.Errorf("anthropic: probability missing or out of range: %w", domain.ErrUnparsableResponse)
	}

	est := domain.Estimate{Probability: *v.Probability, Reasoning: strings.TrimSpace(v.Reasoning), Side: domain.SideYes}
	if v.Confidence != nil {
		est.Confidence = min(max(*v.Confidence, 0), 100)
	}
	switch strings.ToUpper(strings.TrimSpace(v.Side)) {
	case "", "YES":
	case "NO":
		est.Side = domain.SideNo
	default:
		return domain.Estimate{}, fmt.Errorf("anthropic: unknown side %q: %w", v.Side, domain.ErrUnparsableResponse)
	}
	return est, nil
}

func priceLines(req domain.EstimateRequest) string {
	return fmt.Sprintf("Current YES price: $%.2f (%.0f%% implied probability)\nCurrent NO price: $%.2f (%.0f%% implied probability)",
		req.YesPrice, req.YesPrice*100, req.NoPrice, req.NoPrice*100)
}

func headlinePrompt(req domain.EstimateRequest) string {
	return `You are a prediction market analyst. Judge how this breaking headline affects the market below.

NEWS HEADLINE: ` + req.Headline + `

PREDICTION MARKET: ` + req.Question + `
` + priceLines(req) + `

Estimate:
1. The probability that the market resolves YES (0-100)
2. Your confidence in that estimate (0-100)
3. A short justification (1-2 sentences)
4. The side to buy: YES or NO

Only recommend a trade when the headline bears directly on the question. If it does not, set confidence to 0.

Reply with JSON only, exactly in this shape:
{"probability": 65, "confidence": 75, "reasoning": "...", "side": "YES"}`
}

func researchPrompt(req domain.EstimateRequest) string {
	var sources strings.Builder
	for i, r := range req.Research {
		if i == maxSources {
			break
		}
		content := r.Content
		if runes := []rune(content); len(runes) > maxSourceChars {
			content = string(runes[:maxSourceChars])
		}
		fmt.Fprintf(&sources, "\n%d. %s\n   %s\n", i+1, r.Title, content)
	}
	if sources.Len() == 0 {
		sources.WriteString("\n(no research results)\n")
	}

	return `You are an expert prediction market analyst. Assess the market below using the research provided.

PREDICTION MARKET: ` + req.Question + `
` + priceLines(req) + `

RESEARCH SOURCES:` + sources.String() + `
Consider the factors that decide the outcome, what the price implies against the evidence, and any mispricing.

Then give:
1. The probability that the market resolves YES (0-100)
2. Your confidence level (0-100)
3. Your reasoning (2-3 sentences)
4. The side to buy: YES or NO

Reply with JSON only, exactly in this shape:
{"probability": 65, "confidence": 80, "reasoning": "...", "side": "YES"}`
}

var _ domain.Estimator = (*Estimator)(nil)
