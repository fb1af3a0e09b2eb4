// Package risk decides whether a candidate trade is taken and how large it is.
// It combines the estimator's edge over the market price, the Kelly criterion
// and the per-mode policy selected in the operator settings.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// MaxKelly clamps the raw Kelly fraction.
const MaxKelly = 0.5

// Policy is the gate and size cap of one risk mode.
type Policy struct {
	Mode          domain.RiskMode
	MinConfidence float64
	MinEdge       float64
	// MaxPrice and MinPayoffMultiple gate moonshot trades: price must not
	// exceed MaxPrice and the side probability must be at least
	// MinPayoffMultiple times the price.
	MaxPrice          float64
	MinPayoffMultiple float64
	Cap               float64
}

var policies = map[domain.RiskMode]Policy{
	domain.ModeGrind:    {Mode: domain.ModeGrind, MinConfidence: 85, MinEdge: 4, Cap: 0.05},
	domain.ModeBalanced: {Mode: domain.ModeBalanced, MinConfidence: 70, MinEdge: 8, Cap: 0.15},
	domain.ModeMoonshot: {Mode: domain.ModeMoonshot, MaxPrice: 0.20, MinPayoffMultiple: 2, Cap: 0.25},
}

// PolicyFor returns the policy of mode, falling back to balanced.
func PolicyFor(mode domain.RiskMode) Policy {
	if p, ok := policies[mode]; ok {
		return p
	}
	return policies[domain.ModeBalanced]
}

// Candidate is an estimator verdict on a market.
type Candidate struct {
	// Probability is the estimated YES probability in [0,1].
	Probability float64
	// Confidence is on a 0-100 scale.
	Confidence float64
	Side       domain.Side
	YesPrice   float64
	NoPrice    float64
}

// Decision is the outcome of Evaluate. A rejected Decision still carries the
// computed edge and Kelly fraction for the audit log.
type Decision struct {
	Approved    bool
	Side        domain.Side
	Price       float64
	Probability float64
	Edge        float64
	Kelly       float64
	SizePct     float64
	Mode        domain.RiskMode
	Reason      string
}

// Edge is the estimated mispricing of side in percentage points.
func Edge(side domain.Side, p, yesPrice, noPrice float64) float64 {
	if side == domain.SideNo {
		return ((1 - p) - noPrice) * 100
	}
	return (p - yesPrice) * 100
}

// Kelly returns the Kelly fraction for a binary contract priced m with win
// probability p, clamped to [0, MaxKelly]. Prices outside (0,1) yield 0.
func Kelly(p, m float64) float64 {
	if m <= 0 || m >= 1 {
		return 0
	}
	b := 1/m - 1
	if b <= 0 {
		return 0
	}
	f := (b*p - (1 - p)) / b
	return math.Max(0, math.Min(f, MaxKelly))
}

// Evaluate applies settings to a candidate. When the estimator recommends NO
// but shorting is disabled, the candidate is evaluated as a YES trade.
func Evaluate(c Candidate, s domain.Settings) Decision {
	side := c.Side
	if side != domain.SideNo || !s.AllowShorting {
		side = domain.SideYes
	}

	d := Decision{
		Side:        side,
		Price:       c.YesPrice,
		Probability: c.Probability,
		Mode:        s.Mode,
	}
	if side == domain.SideNo {
		d.Price = c.NoPrice
		d.Probability = 1 - c.Probability
	}
	d.Edge = Edge(side, c.Probability, c.YesPrice, c.NoPrice)
	d.Kelly = Kelly(d.Probability, d.Price)

	policy := PolicyFor(s.Mode)
	d.Mode = policy.Mode
	if reason := policy.gate(d, c.Confidence); reason != "" {
		d.Reason = reason
		return d
	}

	size := math.Min(d.Kelly, policy.Cap) * s.RiskMultiplier
	d.SizePct = math.Min(size, policy.Cap)
	if d.SizePct <= 0 {
		d.Reason = "kelly fraction is zero"
		return d
	}
	d.Approved = true
	return d
}

func (p Policy) gate(d Decision, confidence float64) string {
	if p.MaxPrice > 0 {
		if d.Price > p.MaxPrice {
			return fmt.Sprintf("%s: price %.2f above %.2f", p.Mode, d.Price, p.MaxPrice)
		}
		if d.Probability < p.MinPayoffMultiple*d.Price {
			return fmt.Sprintf("%s: probability %.2f below %.0fx price", p.Mode, d.Probability, p.MinPayoffMultiple)
		}
		return ""
	}
	if confidence < p.MinConfidence {
		return fmt.Sprintf("%s: confidence %.0f below %.0f", p.Mode, confidence, p.MinConfidence)
	}
	if d.Edge < p.MinEdge {
		return fmt.Sprintf("%s: edge %.1f below %.1f", p.Mode, d.Edge, p.MinEdge)
	}
	return ""
}

// dateLayouts are the resolution date formats understood by WithinHorizon.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// WithinHorizon reports whether a market resolving at endDate falls within
// maxDays of now. Missing or unparsable dates are allowed.
func WithinHorizon(endDate string, maxDays int, now time.Time) bool {
	endDate = strings.TrimSpace(endDate)
	if endDate == "" {
		return true
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, endDate)
		if err != nil {
			continue
		}
		return !t.After(now.Add(time.Duration(maxDays) * 24 * time.Hour))
	}
	return true
}
