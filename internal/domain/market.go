package domain

// Market is an active binary prediction market as seen by the engine.
type Market struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	YesPrice float64 `json:"yes_price"`
	NoPrice  float64 `json:"no_price"`
	// TokenIDs holds the YES token at index 0 and the NO token at index 1.
	TokenIDs []string `json:"token_ids"`
	// EndDate is the raw resolution date reported by the venue.
	EndDate string  `json:"end_date"`
	Volume  float64 `json:"volume"`
}

// TokenFor returns the token tracked for the given side, or "" when the
// venue did not report one.
func (m Market) TokenFor(side Side) string {
	idx := 0
	if side == SideNo {
		idx = 1
	}
	if idx < len(m.TokenIDs) {
		return m.TokenIDs[idx]
	}
	return ""
}

// PriceFor returns the market price of the given side.
func (m Market) PriceFor(side Side) float64 {
	if side == SideNo {
		return m.NoPrice
	}
	return m.YesPrice
}
