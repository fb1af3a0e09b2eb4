package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// stringList unmarshals either a JSON array or a string holding a
// JSON-encoded array, since Gamma sends outcomePrices and clobTokenIds as
// the latter. Elements may be strings or numbers.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*l = nil
			return nil
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			// Malformed embedded arrays are treated as absent.
			*l = nil
			return nil
		}
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, strings.TrimSpace(string(r)))
	}
	*l = out
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of a Gamma /markets item the engine reads.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	EndDateISO    string     `json:"endDateIso"`
	EndDate       string     `json:"endDate"`
	Volume        flexFloat  `json:"volume"`
	Closed        bool       `json:"closed"`
}

// prices returns the YES and NO prices when Gamma reported both.
func (a *APIMarket) prices() (yes, no float64, ok bool) {
	if len(a.OutcomePrices) < 2 {
		return 0, 0, false
	}
	yes, err := strconv.ParseFloat(a.OutcomePrices[0], 64)
	if err != nil {
		return 0, 0, false
	}
	no, err = strconv.ParseFloat(a.OutcomePrices[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return yes, no, true
}

// ToDomainMarket converts the DTO, leaving prices at zero. The client fills
// them in so it can fall back to a CLOB quote.
func (a *APIMarket) ToDomainMarket() domain.Market {
	end := a.EndDateISO
	if end == "" {
		end = a.EndDate
	}
	return domain.Market{
		ID:       a.ID,
		Question: strings.TrimSpace(a.Question),
		TokenIDs: []string(a.ClobTokenIDs),
		EndDate:  end,
		Volume:   float64(a.Volume),
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIMidpoint is the CLOB /midpoint response.
type APIMidpoint struct {
	Mid *flexFloat `json:"mid"`
}
