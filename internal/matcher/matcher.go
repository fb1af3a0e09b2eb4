// Package matcher links news headlines to the markets they plausibly move.
// Matching is a cheap keyword heuristic; false positives are expected and are
// filtered again by the probability estimator.
package matcher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

const (
	// MaxKeywords is the number of headline keywords used for scoring.
	MaxKeywords = 5
	// MaxMatches caps the ranked result.
	MaxMatches = 5
)

var wordPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

var stopWords = toSet(
	"a", "an", "the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"from", "as", "is", "was", "are", "were", "been", "be", "have", "has", "had", "do", "does",
	"did", "will", "would", "could", "should", "may", "might", "must", "shall", "can", "need",
	"dare", "ought", "used", "it", "its", "this", "that", "these", "those", "i", "you", "he",
	"she", "we", "they", "what", "which", "who", "whom", "whose", "where", "when", "why", "how",
	"all", "each", "every", "both", "few", "more", "most", "other", "some", "such", "no", "nor",
	"not", "only", "own", "same", "so", "than", "too", "very", "just", "also", "now", "here",
	"there", "then", "once", "again", "further", "still", "already", "new", "says", "said",
	"after", "before", "over", "under", "between", "into", "through", "during", "above",
	"below", "up", "down", "out", "off", "about", "against", "report", "reports", "according",
	"news", "update", "updates",
)

// Match is a market paired with its keyword overlap score.
type Match struct {
	Market domain.Market
	Score  int
}

// Keywords extracts up to MaxKeywords lowercase alphabetic tokens of length
// three or more from text, skipping stop words, in order of appearance.
func Keywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, MaxKeywords)
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		out = append(out, w)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

// Rank scores every market by how many headline keywords occur as substrings
// of its question, drops zero scores and returns at most MaxMatches results
// sorted by descending score. Ties keep input order.
func Rank(headline string, markets []domain.Market) []Match {
	keywords := Keywords(headline)
	if len(keywords) == 0 {
		return nil
	}

	var matches []Match
	for _, m := range markets {
		q := strings.ToLower(m.Question)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, Match{Market: m, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches
}

// Markets is Rank without the scores.
func Markets(headline string, markets []domain.Market) []domain.Market {
	ranked := Rank(headline, markets)
	out := make([]domain.Market, len(ranked))
	for i, m := range ranked {
		out[i] = m.Market
	}
	return out
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
