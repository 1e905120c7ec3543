package kodi

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// matchThreshold is the highest accepted score, i.e. at least 60% similarity.
	matchThreshold = 0.4
	// matchDistance is how many characters of offset cost one full score point.
	matchDistance = 100
	// lengthPenalty scales the share of a label left outside the matched window,
	// so a whole-label match outranks the same text inside a longer title.
	lengthPenalty = 0.001
)

// BestMatch returns the candidate whose label best approximates query.
// Labels are compared case-insensitively with diacritics removed. Each label
// is scored by the fewest edits needed to find the query inside it, relative to
// the query length, plus a small penalty for how far in the match starts.
// The lowest score wins and ties go to the earliest candidate.
func BestMatch[T any](query string, candidates []T, label func(T) string) (T, bool) {
	var zero T
	fold := newFolder()
	q := []rune(fold(strings.TrimSpace(query)))
	if len(q) == 0 || len(candidates) == 0 {
		return zero, false
	}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := matchScore(q, []rune(fold(label(c))))
		if score > matchThreshold {
			continue
		}
		if best < 0 || score < bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return zero, false
	}
	return candidates[best], true
}

func newFolder() func(string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	return func(s string) string {
		out, _, err := transform.String(t, s)
		if err != nil {
			return strings.ToLower(s)
		}
		return out
	}
}

func matchScore(query, label []rune) float64 {
	n := len(query)
	if len(label) == 0 {
		return 1
	}
	if len(label) <= n+1 {
		return float64(fuzzy.LevenshteinDistance(string(query), string(label))) / float64(n)
	}

	best := -1.0
	maxStart := min(len(label)-1, int(matchThreshold*matchDistance))
	for start := 0; start <= maxStart; start++ {
		for width := n - 1; width <= n+1; width++ {
			if width < 1 || start+width > len(label) {
				continue
			}
			edits := fuzzy.LevenshteinDistance(string(query), string(label[start:start+width]))
			score := float64(edits)/float64(n) + float64(start)/matchDistance +
				float64(len(label)-width)/float64(len(label))*lengthPenalty
			if best < 0 || score < best {
				best = score
			}
		}
	}
	if best < 0 {
		return 1
	}
	return best
}
