package lexicon

import (
	"github.com/antzucaro/matchr"
)

// defaultHintThreshold is the minimum Jaro-Winkler similarity for a keyword
// to be offered as a "did you mean" hint.
const defaultHintThreshold = 0.75

// Hint is a near-miss suggestion for a transcript that matched nothing.
type Hint struct {
	Keyword Keyword
	Score   float64
}

// Closest ranks every catalog entry by Jaro-Winkler similarity to spoken and
// returns the best one if it scores at least threshold (0 selects the
// default of 0.75). Hints are informational only and never affect damage.
//
// Two comparisons are tried per keyword and the higher score kept:
//
//  1. The whole cleaned transcript against the cleaned keyword.
//  2. Every window of the cleaned transcript that is as long as the keyword,
//     so that battle cries around the keyword do not dilute the score.
func (c *Catalog) Closest(spoken string, threshold float64) (Hint, bool) {
	if threshold <= 0 {
		threshold = defaultHintThreshold
	}
	s := []rune(Clean(spoken))
	if len(s) == 0 {
		return Hint{}, false
	}

	var best Hint
	for _, k := range c.All() {
		score := similarity(s, []rune(Clean(k.Phrase)))
		if score > best.Score {
			best = Hint{Keyword: k, Score: score}
		}
	}
	if best.Score < threshold {
		return Hint{}, false
	}
	return best, true
}

// similarity returns the best Jaro-Winkler score between keyword and either
// the whole of spoken or any equally long window of it.
func similarity(spoken, keyword []rune) float64 {
	if len(keyword) == 0 {
		return 0
	}
	kw := string(keyword)
	score := matchr.JaroWinkler(string(spoken), kw, false)
	if len(spoken) <= len(keyword) {
		return score
	}
	for i := 0; i+len(keyword) <= len(spoken); i++ {
		if s := matchr.JaroWinkler(string(spoken[i:i+len(keyword)]), kw, false); s > score {
			score = s
		}
	}
	return score
}
