package intelligence

import (
	"math"
	"sort"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// DefaultSearchThreshold is the minimum lexical score Search keeps.
const DefaultSearchThreshold = 0.1

const (
	phraseScore     = 0.6
	maxOverlapScore = 0.4
)

// SearchHit is a memory matched by keyword search.
type SearchHit struct {
	Memory *storage.Memory

	// Score is the lexical score in (0, 1].
	Score float64
}

// LexicalScore rates how well content matches query by keywords.
//
// The score is 0.6 when either text contains the other as a contiguous run of
// words, plus the share of content words that appear in query (at most 0.4).
// Matching uses the same tokenization as the intent classifier.
func LexicalScore(content, query string) float64 {
	c := tokenize(content)
	q := tokenize(query)
	if len(c) == 0 || len(q) == 0 {
		return 0
	}

	score := 0.0
	if containsRun(q, c) || containsRun(c, q) {
		score += phraseScore
	}

	inQuery := make(map[string]bool, len(q))
	for _, tok := range q {
		inQuery[tok] = true
	}
	unique := make(map[string]bool, len(c))
	overlap := 0
	for _, tok := range c {
		if unique[tok] {
			continue
		}
		unique[tok] = true
		if inQuery[tok] {
			overlap++
		}
	}
	score += math.Min(maxOverlapScore, float64(overlap)/float64(len(unique)))

	return math.Min(score, 1.0)
}

// Search scores memories against query and returns those with a positive
// score of at least threshold, best first. Equal scores keep ID order.
func Search(memories []*storage.Memory, query string, threshold float64) []SearchHit {
	hits := make([]SearchHit, 0)
	for _, m := range memories {
		score := LexicalScore(m.Content, query)
		if score <= 0 || score < threshold {
			continue
		}
		hits = append(hits, SearchHit{Memory: m, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	return hits
}

// containsRun reports whether needle occurs in haystack as consecutive tokens.
func containsRun(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, tok := range needle {
			if haystack[i+j] != tok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
