// Package intelligence provides the local, model-free parts of the memory
// engine: intent classification, turn-based decay, relevance ranking and
// duplicate detection.
package intelligence

import "github.com/oceanbase/turnmem-go/pkg/storage"

// ScoredMemory is a memory paired with its retrieval score for one turn.
type ScoredMemory struct {
	// Memory is a copy of the stored record.
	Memory *storage.Memory

	// Score is weight × confidence × decay.
	Score float64

	// Decay is the decay factor at the scoring turn (0.0-1.0].
	Decay float64

	// Weight is 1.0 for hinted types and the cross-type weight otherwise.
	Weight float64
}

// Classification is the result of classifying one user input.
type Classification struct {
	// Types are the intent hints in canonical order. Empty when nothing matched.
	Types []storage.MemoryType

	// Rules are the names of the rules that matched, in table order.
	Rules []string
}

func (c Classification) clone() Classification {
	out := Classification{}
	if len(c.Types) > 0 {
		out.Types = append([]storage.MemoryType(nil), c.Types...)
	}
	if len(c.Rules) > 0 {
		out.Rules = append([]string(nil), c.Rules...)
	}
	return out
}
