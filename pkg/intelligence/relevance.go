package intelligence

import (
	"context"
	"fmt"
	"sort"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

const (
	// DefaultTopK is the number of memories retrieved per turn.
	DefaultTopK = 5

	// DefaultCrossTypeWeight is the weight applied to memories outside the intent hints.
	DefaultCrossTypeWeight = 0.5
)

// MemoryReader is the read side of storage.Store used for retrieval.
type MemoryReader interface {
	GetMemories(ctx context.Context, userID string, types []storage.MemoryType) ([]*storage.Memory, error)
}

// RelevanceConfig configures a RelevanceEngine.
type RelevanceConfig struct {
	// TopK is the default number of memories returned.
	TopK int

	// CrossTypeRecall makes every memory a candidate, weighting those outside
	// the intent hints by CrossTypeWeight.
	CrossTypeRecall bool

	// CrossTypeWeight applies when CrossTypeRecall is enabled.
	CrossTypeWeight float64
}

// RelevanceEngine ranks a user's memories for the current turn.
//
// It never writes: decay and usage updates are applied by the orchestrator
// after the exchange, so retrieving twice at the same turn returns the same
// result.
type RelevanceEngine struct {
	reader MemoryReader
	decay  *DecayModel
	config RelevanceConfig
}

// NewRelevanceEngine creates a relevance engine. A nil decay model uses the defaults.
func NewRelevanceEngine(reader MemoryReader, decay *DecayModel, config RelevanceConfig) *RelevanceEngine {
	if decay == nil {
		decay = NewDecayModel(DefaultTau, DefaultCutoff)
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.CrossTypeWeight <= 0 {
		config.CrossTypeWeight = DefaultCrossTypeWeight
	}
	return &RelevanceEngine{reader: reader, decay: decay, config: config}
}

// DecayModel returns the engine's decay model.
func (e *RelevanceEngine) DecayModel() *DecayModel {
	return e.decay
}

// Retrieve returns up to limit memories of userID ranked for turn.
// A non-positive limit uses the configured TopK.
func (e *RelevanceEngine) Retrieve(ctx context.Context, userID string, turn int, hints []storage.MemoryType, limit int) ([]ScoredMemory, error) {
	filter := hints
	if e.config.CrossTypeRecall {
		filter = nil
	}

	memories, err := e.reader.GetMemories(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("Retrieve: %w", err)
	}

	return e.Rank(memories, turn, hints, limit), nil
}

// Rank scores memories at turn and returns the top limit.
func (e *RelevanceEngine) Rank(memories []*storage.Memory, turn int, hints []storage.MemoryType, limit int) []ScoredMemory {
	if limit <= 0 {
		limit = e.config.TopK
	}

	scored := make([]ScoredMemory, 0, len(memories))
	for _, m := range memories {
		weight := 1.0
		if len(hints) > 0 && !storage.ContainsType(hints, m.Type) {
			if !e.config.CrossTypeRecall {
				continue
			}
			weight = e.config.CrossTypeWeight
		}

		decay := e.decay.Decay(turn, m.LastUsedTurn)
		score := weight * m.Confidence * decay
		if score < e.decay.Cutoff {
			continue
		}

		scored = append(scored, ScoredMemory{
			Memory: m.Clone(),
			Score:  score,
			Decay:  decay,
			Weight: weight,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.LastUsedTurn != b.Memory.LastUsedTurn {
			return a.Memory.LastUsedTurn > b.Memory.LastUsedTurn
		}
		return a.Memory.ID < b.Memory.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
