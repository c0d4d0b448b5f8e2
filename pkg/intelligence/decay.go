package intelligence

import (
	"math"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

const (
	// DefaultTau is the decay time constant in turns.
	DefaultTau = 20.0

	// DefaultCutoff is the score below which a memory is not retrieved.
	DefaultCutoff = 0.01

	// DefaultReinforcementFactor is the share of the remaining headroom a
	// corroborating extraction adds to a memory's confidence.
	DefaultReinforcementFactor = 0.3
)

// DecayModel scores memories by how many turns have passed since they were
// last used.
//
// The decay factor follows an exponential forgetting curve measured in turns
// rather than wall-clock time:
//
//	decay = e^(-(current_turn - last_used_turn) / tau)
//
// A memory used in the current turn has decay 1.0; after tau turns it has
// decayed to about 0.368. Elapsed turns below zero are clamped to zero.
type DecayModel struct {
	// Tau is the time constant in turns. Larger values decay more slowly.
	Tau float64

	// Cutoff is the minimum score a memory needs to be retrieved.
	Cutoff float64
}

// NewDecayModel creates a decay model. Non-positive tau and negative cutoff
// fall back to DefaultTau and DefaultCutoff.
func NewDecayModel(tau, cutoff float64) *DecayModel {
	if tau <= 0 {
		tau = DefaultTau
	}
	if cutoff < 0 {
		cutoff = DefaultCutoff
	}
	return &DecayModel{Tau: tau, Cutoff: cutoff}
}

// Decay returns the decay factor at currentTurn for a memory last used at lastUsedTurn.
func (m *DecayModel) Decay(currentTurn, lastUsedTurn int) float64 {
	elapsed := currentTurn - lastUsedTurn
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Exp(-float64(elapsed) / m.Tau)
}

// Score returns weight × confidence × decay.
func (m *DecayModel) Score(memory *storage.Memory, currentTurn int, weight float64) float64 {
	return weight * memory.Confidence * m.Decay(currentTurn, memory.LastUsedTurn)
}

// Dormant reports whether a memory with full weight scores below the cutoff at currentTurn.
func (m *DecayModel) Dormant(memory *storage.Memory, currentTurn int) bool {
	return m.Score(memory, currentTurn, 1.0) < m.Cutoff
}

// Reinforce strengthens a confidence value.
//
// The formula is:
//
//	new = min(1.0, current + factor * (1 - current))
//
// so weak memories gain more than strong ones and the result never exceeds 1.0.
func (m *DecayModel) Reinforce(current, factor float64) float64 {
	next := current + factor*(1.0-current)
	if next > 1.0 {
		return 1.0
	}
	if next < 0 {
		return 0
	}
	return next
}

// TurnsUntilForgotten returns how many turns without use it takes for a
// memory with the given confidence to fall below the cutoff. Zero means it is
// already below.
func (m *DecayModel) TurnsUntilForgotten(confidence float64) int {
	if m.Cutoff <= 0 {
		return math.MaxInt32
	}
	if confidence < m.Cutoff {
		return 0
	}
	// Smallest n with confidence * e^(-n/tau) < cutoff.
	return int(math.Floor(m.Tau*math.Log(confidence/m.Cutoff))) + 1
}
