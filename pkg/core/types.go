package core

import (
	"time"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// MemoryType re-exports storage.MemoryType for callers of the core package.
type MemoryType = storage.MemoryType

// Memory types.
const (
	TypeFact        = storage.TypeFact
	TypePreference  = storage.TypePreference
	TypeConstraint  = storage.TypeConstraint
	TypeInstruction = storage.TypeInstruction
	TypeCommitment  = storage.TypeCommitment
)

// Memory represents a single memory stored in the system.
//
// Example:
//
//	memory := &core.Memory{
//	    ID:         1234567890,
//	    UserID:     "user_001",
//	    Type:       core.TypePreference,
//	    Content:    "Prefers answers in French",
//	    Confidence: 0.9,
//	}
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// UserID identifies the user who owns this memory.
	UserID string `json:"user_id"`

	// Type is the memory category.
	Type MemoryType `json:"type"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Confidence is the extraction confidence (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// CreatedTurn is the turn in which the memory was extracted.
	CreatedTurn int `json:"created_turn"`

	// LastUsedTurn is the most recent turn that used the memory.
	LastUsedTurn int `json:"last_used_turn"`

	// UsageCount is how many replies used the memory.
	UsageCount int `json:"usage_count"`

	// Score is the retrieval score (only set on retrieved memories).
	Score float64 `json:"score,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageEvent records one use of a memory.
type UsageEvent struct {
	ID        string    `json:"id"`
	MemoryID  int64     `json:"memory_id"`
	UserID    string    `json:"user_id"`
	Turn      int       `json:"turn"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnState is a state of the turn state machine.
type TurnState string

const (
	StateClassify TurnState = "CLASSIFY"
	StateRetrieve TurnState = "RETRIEVE"
	StateExchange TurnState = "EXCHANGE"
	StateCommit   TurnState = "COMMIT"
	StateDone     TurnState = "DONE"
	StateFailed   TurnState = "FAILED"
)

// TurnResult is the outcome of ProcessTurn.
//
// On failure State is StateFailed, Reply is empty, FailedIn names the state
// that failed, ErrorKind holds the kind sentinel and Err carries the *TurnError
// also returned by ProcessTurn.
type TurnResult struct {
	RequestID  string `json:"request_id"`
	UserID     string `json:"user_id"`
	TurnNumber int    `json:"turn_number"`
	Reply      string `json:"reply"`

	// IntentHints are the memory types the input was classified as.
	IntentHints []MemoryType `json:"intent_hints"`

	// MatchedRules are the classifier rules that fired.
	MatchedRules []string `json:"matched_rules,omitempty"`

	// Retrieved are the candidates sent to the exchange, in rank order.
	Retrieved []*Memory `json:"retrieved"`

	// ExtractedMemories are the memories inserted or reinforced by this turn.
	ExtractedMemories []*Memory `json:"extracted_memories"`

	// ExtractedCount is the number of newly inserted memories.
	ExtractedCount int `json:"extracted_count"`

	// UsedMemoryIDs are the candidates the reply used, in judgment order.
	UsedMemoryIDs []int64 `json:"used_memory_ids"`

	// Analysis holds free-form notes returned by the model, if any.
	Analysis []string `json:"analysis,omitempty"`

	// APICalls is the number of external generation calls made (0 or 1).
	APICalls int `json:"api_calls"`

	ProcessingTime time.Duration `json:"processing_time"`
	State          TurnState     `json:"state"`
	FailedIn       TurnState     `json:"failed_in,omitempty"`
	ErrorKind      error         `json:"-"`
	Err            error         `json:"-"`
}

// Succeeded reports whether the turn reached StateDone.
func (r *TurnResult) Succeeded() bool {
	return r.State == StateDone
}

// MemorySummary aggregates a user's memories.
type MemorySummary struct {
	UserID string `json:"user_id"`

	// Counts holds the number of memories per type; every type is present.
	Counts map[MemoryType]int `json:"counts"`

	Total int `json:"total"`

	// AverageConfidence is rounded to 3 decimal places; 0 when Total is 0.
	AverageConfidence float64 `json:"average_confidence"`

	// RecentlyUsed is the number of memories used at least once.
	RecentlyUsed int `json:"recently_used"`

	// UtilizationRate is RecentlyUsed / Total as a percentage (1 decimal place).
	UtilizationRate float64 `json:"utilization_rate"`

	// Dormant is the number of memories scoring below the retrieval cutoff at LatestTurn.
	Dormant int `json:"dormant"`

	// NextDormantIn is the number of turns after LatestTurn until the first
	// active memory goes dormant if nothing is used. 0 when no memory is active.
	NextDormantIn int `json:"next_dormant_in"`

	LatestTurn int `json:"latest_turn"`
}

// Stats are process-lifetime counters of a Client.
type Stats struct {
	APICalls       int64 `json:"api_calls"`
	TurnsProcessed int64 `json:"turns_processed"`
	TurnsFailed    int64 `json:"turns_failed"`
}
