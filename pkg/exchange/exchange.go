// Package exchange builds the single structured request sent to the
// generation model each turn and parses its combined answer: the reply, newly
// extracted memories and per-candidate usage judgments.
package exchange

import (
	"context"
	"errors"

	"github.com/oceanbase/turnmem-go/pkg/intelligence"
	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// ErrMalformedResponse is returned when a response has no usable reply.
var ErrMalformedResponse = errors.New("malformed exchange response")

// Default adapter settings.
const (
	DefaultConfidence    = 0.9
	DefaultMinConfidence = 0.0
)

// TurnContext is the per-turn input to BuildRequest.
type TurnContext struct {
	RequestID   string
	UserID      string
	TurnNumber  int
	InputText   string
	Candidates  []intelligence.ScoredMemory
	IntentHints []storage.MemoryType
}

// Candidate is a retrieved memory as presented to the model.
type Candidate struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// StructuredRequest is everything the model needs for one turn.
type StructuredRequest struct {
	RequestID    string      `json:"request_id"`
	UserID       string      `json:"user_id"`
	TurnNumber   int         `json:"turn"`
	Input        string      `json:"input"`
	IntentHints  []string    `json:"intent_hints"`
	Candidates   []Candidate `json:"candidates"`
	OutputSchema string      `json:"-"`
	Instructions string      `json:"-"`
}

// RawResponse is the unparsed model output.
type RawResponse struct {
	Text string
}

// MemoryDraft is a memory proposed by the model, not yet stored.
type MemoryDraft struct {
	Type       storage.MemoryType `json:"type"`
	Content    string             `json:"content"`
	Confidence float64            `json:"confidence"`
}

// UsageJudgment says whether the model used a candidate memory in its reply.
type UsageJudgment struct {
	MemoryID int64 `json:"memory_id"`
	Used     bool  `json:"used"`
}

// ParsedResponse is the validated content of a RawResponse.
type ParsedResponse struct {
	Reply     string
	Drafts    []MemoryDraft
	Judgments []UsageJudgment
	Analysis  []string

	// Legacy is true when the sectioned text format was parsed.
	Legacy bool

	// Skipped counts memory and judgment items dropped during validation.
	Skipped int
}

// Generator performs the single external generation call of a turn.
type Generator interface {
	Generate(ctx context.Context, req *StructuredRequest) (*RawResponse, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req *StructuredRequest) (*RawResponse, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req *StructuredRequest) (*RawResponse, error) {
	return f(ctx, req)
}
