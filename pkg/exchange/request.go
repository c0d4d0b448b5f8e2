package exchange

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/oceanbase/turnmem-go/pkg/llm"
)

// ResponseSchema is the JSON schema of the expected model output.
const ResponseSchema = `{
  "type": "object",
  "required": ["reply"],
  "properties": {
    "reply": {"type": "string", "minLength": 1},
    "memories": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "content"],
        "properties": {
          "type": {"type": "string", "enum": ["fact", "preference", "constraint", "instruction", "commitment"]},
          "content": {"type": "string", "minLength": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "judgments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["memory_id", "used"],
        "properties": {
          "memory_id": {"type": "string"},
          "used": {"type": "boolean"}
        }
      }
    },
    "analysis": {"type": "array", "items": {"type": "string"}}
  }
}`

const instructions = `You are an assistant with long-term memory about the user. In ONE response:

1. Reply to the user's input naturally. Use the candidate memories when relevant, without saying "I remember".
2. Extract NEW durable memories stated in the input. Only extract facts, preferences, constraints, instructions and commitments about the user. Write each as a short self-contained statement. Do not repeat a candidate memory unless the input restates it.
3. For every candidate memory, judge whether your reply used it.

Respond with a single JSON object matching this schema and nothing else:`

// BuildRequest assembles the structured request for one turn.
// Candidate order is preserved; scores are rounded to 4 decimal places.
func (a *Adapter) BuildRequest(tc *TurnContext) *StructuredRequest {
	req := &StructuredRequest{
		RequestID:    tc.RequestID,
		UserID:       tc.UserID,
		TurnNumber:   tc.TurnNumber,
		Input:        tc.InputText,
		IntentHints:  make([]string, 0, len(tc.IntentHints)),
		Candidates:   make([]Candidate, 0, len(tc.Candidates)),
		OutputSchema: ResponseSchema,
		Instructions: instructions,
	}

	for _, t := range tc.IntentHints {
		req.IntentHints = append(req.IntentHints, string(t))
	}
	for _, c := range tc.Candidates {
		req.Candidates = append(req.Candidates, Candidate{
			ID:      strconv.FormatInt(c.Memory.ID, 10),
			Type:    string(c.Memory.Type),
			Content: c.Memory.Content,
			Score:   math.Round(c.Score*1e4) / 1e4,
		})
	}

	return req
}

// CandidateIDs returns the IDs of the request's candidates.
func (r *StructuredRequest) CandidateIDs() []int64 {
	ids := make([]int64, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		if id, err := strconv.ParseInt(c.ID, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Messages renders the request as a system and a user message.
func (r *StructuredRequest) Messages() []llm.Message {
	var system strings.Builder
	system.WriteString(r.Instructions)
	system.WriteString("\n\n")
	system.WriteString(r.OutputSchema)

	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		// Only plain strings and numbers are marshalled.
		payload = []byte(r.Input)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system.String()},
		{Role: llm.RoleUser, Content: string(payload)},
	}
}
