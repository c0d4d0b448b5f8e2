package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

const (
	sectionExtraction = "===EXTRACTION==="
	sectionAnalysis   = "===ANALYSIS==="
	sectionResponse   = "===RESPONSE==="
)

// Item schemas are deliberately looser than ResponseSchema: type case and
// confidence range are normalized after validation instead of rejected.
var (
	memoryItemSchema = jsonschema.MustCompileString("turnmem://memory-item.json", `{
		"type": "object",
		"required": ["type", "content"],
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"content": {"type": "string", "minLength": 1},
			"confidence": {"type": "number"}
		}
	}`)

	judgmentItemSchema = jsonschema.MustCompileString("turnmem://judgment-item.json", `{
		"type": "object",
		"required": ["memory_id", "used"],
		"properties": {
			"memory_id": {"type": ["string", "integer"]},
			"used": {"type": "boolean"}
		}
	}`)

	jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)
)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// DefaultConfidence applies to drafts without a confidence.
	DefaultConfidence float64

	// MinConfidence drops drafts below it.
	MinConfidence float64
}

// Adapter builds structured requests and parses raw responses.
//
// Parsing is tolerant: individual malformed memory or judgment items are
// skipped, and only a missing reply makes the whole response unusable.
type Adapter struct {
	config AdapterConfig
}

// NewAdapter creates an adapter. A non-positive DefaultConfidence uses the default.
func NewAdapter(config AdapterConfig) *Adapter {
	if config.DefaultConfidence <= 0 {
		config.DefaultConfidence = DefaultConfidence
	}
	if config.MinConfidence < 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	return &Adapter{config: config}
}

// ParseResponse extracts the reply, memory drafts and usage judgments from raw.
func (a *Adapter) ParseResponse(raw *RawResponse) (*ParsedResponse, error) {
	if raw == nil {
		return nil, fmt.Errorf("ParseResponse: %w: nil response", ErrMalformedResponse)
	}

	text := stripFence(raw.Text)
	if text == "" {
		return nil, fmt.Errorf("ParseResponse: %w: empty response", ErrMalformedResponse)
	}

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		sections, err := decodeObject(text)
		if err != nil {
			return nil, fmt.Errorf("ParseResponse: %w: %v", ErrMalformedResponse, err)
		}
		return a.fromSections(sections)
	}

	if strings.Contains(text, sectionExtraction) || strings.Contains(text, sectionResponse) {
		return a.parseLegacy(text), nil
	}

	// Prose around an embedded object.
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if sections, err := decodeObject(text[start : end+1]); err == nil {
			if _, ok := sections["reply"]; ok {
				return a.fromSections(sections)
			}
		}
	}

	return &ParsedResponse{Reply: text}, nil
}

func (a *Adapter) fromSections(sections map[string]json.RawMessage) (*ParsedResponse, error) {
	var reply string
	if raw, ok := sections["reply"]; ok {
		if err := json.Unmarshal(raw, &reply); err != nil {
			return nil, fmt.Errorf("ParseResponse: %w: reply is not a string", ErrMalformedResponse)
		}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("ParseResponse: %w: missing reply", ErrMalformedResponse)
	}

	resp := &ParsedResponse{Reply: reply}

	for _, item := range decodeArray(sections["memories"]) {
		if draft, ok := a.parseDraft(item); ok {
			resp.Drafts = append(resp.Drafts, draft)
		} else {
			resp.Skipped++
		}
	}

	for _, item := range decodeArray(sections["judgments"]) {
		if judgment, ok := parseJudgment(item); ok {
			resp.Judgments = append(resp.Judgments, judgment)
		} else {
			resp.Skipped++
		}
	}

	for _, item := range decodeArray(sections["analysis"]) {
		if line, ok := item.(string); ok && strings.TrimSpace(line) != "" {
			resp.Analysis = append(resp.Analysis, strings.TrimSpace(line))
		}
	}

	return resp, nil
}

// parseLegacy reads the sectioned format: a JSON array of memories after
// ===EXTRACTION===, free-form lines after ===ANALYSIS=== and the reply after
// ===RESPONSE===. Without a response section the whole text is the reply.
func (a *Adapter) parseLegacy(text string) *ParsedResponse {
	resp := &ParsedResponse{Legacy: true}

	if _, after, ok := strings.Cut(text, sectionExtraction); ok {
		part, _, _ := strings.Cut(after, sectionAnalysis)
		part, _, _ = strings.Cut(part, sectionResponse)
		part = strings.TrimSpace(part)

		var items []interface{}
		if err := json.Unmarshal([]byte(part), &items); err != nil {
			if m := jsonArrayPattern.FindString(part); m != "" {
				_ = json.Unmarshal([]byte(m), &items)
			}
		}
		for _, item := range items {
			if draft, ok := a.parseDraft(item); ok {
				resp.Drafts = append(resp.Drafts, draft)
			} else {
				resp.Skipped++
			}
		}
	}

	if _, after, ok := strings.Cut(text, sectionAnalysis); ok {
		part, _, _ := strings.Cut(after, sectionResponse)
		for _, line := range strings.Split(part, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				resp.Analysis = append(resp.Analysis, line)
			}
		}
	}

	if _, after, ok := strings.Cut(text, sectionResponse); ok {
		resp.Reply = strings.TrimSpace(after)
	}
	if resp.Reply == "" {
		resp.Reply = text
	}

	return resp
}

func (a *Adapter) parseDraft(item interface{}) (MemoryDraft, bool) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return MemoryDraft{}, false
	}

	// Older prompts asked for key/value pairs.
	if _, has := obj["content"]; !has {
		if value, ok := obj["value"].(string); ok && strings.TrimSpace(value) != "" {
			content := strings.TrimSpace(value)
			if key, ok := obj["key"].(string); ok && strings.TrimSpace(key) != "" {
				content = strings.TrimSpace(key) + ": " + content
			}
			obj["content"] = content
		}
	}

	if err := memoryItemSchema.Validate(obj); err != nil {
		return MemoryDraft{}, false
	}

	memoryType, err := storage.ParseMemoryType(obj["type"].(string))
	if err != nil {
		return MemoryDraft{}, false
	}

	content := strings.TrimSpace(obj["content"].(string))
	if content == "" {
		return MemoryDraft{}, false
	}

	confidence := a.config.DefaultConfidence
	switch c := obj["confidence"].(type) {
	case float64:
		confidence = c
	case json.Number:
		if f, err := c.Float64(); err == nil {
			confidence = f
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < a.config.MinConfidence {
		return MemoryDraft{}, false
	}

	return MemoryDraft{Type: memoryType, Content: content, Confidence: confidence}, true
}

func parseJudgment(item interface{}) (UsageJudgment, bool) {
	if err := judgmentItemSchema.Validate(item); err != nil {
		return UsageJudgment{}, false
	}
	obj := item.(map[string]interface{})

	var id int64
	switch v := obj["memory_id"].(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return UsageJudgment{}, false
		}
		id = parsed
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return UsageJudgment{}, false
		}
		id = parsed
	default:
		return UsageJudgment{}, false
	}

	return UsageJudgment{MemoryID: id, Used: obj["used"].(bool)}, true
}

// decodeObject decodes the first JSON value in text, which must be an object.
func decodeObject(text string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var sections map[string]json.RawMessage
	if err := dec.Decode(&sections); err != nil {
		return nil, err
	}
	if sections == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return sections, nil
}

// decodeArray decodes raw as an array of generic values. Anything that is not
// an array yields nil. Numbers are kept as json.Number so 64-bit IDs survive.
func decodeArray(raw json.RawMessage) []interface{} {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil
	}
	return items
}

// stripFence removes a Markdown code fence wrapping the whole response, such
// as a leading "```json" line and a trailing "```". Fences inside the payload
// are left alone.
func stripFence(response string) string {
	text := strings.TrimSpace(response)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = text[3:]
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimLeftFunc(text, unicode.IsLetter)
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
