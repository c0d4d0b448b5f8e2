package intelligence

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dgraph-io/ristretto"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// Rule maps a set of cue phrases to the memory types they hint at.
type Rule struct {
	Name  string
	Cues  []string
	Types []storage.MemoryType
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "personal_detail",
			Cues: []string{"my name", "name is", "i am", "i'm", "i live", "live in", "i work", "work at",
				"my job", "years old", "who am i", "where do i"},
			Types: []storage.MemoryType{storage.TypeFact},
		},
		{
			Name:  "preference",
			Cues:  []string{"i like", "i love", "i prefer", "prefer", "favorite", "favourite", "i enjoy", "i hate", "i dislike"},
			Types: []storage.MemoryType{storage.TypePreference},
		},
		{
			Name:  "restriction",
			Cues:  []string{"can't", "cannot", "allergic", "avoid", "not allowed", "unable", "vegetarian", "vegan"},
			Types: []storage.MemoryType{storage.TypeConstraint},
		},
		{
			Name:  "negated_command",
			Cues:  []string{"don't", "do not", "never"},
			Types: []storage.MemoryType{storage.TypeConstraint, storage.TypeInstruction},
		},
		{
			Name:  "standing_instruction",
			Cues:  []string{"always", "remember to", "make sure", "from now on", "call me", "respond in", "reply in"},
			Types: []storage.MemoryType{storage.TypeInstruction},
		},
		{
			Name:  "communication",
			Cues:  []string{"language", "speak", "email", "tone"},
			Types: []storage.MemoryType{storage.TypePreference, storage.TypeInstruction},
		},
		{
			Name:  "scheduling",
			Cues:  []string{"schedule", "meeting", "appointment", "calendar", "tomorrow", "next week", "deadline", "remind me"},
			Types: []storage.MemoryType{storage.TypeCommitment, storage.TypeConstraint},
		},
		{
			Name:  "commitment",
			Cues:  []string{"i will", "i'll", "promise", "going to", "plan to"},
			Types: []storage.MemoryType{storage.TypeCommitment},
		},
	}
}

type compiledRule struct {
	name  string
	cues  []string // " tok tok " form
	types []storage.MemoryType
}

// IntentClassifier maps user input to the memory types worth retrieving.
//
// Classification is pure and deterministic: the same input always yields the
// same hints, and no input is ever an error. Results can optionally be
// memoized in a ristretto cache keyed by the normalized token stream.
//
// Example usage:
//
//	classifier, err := NewIntentClassifier(1000)
//	hints := classifier.Classify("My name is Alice")
//	// hints == []storage.MemoryType{storage.TypeFact}
type IntentClassifier struct {
	rules []compiledRule
	cache *ristretto.Cache
}

// NewIntentClassifier creates a classifier using DefaultRules.
// A positive cacheSize enables memoization of up to that many inputs.
func NewIntentClassifier(cacheSize int64) (*IntentClassifier, error) {
	return NewIntentClassifierWithRules(DefaultRules(), cacheSize)
}

// NewIntentClassifierWithRules creates a classifier with a custom rule table.
func NewIntentClassifierWithRules(rules []Rule, cacheSize int64) (*IntentClassifier, error) {
	c := &IntentClassifier{}

	for _, r := range rules {
		cr := compiledRule{name: r.Name}
		for _, t := range r.Types {
			if !t.Valid() {
				return nil, fmt.Errorf("NewIntentClassifier: rule %q: unknown memory type %q", r.Name, t)
			}
			cr.types = append(cr.types, t)
		}
		for _, cue := range r.Cues {
			tokens := tokenize(cue)
			if len(tokens) == 0 {
				continue
			}
			cr.cues = append(cr.cues, " "+strings.Join(tokens, " ")+" ")
		}
		c.rules = append(c.rules, cr)
	}

	if cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cacheSize * 10,
			MaxCost:     cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("NewIntentClassifier: %w", err)
		}
		c.cache = cache
	}

	return c, nil
}

// Classify returns the intent hints for text in canonical type order.
func (c *IntentClassifier) Classify(text string) []storage.MemoryType {
	return c.Explain(text).Types
}

// Explain classifies text and also reports which rules matched.
func (c *IntentClassifier) Explain(text string) Classification {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Classification{}
	}
	key := " " + strings.Join(tokens, " ") + " "

	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if cached, ok := v.(Classification); ok {
				return cached.clone()
			}
		}
	}

	hit := make(map[storage.MemoryType]bool)
	var result Classification
	for _, r := range c.rules {
		if !r.matches(key) {
			continue
		}
		result.Rules = append(result.Rules, r.name)
		for _, t := range r.types {
			hit[t] = true
		}
	}
	for _, t := range storage.AllMemoryTypes() {
		if hit[t] {
			result.Types = append(result.Types, t)
		}
	}

	if c.cache != nil {
		c.cache.Set(key, result.clone(), 1)
	}
	return result
}

// Close releases the classification cache.
func (c *IntentClassifier) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

func (r compiledRule) matches(key string) bool {
	for _, cue := range r.cues {
		if strings.Contains(key, cue) {
			return true
		}
	}
	return false
}

// tokenize lower-cases text and splits it into words made of letters, digits
// and apostrophes. Invalid UTF-8 is replaced and typographic apostrophes are
// folded to ASCII.
func tokenize(text string) []string {
	text = strings.ToValidUTF8(text, " ")
	text = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(text)
	text = strings.ToLower(text)

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
