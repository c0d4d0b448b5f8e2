package intelligence

import (
	"context"
	"strings"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// NormalizeContent returns the duplicate-detection key for memory content:
// lower-cased, whitespace collapsed and trailing punctuation removed.
func NormalizeContent(content string) string {
	content = strings.ToValidUTF8(content, "")
	content = strings.ToLower(strings.Join(strings.Fields(content), " "))
	return strings.TrimRight(content, ".!?,;: ")
}

// ContentFinder looks up a stored memory by normalized content.
// storage.Tx satisfies it.
type ContentFinder interface {
	FindByContent(ctx context.Context, userID string, memoryType storage.MemoryType, normalized string) (*storage.Memory, error)
}

type dedupKey struct {
	userID     string
	memoryType storage.MemoryType
	normalized string
}

// DedupIndex detects exact normalized duplicates within one commit batch and
// against the store.
//
// Example usage:
//
//	index := NewDedupIndex(tx)
//	existing, err := index.Find(ctx, userID, storage.TypeFact, NormalizeContent(content))
//	if existing == nil {
//	    // insert, then index.Remember(inserted)
//	}
type DedupIndex struct {
	finder ContentFinder
	batch  map[dedupKey]*storage.Memory
}

// NewDedupIndex creates an index backed by finder. A nil finder checks the batch only.
func NewDedupIndex(finder ContentFinder) *DedupIndex {
	return &DedupIndex{
		finder: finder,
		batch:  make(map[dedupKey]*storage.Memory),
	}
}

// Find returns the memory with the same user, type and normalized content,
// looking at the batch first and then the store. Returns nil, nil when absent.
func (d *DedupIndex) Find(ctx context.Context, userID string, memoryType storage.MemoryType, normalized string) (*storage.Memory, error) {
	key := dedupKey{userID: userID, memoryType: memoryType, normalized: normalized}
	if m, ok := d.batch[key]; ok {
		return m, nil
	}
	if d.finder == nil {
		return nil, nil
	}

	m, err := d.finder.FindByContent(ctx, userID, memoryType, normalized)
	if err != nil || m == nil {
		return nil, err
	}
	d.batch[key] = m
	return m, nil
}

// Remember records m as part of the current batch.
func (d *DedupIndex) Remember(m *storage.Memory) {
	key := dedupKey{userID: m.UserID, memoryType: m.Type, normalized: m.NormalizedContent}
	d.batch[key] = m
}
