package core

import (
	"context"
	"errors"
	"math"

	"github.com/oceanbase/turnmem-go/pkg/intelligence"
)

// maxSearchResults caps SearchMemories results.
const maxSearchResults = 5

// SearchMemories finds userID's memories by keywords in query, without an
// exchange call or a turn.
//
// Memories scoring below threshold are dropped; a threshold of zero uses
// intelligence.DefaultSearchThreshold. Results carry their lexical Score, best
// first, and at most five are returned. Search never changes usage metadata.
func (c *Client) SearchMemories(ctx context.Context, userID, query string, threshold float64) ([]*Memory, error) {
	if userID == "" {
		return nil, NewMemoryError("SearchMemories", ErrInvalidInput)
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, NewMemoryError("SearchMemories", ErrInvalidInput)
	}
	if threshold == 0 {
		threshold = intelligence.DefaultSearchThreshold
	}

	memories, err := c.store.GetMemories(ctx, userID, nil)
	if err != nil {
		return nil, NewMemoryError("SearchMemories", errors.Join(ErrStorageRead, err))
	}

	hits := intelligence.Search(memories, query, threshold)
	if len(hits) > maxSearchResults {
		hits = hits[:maxSearchResults]
	}
	result := make([]*Memory, len(hits))
	for i, h := range hits {
		result[i] = fromStorageMemory(h.Memory)
		result[i].Score = h.Score
	}
	return result, nil
}
