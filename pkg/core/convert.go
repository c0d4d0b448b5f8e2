package core

import (
	"github.com/oceanbase/turnmem-go/pkg/intelligence"
	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// fromStorageMemory converts a storage.Memory to core.Memory.
func fromStorageMemory(m *storage.Memory) *Memory {
	return &Memory{
		ID:           m.ID,
		UserID:       m.UserID,
		Type:         m.Type,
		Content:      m.Content,
		Confidence:   m.Confidence,
		CreatedTurn:  m.CreatedTurn,
		LastUsedTurn: m.LastUsedTurn,
		UsageCount:   m.UsageCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// fromStorageMemories converts a slice of storage.Memory to a slice of core.Memory.
func fromStorageMemories(memories []*storage.Memory) []*Memory {
	result := make([]*Memory, len(memories))
	for i, m := range memories {
		result[i] = fromStorageMemory(m)
	}
	return result
}

// fromScoredMemories converts ranked candidates, keeping their scores.
func fromScoredMemories(scored []intelligence.ScoredMemory) []*Memory {
	result := make([]*Memory, len(scored))
	for i, s := range scored {
		result[i] = fromStorageMemory(s.Memory)
		result[i].Score = s.Score
	}
	return result
}

// fromStorageUsageEvents converts usage events.
func fromStorageUsageEvents(events []*storage.UsageEvent) []*UsageEvent {
	result := make([]*UsageEvent, len(events))
	for i, e := range events {
		result[i] = &UsageEvent{
			ID:        e.ID,
			MemoryID:  e.MemoryID,
			UserID:    e.UserID,
			Turn:      e.Turn,
			Score:     e.Score,
			CreatedAt: e.CreatedAt,
		}
	}
	return result
}
