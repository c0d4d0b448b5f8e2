package core

import (
	"context"
	"errors"
	"math"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// GetMemorySummary aggregates the memories of userID.
//
// The summary holds a count per memory type (every type is present, possibly
// zero), the total, the average confidence rounded to 3 decimal places, the
// number of memories used at least once and the resulting utilization rate in
// percent, how many memories score below the retrieval cutoff at the user's
// latest turn, and how soon the next one will.
//
// Example:
//
//	summary, _ := client.GetMemorySummary(ctx, "user_001")
//	fmt.Printf("%d memories, %.1f%% used\n", summary.Total, summary.UtilizationRate)
func (c *Client) GetMemorySummary(ctx context.Context, userID string) (*MemorySummary, error) {
	if userID == "" {
		return nil, NewMemoryError("GetMemorySummary", ErrInvalidInput)
	}

	memories, err := c.store.GetMemories(ctx, userID, nil)
	if err != nil {
		return nil, NewMemoryError("GetMemorySummary", errors.Join(ErrStorageRead, err))
	}
	latest, err := c.store.LatestTurn(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("GetMemorySummary", errors.Join(ErrStorageRead, err))
	}

	summary := &MemorySummary{
		UserID:     userID,
		Counts:     make(map[MemoryType]int),
		LatestTurn: latest,
	}
	for _, t := range storage.AllMemoryTypes() {
		summary.Counts[t] = 0
	}

	decay := c.relevance.DecayModel()
	var confidenceSum float64
	for _, m := range memories {
		summary.Counts[m.Type]++
		summary.Total++
		confidenceSum += m.Confidence
		if m.UsageCount > 0 {
			summary.RecentlyUsed++
		}
		if decay.Dormant(m, latest) {
			summary.Dormant++
			continue
		}
		remaining := decay.TurnsUntilForgotten(m.Confidence) - max(0, latest-m.LastUsedTurn)
		if summary.NextDormantIn == 0 || remaining < summary.NextDormantIn {
			summary.NextDormantIn = remaining
		}
	}

	if summary.Total > 0 {
		summary.AverageConfidence = math.Round(confidenceSum/float64(summary.Total)*1000) / 1000
		summary.UtilizationRate = math.Round(float64(summary.RecentlyUsed)/float64(summary.Total)*1000) / 10
	}
	return summary, nil
}

// GetUsageHistory returns the usage events of userID in the order they were
// recorded. A zero memoryID returns events for all of the user's memories.
func (c *Client) GetUsageHistory(ctx context.Context, userID string, memoryID int64) ([]*UsageEvent, error) {
	if userID == "" {
		return nil, NewMemoryError("GetUsageHistory", ErrInvalidInput)
	}

	events, err := c.store.GetUsageEvents(ctx, userID, memoryID)
	if err != nil {
		return nil, NewMemoryError("GetUsageHistory", errors.Join(ErrStorageRead, err))
	}
	return fromStorageUsageEvents(events), nil
}
