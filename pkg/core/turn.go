package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/intelligence"
	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// ProcessTurn runs one conversational turn for userID.
//
// The turn moves through CLASSIFY, RETRIEVE, EXCHANGE and COMMIT:
//  1. The input is classified into intent hints (never fails)
//  2. Relevant memories are retrieved and ranked for turnNumber
//  3. Exactly one exchange call returns the reply, extracted memories and
//     usage judgments for the retrieved candidates
//  4. New memories, reinforced confidences and usage updates are committed
//     in a single transaction
//
// Turn numbers must start at 1 and be strictly greater than the latest turn
// processed for the user, including turns that wrote no memories. Turns of the
// same user are serialized.
//
// On failure the returned result has State FAILED and an empty reply, and the
// error is a *TurnError whose kind matches one of the sentinel errors:
//
//	result, err := client.ProcessTurn(ctx, "user_001", 2, "What's my name?")
//	if errors.Is(err, core.ErrExchangeTimeout) {
//	    // nothing was written; the same turn can be retried
//	}
func (c *Client) ProcessTurn(ctx context.Context, userID string, turnNumber int, input string, opts ...TurnOption) (*TurnResult, error) {
	start := time.Now()
	options := applyTurnOptions(opts)

	requestID := options.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result := &TurnResult{
		RequestID:         requestID,
		UserID:            userID,
		TurnNumber:        turnNumber,
		IntentHints:       []MemoryType{},
		Retrieved:         []*Memory{},
		ExtractedMemories: []*Memory{},
		UsedMemoryIDs:     []int64{},
		State:             StateClassify,
	}
	logger := c.logger.With("request_id", requestID, "user_id", userID, "turn", turnNumber)

	fail := func(kind error, cause error) (*TurnResult, error) {
		terr := newTurnError(kind, result.State, cause)
		result.FailedIn = result.State
		result.State = StateFailed
		result.Reply = ""
		result.ErrorKind = kind
		result.Err = terr
		result.ProcessingTime = time.Since(start)
		c.turnsFailed.Add(1)

		logger.Info("turn failed",
			"state", result.State,
			"failed_in", result.FailedIn,
			"api_calls", result.APICalls,
			"elapsed", result.ProcessingTime,
			"error", terr,
		)
		return result, terr
	}

	if c.closed.Load() {
		return fail(ErrClosed, nil)
	}
	if strings.TrimSpace(userID) == "" {
		return fail(ErrInvalidInput, errors.New("user ID is empty"))
	}
	if turnNumber < 1 {
		return fail(ErrInvalidInput, fmt.Errorf("turn number %d is below 1", turnNumber))
	}

	release, err := c.locks.acquire(ctx, userID)
	if err != nil {
		return fail(ErrCanceled, err)
	}
	defer release()

	latest, err := c.store.LatestTurn(ctx, userID)
	if err != nil {
		return fail(ErrStorageRead, err)
	}
	if turnNumber <= latest {
		return fail(ErrTurnOrder, fmt.Errorf("turn %d is not after latest turn %d", turnNumber, latest))
	}

	// CLASSIFY
	classification := c.classifier.Explain(input)
	if len(classification.Types) > 0 {
		result.IntentHints = classification.Types
	}
	result.MatchedRules = classification.Rules
	logger.Debug("classified", "hints", result.IntentHints, "rules", result.MatchedRules)

	// RETRIEVE
	result.State = StateRetrieve
	candidates, err := c.relevance.Retrieve(ctx, userID, turnNumber, classification.Types, options.TopK)
	if err != nil {
		return fail(ErrStorageRead, err)
	}
	result.Retrieved = fromScoredMemories(candidates)
	logger.Debug("retrieved", "candidates", len(candidates))

	// EXCHANGE
	result.State = StateExchange
	req := c.adapter.BuildRequest(&exchange.TurnContext{
		RequestID:   requestID,
		UserID:      userID,
		TurnNumber:  turnNumber,
		InputText:   input,
		Candidates:  candidates,
		IntentHints: classification.Types,
	})

	result.APICalls = 1
	c.apiCalls.Add(1)
	raw, err := c.generate(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fail(ErrExchangeTimeout, err)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return fail(ErrCanceled, err)
		default:
			return fail(ErrExchangeTransport, err)
		}
	}

	parsed, err := c.adapter.ParseResponse(raw)
	if err != nil {
		return fail(ErrAdapterParse, err)
	}
	logger.Debug("exchanged",
		"drafts", len(parsed.Drafts),
		"judgments", len(parsed.Judgments),
		"skipped", parsed.Skipped,
		"legacy", parsed.Legacy,
	)

	// COMMIT
	result.State = StateCommit
	if err := c.commit(ctx, logger, userID, turnNumber, req, parsed, candidates, result); err != nil {
		return fail(ErrStorageCommit, err)
	}

	result.Reply = parsed.Reply
	result.Analysis = parsed.Analysis
	result.State = StateDone
	result.ProcessingTime = time.Since(start)
	c.turnsProcessed.Add(1)

	logger.Info("turn processed",
		"state", result.State,
		"api_calls", result.APICalls,
		"retrieved", len(result.Retrieved),
		"extracted", result.ExtractedCount,
		"used", len(result.UsedMemoryIDs),
		"elapsed", result.ProcessingTime,
	)
	return result, nil
}

type generateResult struct {
	raw *exchange.RawResponse
	err error
}

// generate makes the exchange call under the exchange timeout. The call runs
// in its own goroutine so a generator that ignores its context still cannot
// hold the turn past the deadline.
func (c *Client) generate(ctx context.Context, req *exchange.StructuredRequest) (*exchange.RawResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	done := make(chan generateResult, 1)
	go func() {
		raw, err := c.generator.Generate(callCtx, req)
		done <- generateResult{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.raw == nil {
			return nil, errors.New("generator returned no response")
		}
		return r.raw, nil
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// commit applies the parsed response in one transaction.
//
// Drafts that duplicate a memory of the same user and type (after
// normalization) reinforce that memory instead of creating a new one. Used
// judgments are honored only for candidates sent in req, once each. The turn
// is marked as processed even when nothing else is written.
func (c *Client) commit(ctx context.Context, logger *slog.Logger, userID string, turn int, req *exchange.StructuredRequest, parsed *exchange.ParsedResponse, candidates []intelligence.ScoredMemory, result *TurnResult) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	decay := c.relevance.DecayModel()
	index := intelligence.NewDedupIndex(tx)

	var extracted []*storage.Memory
	seen := make(map[int64]bool)

	for _, draft := range parsed.Drafts {
		normalized := intelligence.NormalizeContent(draft.Content)
		if normalized == "" {
			continue
		}

		existing, err := index.Find(ctx, userID, draft.Type, normalized)
		if err != nil {
			return err
		}

		if existing != nil {
			confidence := math.Min(1.0, math.Max(decay.Reinforce(existing.Confidence, c.reinforcementFactor), draft.Confidence))
			if confidence != existing.Confidence {
				if err := tx.UpdateMemoryConfidence(ctx, existing.ID, confidence); err != nil {
					return err
				}
				existing.Confidence = confidence
				existing.UpdatedAt = now
			}
			logger.Debug("reinforced memory", "memory_id", existing.ID, "confidence", confidence)
			if !seen[existing.ID] {
				seen[existing.ID] = true
				extracted = append(extracted, existing)
			}
			continue
		}

		memory := &storage.Memory{
			ID:                c.snowflakeNode.Generate().Int64(),
			UserID:            userID,
			Type:              draft.Type,
			Content:           draft.Content,
			NormalizedContent: normalized,
			Confidence:        draft.Confidence,
			CreatedTurn:       turn,
			LastUsedTurn:      turn,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if _, err := tx.InsertMemory(ctx, memory); err != nil {
			return err
		}
		index.Remember(memory)
		seen[memory.ID] = true
		extracted = append(extracted, memory)
		result.ExtractedCount++
	}

	scores := make(map[int64]float64, len(candidates))
	for _, cand := range candidates {
		scores[cand.Memory.ID] = cand.Score
	}
	offered := make(map[int64]bool, len(req.Candidates))
	for _, id := range req.CandidateIDs() {
		offered[id] = true
	}

	var used []int64
	marked := make(map[int64]bool)
	for _, j := range parsed.Judgments {
		if !j.Used || marked[j.MemoryID] {
			continue
		}
		if !offered[j.MemoryID] {
			logger.Debug("ignoring judgment for memory not offered this turn", "memory_id", j.MemoryID)
			continue
		}
		marked[j.MemoryID] = true

		if err := tx.UpdateMemoryUsage(ctx, j.MemoryID, turn); err != nil {
			return err
		}
		if err := tx.AppendUsageEvent(ctx, &storage.UsageEvent{
			ID:        uuid.NewString(),
			MemoryID:  j.MemoryID,
			UserID:    userID,
			Turn:      turn,
			Score:     scores[j.MemoryID],
			CreatedAt: now,
		}); err != nil {
			return err
		}
		used = append(used, j.MemoryID)
	}

	if err := tx.MarkTurn(ctx, userID, turn); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	result.ExtractedMemories = fromStorageMemories(extracted)
	if used != nil {
		result.UsedMemoryIDs = used
	}
	return nil
}
