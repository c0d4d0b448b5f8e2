package core

import (
	"context"
	"sync"
)

// AsyncClient provides asynchronous turn processing.
//
// It wraps the synchronous Client and runs each turn in its own goroutine.
// Results arrive on a channel; Wait blocks until every outstanding turn has
// finished. Per-user ordering still applies: two turns of the same user never
// run at the same time, but the order in which they acquire the user's lock
// is not defined, so callers that need ordered turns should wait for one
// result before sending the next.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.ProcessTurnAsync(ctx, "user_001", 1, "I prefer tea")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// AsyncTurnResult is delivered on the channel returned by ProcessTurnAsync.
type AsyncTurnResult struct {
	Result *TurnResult
	Error  error
}

// NewAsyncClient creates a new asynchronous turnmem client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// ProcessTurnAsync runs ProcessTurn in a separate goroutine.
//
// Returns a channel that receives exactly one result and is then closed.
func (ac *AsyncClient) ProcessTurnAsync(ctx context.Context, userID string, turnNumber int, input string, opts ...TurnOption) <-chan *AsyncTurnResult {
	resultChan := make(chan *AsyncTurnResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.ProcessTurn(ctx, userID, turnNumber, input, opts...)
		resultChan <- &AsyncTurnResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all outstanding asynchronous turns have completed.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for outstanding turns and closes the client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
