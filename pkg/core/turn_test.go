package core_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/core"
	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/storage"
	"github.com/oceanbase/turnmem-go/pkg/storage/inmemory"
)

func TestProcessTurn_RemembersAcrossTurns(t *testing.T) {
	ctx := context.Background()

	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		switch req.TurnNumber {
		case 1:
			return response(t, "Nice to meet you, Alice!", []draft{
				{Type: "fact", Content: "Name is Alice", Confidence: 0.95},
				{Type: "fact", Content: "Lives in New York", Confidence: 0.9},
			}, nil), nil
		default:
			return response(t, "Your name is Alice.", nil, []judgment{
				{MemoryID: candidateID(req, "Name is Alice"), Used: true},
				{MemoryID: candidateID(req, "Lives in New York"), Used: false},
			}), nil
		}
	}
	client := newTestClient(t, gen, nil)

	first, err := client.ProcessTurn(ctx, "alice", 1, "My name is Alice and I live in New York.")
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, first.State)
	assert.True(t, first.Succeeded())
	assert.Equal(t, "Nice to meet you, Alice!", first.Reply)
	assert.Equal(t, []core.MemoryType{core.TypeFact}, first.IntentHints)
	assert.Empty(t, first.Retrieved)
	assert.Equal(t, 2, first.ExtractedCount)
	assert.Equal(t, 1, first.APICalls)
	require.Len(t, first.ExtractedMemories, 2)
	for _, m := range first.ExtractedMemories {
		assert.Equal(t, 1, m.CreatedTurn)
		assert.Equal(t, 1, m.LastUsedTurn)
		assert.Zero(t, m.UsageCount)
	}

	second, err := client.ProcessTurn(ctx, "alice", 2, "What's my name?")
	require.NoError(t, err)
	assert.Equal(t, "Your name is Alice.", second.Reply)
	assert.Equal(t, 1, second.APICalls)
	assert.Zero(t, second.ExtractedCount)

	req := gen.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, []string{"fact"}, req.IntentHints)
	require.Len(t, req.Candidates, 2)
	assert.Equal(t, "Name is Alice", req.Candidates[0].Content)
	assert.InDelta(t, 0.9037, req.Candidates[0].Score, 1e-4)

	require.Len(t, second.Retrieved, 2)
	aliceID := second.Retrieved[0].ID
	assert.Equal(t, []int64{aliceID}, second.UsedMemoryIDs)

	memories, err := client.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	for _, m := range memories {
		if m.ID == aliceID {
			assert.Equal(t, 2, m.LastUsedTurn)
			assert.Equal(t, 1, m.UsageCount)
		} else {
			assert.Equal(t, 1, m.LastUsedTurn)
			assert.Zero(t, m.UsageCount)
		}
	}

	history, err := client.GetUsageHistory(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, aliceID, history[0].MemoryID)
	assert.Equal(t, 2, history[0].Turn)
	assert.InDelta(t, 0.9037, history[0].Score, 1e-3)

	stats := client.Stats()
	assert.Equal(t, int64(2), stats.APICalls)
	assert.Equal(t, int64(2), stats.TurnsProcessed)
	assert.Zero(t, stats.TurnsFailed)
}

func TestProcessTurn_DuplicateReinforces(t *testing.T) {
	ctx := context.Background()

	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.TurnNumber == 1 {
			return response(t, "Noted.", []draft{
				{Type: "preference", Content: "Prefers green tea", Confidence: 0.8},
				{Type: "preference", Content: "prefers  GREEN tea.", Confidence: 0.5},
			}, nil), nil
		}
		return response(t, "Still noted.", []draft{
			{Type: "preference", Content: "Prefers green tea!", Confidence: 0.5},
		}, nil), nil
	}
	client := newTestClient(t, gen, nil)

	first, err := client.ProcessTurn(ctx, "u1", 1, "I prefer green tea")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ExtractedCount)
	require.Len(t, first.ExtractedMemories, 1)
	// 0.8 + 0.3 * (1 - 0.8)
	assert.InDelta(t, 0.86, first.ExtractedMemories[0].Confidence, 1e-9)

	second, err := client.ProcessTurn(ctx, "u1", 2, "Did I mention I prefer green tea?")
	require.NoError(t, err)
	assert.Zero(t, second.ExtractedCount)
	require.Len(t, second.ExtractedMemories, 1)
	assert.InDelta(t, 0.902, second.ExtractedMemories[0].Confidence, 1e-9)

	memories, err := client.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "Prefers green tea", memories[0].Content)
	assert.InDelta(t, 0.902, memories[0].Confidence, 1e-9)
	assert.Equal(t, 1, memories[0].LastUsedTurn)
}

func TestProcessTurn_SameContentDifferentTypeIsKept(t *testing.T) {
	gen := staticReply(`{"reply": "ok", "memories": [
		{"type": "fact", "content": "Vegetarian", "confidence": 0.9},
		{"type": "constraint", "content": "Vegetarian", "confidence": 0.9}
	]}`)
	client := newTestClient(t, gen, nil)

	result, err := client.ProcessTurn(context.Background(), "u1", 1, "I'm vegetarian")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExtractedCount)
}

func TestProcessTurn_IgnoresJudgmentsForUnofferedMemories(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.TurnNumber == 1 {
			return response(t, "ok", []draft{{Type: "fact", Content: "Works at Acme"}}, nil), nil
		}
		// The stored memory is not a candidate for a preference-only input.
		return response(t, "ok", nil, []judgment{{MemoryID: "12345", Used: true}}), nil
	}
	client := newTestClient(t, gen, store)

	_, err := client.ProcessTurn(ctx, "u1", 1, "I work at Acme")
	require.NoError(t, err)

	result, err := client.ProcessTurn(ctx, "u1", 2, "I like jazz")
	require.NoError(t, err)
	assert.Empty(t, result.Retrieved)
	assert.Empty(t, result.UsedMemoryIDs)

	events, err := store.GetUsageEvents(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessTurn_UsedJudgmentCountedOnce(t *testing.T) {
	ctx := context.Background()

	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.TurnNumber == 1 {
			return response(t, "ok", []draft{{Type: "fact", Content: "Name is Bob"}}, nil), nil
		}
		id := candidateID(req, "Name is Bob")
		return response(t, "Bob.", nil, []judgment{{MemoryID: id, Used: true}, {MemoryID: id, Used: true}}), nil
	}
	client := newTestClient(t, gen, nil)

	_, err := client.ProcessTurn(ctx, "bob", 1, "My name is Bob")
	require.NoError(t, err)
	result, err := client.ProcessTurn(ctx, "bob", 5, "What's my name?")
	require.NoError(t, err)
	require.Len(t, result.UsedMemoryIDs, 1)

	memories, err := client.GetAll(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, 1, memories[0].UsageCount)
	assert.Equal(t, 5, memories[0].LastUsedTurn)
}

func TestProcessTurn_InvalidInput(t *testing.T) {
	gen := staticReply(`{"reply": "hi"}`)
	client := newTestClient(t, gen, nil)

	tests := []struct {
		name   string
		userID string
		turn   int
	}{
		{name: "empty user", userID: "", turn: 1},
		{name: "blank user", userID: "   ", turn: 1},
		{name: "zero turn", userID: "u1", turn: 0},
		{name: "negative turn", userID: "u1", turn: -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.ProcessTurn(context.Background(), tt.userID, tt.turn, "hello")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
			assert.Equal(t, core.StateFailed, result.State)
			assert.Zero(t, result.APICalls)
			assert.Empty(t, result.Reply)
		})
	}
	assert.Zero(t, gen.calls())
	assert.Equal(t, int64(len(tests)), client.Stats().TurnsFailed)
}

func TestProcessTurn_TurnOrder(t *testing.T) {
	ctx := context.Background()
	gen := staticReply(`{"reply": "ok", "memories": [{"type": "fact", "content": "Has a cat"}]}`)
	client := newTestClient(t, gen, nil)

	_, err := client.ProcessTurn(ctx, "u1", 3, "I have a cat")
	require.NoError(t, err)

	for _, turn := range []int{1, 3} {
		result, err := client.ProcessTurn(ctx, "u1", turn, "again")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrTurnOrder)
		assert.Zero(t, result.APICalls)
	}
	assert.Equal(t, 1, gen.calls())

	// Other users are numbered independently.
	_, err = client.ProcessTurn(ctx, "u2", 1, "hello")
	require.NoError(t, err)
}

func TestProcessTurn_TurnOrderCountsReplyOnlyTurns(t *testing.T) {
	ctx := context.Background()
	gen := staticReply(`{"reply": "ok"}`)
	client := newTestClient(t, gen, nil)

	result, err := client.ProcessTurn(ctx, "u1", 5, "hello")
	require.NoError(t, err)
	assert.Zero(t, result.ExtractedCount)
	assert.Empty(t, result.UsedMemoryIDs)

	for _, turn := range []int{5, 2} {
		_, err := client.ProcessTurn(ctx, "u1", turn, "hello again")
		assert.ErrorIs(t, err, core.ErrTurnOrder, "turn %d", turn)
	}
	assert.Equal(t, 1, gen.calls())

	_, err = client.ProcessTurn(ctx, "u1", 6, "hello again")
	require.NoError(t, err)

	session, err := client.NewSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, session.Turn())
}

func TestProcessTurn_CallerCancelDuringExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := inmemory.NewStore()

	gen := &fakeGenerator{respond: func(callCtx context.Context, _ *exchange.StructuredRequest) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", callCtx.Err()
	}}
	client := newTestClient(t, gen, store)

	result, err := client.ProcessTurn(ctx, "u1", 1, "My name is Alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCanceled)
	assert.NotErrorIs(t, err, core.ErrExchangeTimeout)
	assert.Equal(t, core.StateExchange, result.FailedIn)
	assert.Equal(t, 1, result.APICalls)

	latest, err := store.LatestTurn(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestProcessTurn_ExchangeTimeout(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	gen := &fakeGenerator{respond: func(ctx context.Context, _ *exchange.StructuredRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	client := newTestClient(t, gen, store, core.WithExchangeTimeout(50*time.Millisecond))

	result, err := client.ProcessTurn(ctx, "u1", 1, "My name is Alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExchangeTimeout)
	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, core.StateExchange, result.FailedIn)
	assert.Equal(t, core.ErrExchangeTimeout, result.ErrorKind)
	assert.Equal(t, 1, result.APICalls)

	var turnErr *core.TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, core.StateExchange, turnErr.State)

	memories, err := store.GetMemories(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestProcessTurn_GeneratorIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gen := &fakeGenerator{respond: func(context.Context, *exchange.StructuredRequest) (string, error) {
		<-release
		return `{"reply": "too late"}`, nil
	}}
	client := newTestClient(t, gen, nil, core.WithExchangeTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := client.ProcessTurn(context.Background(), "u1", 1, "hello")
	assert.ErrorIs(t, err, core.ErrExchangeTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcessTurn_ExchangeTransportFailure(t *testing.T) {
	errRefused := errors.New("connection refused")
	gen := &fakeGenerator{respond: func(context.Context, *exchange.StructuredRequest) (string, error) {
		return "", errRefused
	}}
	client := newTestClient(t, gen, nil)

	result, err := client.ProcessTurn(context.Background(), "u1", 1, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExchangeTransport)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 1, result.APICalls)
	assert.Equal(t, int64(1), client.Stats().APICalls)
}

func TestProcessTurn_UnparsableResponse(t *testing.T) {
	for _, text := range []string{"", "   ", `{"reply": 42}`, `{"memories": []`} {
		t.Run(strconv.Quote(text), func(t *testing.T) {
			store := inmemory.NewStore()
			client := newTestClient(t, staticReply(text), store)

			result, err := client.ProcessTurn(context.Background(), "u1", 1, "hello")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrAdapterParse)
			assert.Equal(t, core.StateExchange, result.FailedIn)

			latest, err := store.LatestTurn(context.Background(), "u1")
			require.NoError(t, err)
			assert.Zero(t, latest)
		})
	}
}

func TestProcessTurn_PlainTextReply(t *testing.T) {
	client := newTestClient(t, staticReply("Hello there!"), nil)

	result, err := client.ProcessTurn(context.Background(), "u1", 1, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", result.Reply)
	assert.Zero(t, result.ExtractedCount)
}

func TestProcessTurn_StorageReadFailure(t *testing.T) {
	store := &failingStore{Store: inmemory.NewStore()}
	store.failReads.Store(true)
	gen := staticReply(`{"reply": "hi"}`)
	client := newTestClient(t, gen, store)

	result, err := client.ProcessTurn(context.Background(), "u1", 1, "What's my name?")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorageRead)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, core.StateRetrieve, result.FailedIn)
	assert.Zero(t, result.APICalls)
	assert.Zero(t, gen.calls())
}

func TestProcessTurn_CommitIsAtomic(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := &failingStore{Store: newStore(t)}

			gen := &fakeGenerator{}
			gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
				if req.TurnNumber == 1 {
					return response(t, "Hi Alice", []draft{{Type: "fact", Content: "Name is Alice"}}, nil), nil
				}
				return response(t, "Tea it is, Alice.",
					[]draft{
						{Type: "fact", Content: "Name is Alice"},
						{Type: "preference", Content: "Likes tea"},
					},
					[]judgment{{MemoryID: candidateID(req, "Name is Alice"), Used: true}},
				), nil
			}
			client := newTestClient(t, gen, store)

			_, err := client.ProcessTurn(ctx, "alice", 1, "My name is Alice")
			require.NoError(t, err)
			before := snapshot(t, store, "alice")
			require.Len(t, before.Memories, 1)

			for _, op := range []string{
				"Begin",
				"FindByContent",
				"UpdateMemoryConfidence",
				"InsertMemory",
				"UpdateMemoryUsage",
				"AppendUsageEvent",
				"MarkTurn",
				"Commit",
			} {
				t.Run(op, func(t *testing.T) {
					store.setFailOn(op)

					result, err := client.ProcessTurn(ctx, "alice", 2, "I like tea, what's my name?")
					require.Error(t, err)
					assert.ErrorIs(t, err, core.ErrStorageCommit)
					assert.ErrorIs(t, err, errInjected)
					assert.Equal(t, core.StateCommit, result.FailedIn)
					assert.Empty(t, result.Reply)
					assert.Equal(t, 1, result.APICalls)

					assert.Equal(t, before, snapshot(t, store, "alice"))
				})
			}

			store.setFailOn("")
			result, err := client.ProcessTurn(ctx, "alice", 2, "I like tea, what's my name?")
			require.NoError(t, err)
			assert.Equal(t, 1, result.ExtractedCount)
			assert.Len(t, result.UsedMemoryIDs, 1)

			after := snapshot(t, store, "alice")
			require.Len(t, after.Memories, 2)
			assert.InDelta(t, 0.93, after.Memories[0].Confidence, 1e-9)
			assert.Equal(t, 2, after.Memories[0].LastUsedTurn)
			assert.Equal(t, 1, after.Memories[0].UsageCount)
			assert.Len(t, after.Events, 1)
			assert.Equal(t, 2, after.Latest)
		})
	}
}

func TestProcessTurn_CrossTypeRecall(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.TurnNumber == 1 {
			return response(t, "ok", []draft{{Type: "fact", Content: "Works at Acme", Confidence: 0.8}}, nil), nil
		}
		return response(t, "ok", nil, nil), nil
	}

	cfg := testConfig()
	cfg.Engine.CrossTypeRecall = true
	client, err := core.NewClient(cfg,
		core.WithGenerator(gen),
		core.WithStore(store),
		core.WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ProcessTurn(ctx, "u1", 1, "I work at Acme")
	require.NoError(t, err)

	result, err := client.ProcessTurn(ctx, "u1", 2, "I like jazz")
	require.NoError(t, err)
	require.Len(t, result.Retrieved, 1)
	// 0.5 × 0.8 × e^(-1/20)
	assert.InDelta(t, 0.3805, result.Retrieved[0].Score, 1e-4)
}

func TestProcessTurn_TopKOption(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	gen.respond = func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.TurnNumber == 1 {
			return response(t, "ok", []draft{
				{Type: "fact", Content: "Name is Carol"},
				{Type: "fact", Content: "Lives in Oslo"},
				{Type: "fact", Content: "Works as a nurse"},
			}, nil), nil
		}
		return response(t, "ok", nil, nil), nil
	}
	client := newTestClient(t, gen, nil)

	_, err := client.ProcessTurn(ctx, "carol", 1, "My name is Carol, I live in Oslo and I work as a nurse")
	require.NoError(t, err)

	result, err := client.ProcessTurn(ctx, "carol", 2, "Where do I live?", core.WithTopK(2), core.WithRequestID("req-42"))
	require.NoError(t, err)
	assert.Len(t, result.Retrieved, 2)
	assert.Equal(t, "req-42", result.RequestID)
	assert.Equal(t, "req-42", gen.lastRequest().RequestID)
}

func TestProcessTurn_SerializesPerUser(t *testing.T) {
	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
	)
	gen := &fakeGenerator{respond: func(context.Context, *exchange.StructuredRequest) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return `{"reply": "ok"}`, nil
	}}
	client := newTestClient(t, gen, nil)

	// Each writer claims the next turn; a writer that loses the race for a
	// number sees ErrTurnOrder and tries the following one.
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				session, err := client.NewSession(context.Background(), "same-user")
				if err != nil {
					errs[i] = err
					return
				}
				_, err = session.Send(context.Background(), "hello")
				if errors.Is(err, core.ErrTurnOrder) {
					continue
				}
				errs[i] = err
				return
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 5, gen.calls())

	latest, err := client.NewSession(context.Background(), "same-user")
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Turn())
}

func TestProcessTurn_UsersRunInParallel(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	gen := &fakeGenerator{respond: func(_ context.Context, req *exchange.StructuredRequest) (string, error) {
		if req.UserID == "slow" {
			close(entered)
			<-release
		}
		return `{"reply": "ok"}`, nil
	}}
	client := newTestClient(t, gen, nil)

	slowDone := make(chan error, 1)
	go func() {
		_, err := client.ProcessTurn(context.Background(), "slow", 1, "hello")
		slowDone <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.ProcessTurn(ctx, "fast", 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Reply)

	select {
	case err := <-slowDone:
		t.Fatalf("slow turn finished early: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-slowDone)
}

func TestProcessTurn_WaitingForUserLockHonorsContext(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	gen := &fakeGenerator{respond: func(context.Context, *exchange.StructuredRequest) (string, error) {
		select {
		case <-entered:
		default:
			close(entered)
		}
		<-release
		return `{"reply": "ok"}`, nil
	}}
	client := newTestClient(t, gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := client.ProcessTurn(context.Background(), "u1", 1, "hello")
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := client.ProcessTurn(ctx, "u1", 2, "hello again")
	assert.ErrorIs(t, err, core.ErrCanceled)
	assert.Zero(t, result.APICalls)

	close(release)
	require.NoError(t, <-done)
}

func TestProcessTurn_AfterClose(t *testing.T) {
	client, err := core.NewClient(testConfig(),
		core.WithGenerator(staticReply(`{"reply": "ok"}`)),
		core.WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.ProcessTurn(context.Background(), "u1", 1, "hello")
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestProcessTurn_DeleteAll(t *testing.T) {
	ctx := context.Background()
	gen := staticReply(`{"reply": "ok", "memories": [{"type": "fact", "content": "Has a dog"}]}`)
	client := newTestClient(t, gen, nil)

	_, err := client.ProcessTurn(ctx, "u1", 1, "I have a dog")
	require.NoError(t, err)
	require.NoError(t, client.DeleteAll(ctx, "u1"))

	memories, err := client.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, memories)

	// Turn numbering restarts once nothing is recorded.
	_, err = client.ProcessTurn(ctx, "u1", 1, "I have a dog")
	require.NoError(t, err)
}

func TestProcessTurn_StoredTypesAreValid(t *testing.T) {
	gen := staticReply(`{"reply": "ok", "memories": [
		{"type": "mood", "content": "Happy"},
		{"type": "Commitment", "content": "Will call mom on Sunday"}
	]}`)
	client := newTestClient(t, gen, nil)

	result, err := client.ProcessTurn(context.Background(), "u1", 1, "I'll call mom on Sunday")
	require.NoError(t, err)
	require.Len(t, result.ExtractedMemories, 1)
	assert.Equal(t, storage.TypeCommitment, result.ExtractedMemories[0].Type)
}
