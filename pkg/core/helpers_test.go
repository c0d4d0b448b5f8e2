package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/core"
	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/storage"
	"github.com/oceanbase/turnmem-go/pkg/storage/inmemory"
	sqliteStore "github.com/oceanbase/turnmem-go/pkg/storage/sqlite"
)

// fakeGenerator answers exchange requests with respond and records them.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []*exchange.StructuredRequest
	respond  func(ctx context.Context, req *exchange.StructuredRequest) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req *exchange.StructuredRequest) (*exchange.RawResponse, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	text, err := g.respond(ctx, req)
	if err != nil {
		return nil, err
	}
	return &exchange.RawResponse{Text: text}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGenerator) lastRequest() *exchange.StructuredRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

// staticReply always answers with text.
func staticReply(text string) *fakeGenerator {
	return &fakeGenerator{respond: func(context.Context, *exchange.StructuredRequest) (string, error) {
		return text, nil
	}}
}

type draft struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence,omitempty"`
}

type judgment struct {
	MemoryID string `json:"memory_id"`
	Used     bool   `json:"used"`
}

// response renders a well-formed exchange answer.
func response(t *testing.T, reply string, memories []draft, judgments []judgment) string {
	t.Helper()
	if memories == nil {
		memories = []draft{}
	}
	if judgments == nil {
		judgments = []judgment{}
	}
	data, err := json.Marshal(map[string]interface{}{
		"reply":     reply,
		"memories":  memories,
		"judgments": judgments,
	})
	require.NoError(t, err)
	return string(data)
}

// candidateID returns the ID of the candidate with the given content.
func candidateID(req *exchange.StructuredRequest, content string) string {
	for _, c := range req.Candidates {
		if c.Content == content {
			return c.ID
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.LLM.Provider = ""
	return cfg
}

func newTestClient(t *testing.T, gen exchange.Generator, store storage.Store, opts ...core.ClientOption) *core.Client {
	t.Helper()
	if store == nil {
		store = inmemory.NewStore()
	}
	opts = append([]core.ClientOption{
		core.WithGenerator(gen),
		core.WithStore(store),
		core.WithLogger(discardLogger()),
	}, opts...)

	client, err := core.NewClient(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

var errInjected = errors.New("injected failure")

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	storage.Store

	failReads atomic.Bool

	mu     sync.Mutex
	failOn string
}

func (s *failingStore) setFailOn(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = op
}

func (s *failingStore) op() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn
}

func (s *failingStore) GetMemories(ctx context.Context, userID string, types []storage.MemoryType) ([]*storage.Memory, error) {
	if s.failReads.Load() {
		return nil, errInjected
	}
	return s.Store.GetMemories(ctx, userID, types)
}

func (s *failingStore) Begin(ctx context.Context) (storage.Tx, error) {
	if s.op() == "Begin" {
		return nil, errInjected
	}
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, failOn: s.op()}, nil
}

type failingTx struct {
	storage.Tx
	failOn string
}

func (t *failingTx) FindByContent(ctx context.Context, userID string, memoryType storage.MemoryType, normalized string) (*storage.Memory, error) {
	if t.failOn == "FindByContent" {
		return nil, errInjected
	}
	return t.Tx.FindByContent(ctx, userID, memoryType, normalized)
}

func (t *failingTx) InsertMemory(ctx context.Context, memory *storage.Memory) (int64, error) {
	if t.failOn == "InsertMemory" {
		return 0, errInjected
	}
	return t.Tx.InsertMemory(ctx, memory)
}

func (t *failingTx) UpdateMemoryConfidence(ctx context.Context, id int64, confidence float64) error {
	if t.failOn == "UpdateMemoryConfidence" {
		return errInjected
	}
	return t.Tx.UpdateMemoryConfidence(ctx, id, confidence)
}

func (t *failingTx) UpdateMemoryUsage(ctx context.Context, id int64, turn int) error {
	if t.failOn == "UpdateMemoryUsage" {
		return errInjected
	}
	return t.Tx.UpdateMemoryUsage(ctx, id, turn)
}

func (t *failingTx) AppendUsageEvent(ctx context.Context, event *storage.UsageEvent) error {
	if t.failOn == "AppendUsageEvent" {
		return errInjected
	}
	return t.Tx.AppendUsageEvent(ctx, event)
}

func (t *failingTx) MarkTurn(ctx context.Context, userID string, turn int) error {
	if t.failOn == "MarkTurn" {
		return errInjected
	}
	return t.Tx.MarkTurn(ctx, userID, turn)
}

func (t *failingTx) Commit() error {
	if t.failOn == "Commit" {
		_ = t.Tx.Rollback()
		return errInjected
	}
	return t.Tx.Commit()
}

// storeSnapshot captures everything a turn may write for one user.
type storeSnapshot struct {
	Memories []*storage.Memory
	Events   []*storage.UsageEvent
	Latest   int
}

func snapshot(t *testing.T, store storage.Store, userID string) storeSnapshot {
	t.Helper()
	ctx := context.Background()

	memories, err := store.GetMemories(ctx, userID, nil)
	require.NoError(t, err)
	events, err := store.GetUsageEvents(ctx, userID, 0)
	require.NoError(t, err)
	latest, err := store.LatestTurn(ctx, userID)
	require.NoError(t, err)
	return storeSnapshot{Memories: memories, Events: events, Latest: latest}
}

// backends returns a fresh store per backend the orchestrator is tested on.
func backends() map[string]func(t *testing.T) storage.Store {
	return map[string]func(t *testing.T) storage.Store{
		"inmemory": func(t *testing.T) storage.Store {
			return inmemory.NewStore()
		},
		"sqlite": func(t *testing.T) storage.Store {
			store, err := sqliteStore.NewClient(&sqliteStore.Config{
				DBPath: filepath.Join(t.TempDir(), "turnmem.db"),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}
