package core

import (
	"context"
	"errors"
	"sync"
)

// Session is a caller-owned handle that numbers the turns of one user.
//
// NewSession seeds the counter from the user's latest recorded turn and Send
// processes the next turn, advancing the counter only when the turn succeeds,
// so a failed turn can be retried with the same number.
//
// Example:
//
//	session, _ := client.NewSession(ctx, "user_001")
//	result, err := session.Send(ctx, "My name is Alice")
type Session struct {
	client *Client
	userID string

	mu   sync.Mutex
	turn int
}

// NewSession creates a session for userID.
func (c *Client) NewSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, NewMemoryError("NewSession", ErrInvalidInput)
	}
	latest, err := c.store.LatestTurn(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("NewSession", errors.Join(ErrStorageRead, err))
	}
	return &Session{client: c, userID: userID, turn: latest}, nil
}

// Send processes input as the session's next turn.
func (s *Session) Send(ctx context.Context, input string, opts ...TurnOption) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.client.ProcessTurn(ctx, s.userID, s.turn+1, input, opts...)
	if err != nil {
		return result, err
	}
	s.turn++
	return result, nil
}

// Turn returns the number of the last successful turn.
func (s *Session) Turn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}
