package core

import (
	"context"
	"sync"
)

// userLocks serializes work per user. Entries are reference counted and
// removed when no goroutine holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	// sem has capacity 1; holding the lock means having sent to it.
	sem  chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// acquire blocks until the user's lock is held or ctx is done.
// The returned function releases the lock.
func (l *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.sem
			l.unref(userID, ul)
		})
	}, nil
}

func (l *userLocks) unref(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

// size returns the number of users with a held or awaited lock.
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
