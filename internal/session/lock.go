package session

import (
	"sync"

	"github.com/guzmanclinic/anabot/internal/events"
)

// KeyedLock serializes turn processing per (channel, user_key). Two webhook
// deliveries for the same user must not interleave their load→step→commit
// sequences; deliveries for different users proceed concurrently.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*entry)}
}

// Acquire blocks until the key's critical section is free and returns the
// release function.
func (l *KeyedLock) Acquire(ch events.Channel, userKey string) func() {
	key := string(ch) + ":" + userKey

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
