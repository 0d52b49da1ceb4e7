package service

import (
	"context"
	"sync"
)

// chatLocks hands out turns on a chat in reservation order. Each turn waits
// for the one reserved before it; a chat's entry is dropped once its last
// turn is released.
type chatLocks struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// turn is one reserved slot in a chat's queue.
type turn struct {
	locks  *chatLocks
	chatID string
	prev   <-chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newChatLocks() *chatLocks {
	return &chatLocks{tails: make(map[string]chan struct{})}
}

// Reserve queues a turn on chatID behind every earlier reservation.
func (l *chatLocks) Reserve(chatID string) *turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserve(chatID)
}

// TryReserve reserves a turn only if chatID has no turn pending.
func (l *chatLocks) TryReserve(chatID string) (*turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.tails[chatID]; busy {
		return nil, false
	}
	return l.reserve(chatID), true
}

func (l *chatLocks) reserve(chatID string) *turn {
	t := &turn{
		locks:  l,
		chatID: chatID,
		prev:   l.tails[chatID],
		done:   make(chan struct{}),
	}
	l.tails[chatID] = t.done
	return t
}

func (l *chatLocks) finish(t *turn) {
	l.mu.Lock()
	if l.tails[t.chatID] == t.done {
		delete(l.tails, t.chatID)
	}
	l.mu.Unlock()
	close(t.done)
}

// Len returns the number of chats with pending turns.
func (l *chatLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}

// Wait blocks until every earlier turn on the chat is released.
func (t *turn) Wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release ends the turn. A turn released before its predecessor still
// hands over only after the predecessor is done.
func (t *turn) Release() {
	t.once.Do(func() {
		if t.prev == nil {
			t.locks.finish(t)
			return
		}
		select {
		case <-t.prev:
			t.locks.finish(t)
		default:
			go func() {
				<-t.prev
				t.locks.finish(t)
			}()
		}
	})
}
