package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a closed store.
var ErrClosed = errors.New("memory store closed")

// LocalStore keeps turns in process, bounded per chat.
type LocalStore struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	maxTurns int
	closed   bool
}

// NewLocalStore creates an in-process store keeping at most maxTurns per chat.
func NewLocalStore(maxTurns int) *LocalStore {
	if maxTurns <= 0 {
		maxTurns = 200
	}
	return &LocalStore{turns: make(map[string][]Turn), maxTurns: maxTurns}
}

// Append adds a turn, dropping the oldest once the chat is full.
func (s *LocalStore) Append(_ context.Context, chatID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	turns := append(s.turns[chatID], turn)
	if over := len(turns) - s.maxTurns; over > 0 {
		turns = append([]Turn(nil), turns[over:]...)
	}
	s.turns[chatID] = turns
	return nil
}

// Turns returns a copy of the chat's turns, oldest first.
func (s *LocalStore) Turns(_ context.Context, chatID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]Turn(nil), s.turns[chatID]...), nil
}

// Close drops all turns.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.turns = nil
	return nil
}
