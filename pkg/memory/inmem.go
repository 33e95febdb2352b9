package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// InMemoryStore keeps turn history in process memory. It backs tests and
// ephemeral single-query runs.
type InMemoryStore struct {
	rooms []string

	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewInMemoryStore creates an empty store. rooms feeds fact derivation.
func NewInMemoryStore(rooms []string) *InMemoryStore {
	return &InMemoryStore{
		rooms: append([]string(nil), rooms...),
		turns: make(map[string][]Turn),
	}
}

// Append records one terminal turn.
func (s *InMemoryStore) Append(ctx context.Context, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(turn.SessionID) == "" {
		return errors.New("memory: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// Recent returns up to limit most recent turns in chronological order.
func (s *InMemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.turns[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]Turn(nil), history...), nil
}

// Facts derives the long-term facts from the full session history.
func (s *InMemoryStore) Facts(ctx context.Context, sessionID string) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	history := append([]Turn(nil), s.turns[sessionID]...)
	s.mu.RUnlock()
	return DeriveFacts(s.rooms, history), nil
}
