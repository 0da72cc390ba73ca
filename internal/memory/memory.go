// Package memory provides the per-conversation sliding-window store used
// as context for classification and generation calls.
//
// Conversations are independent: operations on different conversation ids
// never block one another, while appends within one conversation are
// serialized so concurrent voice and text messages cannot interleave.
package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// DefaultWindowSize is the bounded number of turns kept per conversation
// (5 user/assistant exchanges).
const DefaultWindowSize = 10

// Store keeps a bounded history of recent turns per conversation id.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	windowSize    int
}

type conversation struct {
	mu    sync.Mutex
	turns []models.Turn
}

// NewStore creates a memory store with the default window size.
func NewStore() *Store {
	return NewStoreWithWindow(DefaultWindowSize)
}

// NewStoreWithWindow creates a memory store with a custom window size.
// Sizes below 1 fall back to the default.
func NewStoreWithWindow(size int) *Store {
	if size < 1 {
		slog.Warn("memory.NewStoreWithWindow: invalid window size, using default", "size", size, "default", DefaultWindowSize)
		size = DefaultWindowSize
	}
	return &Store{
		conversations: make(map[string]*conversation),
		windowSize:    size,
	}
}

// Append records a turn for the conversation, evicting the oldest turn
// once the window is full.
func (s *Store) Append(conversationID string, role models.Role, text string) {
	c := s.conversation(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, models.Turn{Role: role, Text: text, Timestamp: time.Now()})
	if len(c.turns) > s.windowSize {
		// FIFO eviction: keep the most recent windowSize turns.
		c.turns = c.turns[len(c.turns)-s.windowSize:]
	}
	slog.Debug("memory.Append: turn recorded", "conversationID", conversationID, "role", role, "turns", len(c.turns))
}

// History returns the ordered turns for the conversation. A conversation
// with no prior turns yields a nil slice, not an error.
func (s *Store) History(conversationID string) []models.Turn {
	s.mu.RLock()
	c, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// conversation returns the bucket for the id, creating it on first use.
func (s *Store) conversation(id string) *conversation {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[id]; ok {
		return c
	}
	c = &conversation{}
	s.conversations[id] = c
	return c
}
