package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// InMemoryStore is a simple in-memory store used in tests. Query results
// are stubbed per statement; reminders honor the same conditional
// mark-sent semantics as the SQL backends.
type InMemoryStore struct {
	mu sync.Mutex

	// QueryResults maps a statement to its canned result.
	QueryResults map[string]*models.QueryResult
	// QueryErr, when set, fails every ExecuteQuery call.
	QueryErr error
	// SchemaColumns is returned by Schema.
	SchemaColumns []models.TableColumn

	reminders map[int64]*models.Reminder
	nextID    int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		QueryResults: make(map[string]*models.QueryResult),
		reminders:    make(map[int64]*models.Reminder),
		nextID:       1,
	}
}

// ExecuteQuery returns the canned result for the statement.
func (s *InMemoryStore) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if result, ok := s.QueryResults[query]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no result stubbed for query %q", query)
}

// Schema returns the configured schema columns.
func (s *InMemoryStore) Schema(ctx context.Context) ([]models.TableColumn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SchemaColumns, nil
}

// CreateReminder stores a pending reminder.
func (s *InMemoryStore) CreateReminder(ctx context.Context, r models.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	r.Status = models.ReminderStatusPending
	r.CreatedAt = time.Now()
	s.reminders[r.ID] = &r
	return r.ID, nil
}

// DueReminders returns pending reminders due at or before now.
func (s *InMemoryStore) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderStatusPending && !r.RemindAt.After(now) {
			due = append(due, *r)
		}
	}
	return due, nil
}

// MarkReminderSent performs the conditional pending→sent transition.
func (s *InMemoryStore) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return false, fmt.Errorf("reminder %d not found", id)
	}
	if r.Status != models.ReminderStatusPending {
		return false, nil
	}
	r.Status = models.ReminderStatusSent
	return true, nil
}

// Reminder returns a copy of the stored reminder, for test assertions.
func (s *InMemoryStore) Reminder(id int64) (models.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return models.Reminder{}, false
	}
	return *r, true
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
