package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/store"
)

// recordingSender captures delivered texts, optionally failing.
type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	err   error
}

func (s *recordingSender) SendText(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	s.chats = append(s.chats, chatID)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func dueReminder(t *testing.T, st *store.InMemoryStore, chatID int64, message string) int64 {
	t.Helper()
	id, err := st.CreateReminder(context.Background(), models.Reminder{
		UserID:   1,
		ChatID:   chatID,
		Message:  message,
		RemindAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	return id
}

func TestPollDeliversAndMarksSent(t *testing.T) {
	st := store.NewInMemoryStore()
	id := dueReminder(t, st, 7, "standup")
	sender := &recordingSender{}
	s := NewScheduler(st, sender)

	s.poll(context.Background())

	if sender.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sender.count())
	}
	if !strings.Contains(sender.sent[0], "standup") {
		t.Errorf("expected reminder text, got %q", sender.sent[0])
	}
	if sender.chats[0] != 7 {
		t.Errorf("expected delivery to chat 7, got %d", sender.chats[0])
	}
	r, ok := st.Reminder(id)
	if !ok || r.Status != models.ReminderStatusSent {
		t.Errorf("expected reminder marked sent, got %+v", r)
	}
}

func TestPollSecondTickFindsNothing(t *testing.T) {
	st := store.NewInMemoryStore()
	dueReminder(t, st, 7, "standup")
	sender := &recordingSender{}
	s := NewScheduler(st, sender)

	s.poll(context.Background())
	s.poll(context.Background())

	if sender.count() != 1 {
		t.Errorf("expected exactly one delivery across ticks, got %d", sender.count())
	}
}

func TestPollSkipsFutureReminders(t *testing.T) {
	st := store.NewInMemoryStore()
	_, err := st.CreateReminder(context.Background(), models.Reminder{
		UserID:   1,
		ChatID:   7,
		Message:  "later",
		RemindAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	sender := &recordingSender{}
	s := NewScheduler(st, sender)

	s.poll(context.Background())
	if sender.count() != 0 {
		t.Errorf("expected no deliveries, got %d", sender.count())
	}
}

func TestFailedDeliveryStaysPending(t *testing.T) {
	st := store.NewInMemoryStore()
	id := dueReminder(t, st, 7, "standup")
	sender := &recordingSender{err: errors.New("transport down")}
	s := NewScheduler(st, sender)

	s.poll(context.Background())

	r, _ := st.Reminder(id)
	if r.Status != models.ReminderStatusPending {
		t.Errorf("failed delivery must leave the reminder pending, got %s", r.Status)
	}

	// Transport recovers, the next tick delivers.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	s.poll(context.Background())
	r, _ = st.Reminder(id)
	if r.Status != models.ReminderStatusSent {
		t.Errorf("expected delivery on retry, got %s", r.Status)
	}
}

func TestConcurrentDeliveriesMarkOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	id := dueReminder(t, st, 7, "standup")
	reminder, _ := st.Reminder(id)
	sender := &recordingSender{}
	s := NewScheduler(st, sender)

	const workers = 10
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.deliver(context.Background(), reminder)
			if err != nil {
				t.Errorf("deliver failed: %v", err)
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winning transition, got %d", winners)
	}
}

// flakyStore fails DueReminders a configured number of times.
type flakyStore struct {
	*store.InMemoryStore
	failures int
}

func (s *flakyStore) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("store unreachable")
	}
	return s.InMemoryStore.DueReminders(ctx, now)
}

func TestPollSurvivesStoreFailure(t *testing.T) {
	st := &flakyStore{InMemoryStore: store.NewInMemoryStore(), failures: 1}
	dueReminder(t, st.InMemoryStore, 7, "standup")
	sender := &recordingSender{}
	s := NewScheduler(st, sender)

	s.poll(context.Background()) // failing cycle: logged and skipped
	if sender.count() != 0 {
		t.Fatalf("expected no delivery during the failing cycle, got %d", sender.count())
	}

	s.poll(context.Background())
	if sender.count() != 1 {
		t.Errorf("expected delivery once the store recovers, got %d", sender.count())
	}
}
