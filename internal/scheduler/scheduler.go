// Package scheduler delivers due reminders in the background.
//
// A cron-driven loop polls the store for pending reminders whose due
// time has passed, sends each one through the messaging transport, and
// performs the conditional pending→sent transition. Delivery and
// mark-sent are not atomic: a crash between them can re-deliver once,
// an accepted at-least-once semantic. Double-marking is impossible
// because the status transition is conditional at the data layer.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/store"
)

const (
	// PollSchedule is the fixed reminder polling interval.
	PollSchedule = "@every 1m"
	// InitialDelay defers the first poll so startup can settle.
	InitialDelay = 10 * time.Second

	deliveryTimeout = 30 * time.Second
)

// TextSender is the outbound slice of the messaging transport the
// scheduler needs.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Scheduler polls for due reminders and delivers them.
type Scheduler struct {
	store  store.Store
	sender TextSender
	cron   *cron.Cron
	now    func() time.Time

	initialDelay time.Duration
	cancel       context.CancelFunc
}

// NewScheduler creates a reminder scheduler over the store and the
// messaging transport.
func NewScheduler(st store.Store, sender TextSender) *Scheduler {
	return &Scheduler{
		store:        st,
		sender:       sender,
		cron:         cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:          time.Now,
		initialDelay: InitialDelay,
	}
}

// Start launches the polling loop: one poll after the initial delay,
// then on the fixed schedule. It returns once the loop is scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(PollSchedule, func() { s.poll(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reminder polling: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.initialDelay):
		}
		s.poll(ctx)
		s.cron.Start()
	}()

	slog.Info("Scheduler.Start: reminder delivery scheduled", "schedule", PollSchedule, "initialDelay", s.initialDelay)
	return nil
}

// Stop halts polling and waits for a running poll to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	slog.Info("Scheduler.Stop: reminder delivery stopped")
}

// poll delivers every due reminder. A failed cycle is logged and
// skipped; the next tick retries whatever is still pending.
func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.DueReminders(ctx, s.now())
	if err != nil {
		slog.Error("Scheduler.poll: failed to query due reminders", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	slog.Info("Scheduler.poll: delivering due reminders", "count", len(due))
	for _, reminder := range due {
		if _, err := s.deliver(ctx, reminder); err != nil {
			slog.Error("Scheduler.poll: delivery failed, will retry next tick",
				"id", reminder.ID, "chatID", reminder.ChatID, "error", err)
		}
	}
}

// deliver sends one reminder and marks it sent. It reports whether this
// call won the pending→sent transition.
func (s *Scheduler) deliver(ctx context.Context, reminder models.Reminder) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	text := fmt.Sprintf("⏰ Reminder: %s", reminder.Message)
	if err := s.sender.SendText(ctx, reminder.ChatID, text); err != nil {
		return false, fmt.Errorf("failed to send reminder %d: %w", reminder.ID, err)
	}

	won, err := s.store.MarkReminderSent(ctx, reminder.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder %d sent: %w", reminder.ID, err)
	}
	if !won {
		slog.Debug("Scheduler.deliver: reminder already marked sent", "id", reminder.ID)
		return false, nil
	}
	slog.Info("Scheduler.deliver: reminder delivered", "id", reminder.ID, "chatID", reminder.ChatID)
	return true, nil
}
