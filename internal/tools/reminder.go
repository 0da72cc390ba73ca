package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/store"
)

// ReminderHandler persists reminders for later delivery by the
// scheduler.
type ReminderHandler struct {
	store store.Store
	now   func() time.Time
}

// NewReminderHandler creates the set_reminder handler over the given
// store.
func NewReminderHandler(st store.Store) *ReminderHandler {
	return &ReminderHandler{store: st, now: time.Now}
}

// Spec declares the set_reminder contract.
func (h *ReminderHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolSetReminder,
		Description: "Schedule a reminder to be delivered back to the user at an absolute time. Time must be formatted as YYYY-MM-DD HH:MM.",
		Required:    []string{"time", "message"},
	}
}

// Execute parses the requested time and persists a pending reminder.
// Time parse failures are user-input errors and get a corrective
// message rather than an apology.
func (h *ReminderHandler) Execute(ctx context.Context, req Request) models.ToolResult {
	remindAt, err := models.ParseReminderTime(req.Parameters["time"], h.now())
	if err != nil {
		text := fmt.Sprintf("I couldn't understand the time %q. Please use the format YYYY-MM-DD HH:MM.", req.Parameters["time"])
		if errors.Is(err, models.ErrReminderInPast) {
			text = fmt.Sprintf("%s is already in the past. When should I remind you instead?", req.Parameters["time"])
		}
		return models.ToolResult{Success: false, Error: err.Error(), Text: text}
	}

	reminder := models.Reminder{
		UserID:   req.UserID,
		ChatID:   req.ChatID,
		Message:  req.Parameters["message"],
		RemindAt: remindAt,
		Status:   models.ReminderStatusPending,
	}
	id, err := h.store.CreateReminder(ctx, reminder)
	if err != nil {
		slog.Error("ReminderHandler.Execute: failed to persist reminder", "chatID", req.ChatID, "error", err)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("failed to persist reminder: %v", err),
			Text:    "Sorry, I couldn't save that reminder. Please try again.",
		}
	}

	slog.Info("ReminderHandler.Execute: reminder created", "id", id, "chatID", req.ChatID, "remindAt", remindAt)
	return models.ToolResult{
		Success: true,
		Text:    fmt.Sprintf("Done! I'll remind you on %s: %s", remindAt.Format(models.ReminderTimeLayout), reminder.Message),
	}
}
