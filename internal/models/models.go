// Package models defines the core data structures for AnalystIQ.
//
// It includes types for conversation turns, dispatch decisions, reminders,
// and tool results, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the assistant.
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a conversation's sliding-window history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolName identifies a tool the dispatcher can route a message to.
type ToolName string

const (
	// ToolQueryData answers questions by generating and executing SQL.
	ToolQueryData ToolName = "query_data"
	// ToolSetReminder persists a reminder for later delivery.
	ToolSetReminder ToolName = "set_reminder"
	// ToolGetWeather reports current weather for a city.
	ToolGetWeather ToolName = "get_weather"
	// ToolConvertCurrency converts an amount between two currencies.
	ToolConvertCurrency ToolName = "convert_currency"
	// ToolGenerateReport builds a PDF report from a data query.
	ToolGenerateReport ToolName = "generate_report"
	// ToolChitChat produces a free-form generative reply.
	ToolChitChat ToolName = "chit_chat"
)

// IsValidToolName checks if the given tool name is supported.
func IsValidToolName(t ToolName) bool {
	switch t {
	case ToolQueryData, ToolSetReminder, ToolGetWeather, ToolConvertCurrency, ToolGenerateReport, ToolChitChat:
		return true
	default:
		return false
	}
}

// AllToolNames lists every registered tool identifier in catalog order.
func AllToolNames() []ToolName {
	return []ToolName{ToolQueryData, ToolSetReminder, ToolGetWeather, ToolConvertCurrency, ToolGenerateReport, ToolChitChat}
}

// ReminderTimeLayout is the absolute timestamp format accepted by set_reminder.
const ReminderTimeLayout = "2006-01-02 15:04"

// Error variables for better error handling and testability
var (
	ErrRateLimited         = errors.New("upstream service rate limited")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrMissingParameter    = errors.New("required parameter missing")
	ErrInvalidReminderTime = errors.New("reminder time must be in YYYY-MM-DD HH:MM format")
	ErrReminderInPast      = errors.New("reminder time is in the past")
	ErrEmptyReminderText   = errors.New("reminder message cannot be empty")
	ErrEmptyQuery          = errors.New("generated query is empty")
)

// DispatchDecision is the result of classifying an inbound message.
// It is transient and never persisted.
type DispatchDecision struct {
	Tool          ToolName          `json:"tool"`
	Parameters    map[string]string `json:"parameters"`
	Reasoning     string            `json:"reasoning,omitempty"`
	Transcription string            `json:"transcription,omitempty"`
}

// Validate checks that the decision routes to a known tool.
func (d *DispatchDecision) Validate() error {
	if !IsValidToolName(d.Tool) {
		return fmt.Errorf("%w: %q", ErrUnknownTool, d.Tool)
	}
	return nil
}

// ReminderStatus tracks the delivery state of a reminder.
type ReminderStatus string

const (
	// ReminderStatusPending marks a reminder awaiting delivery.
	ReminderStatusPending ReminderStatus = "pending"
	// ReminderStatusSent marks a reminder that has been delivered.
	// The pending→sent transition happens exactly once and never reverses.
	ReminderStatusSent ReminderStatus = "sent"
)

// Reminder is a scheduled notification owned by a user.
type Reminder struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	ChatID    int64          `json:"chat_id"`
	Message   string         `json:"message"`
	RemindAt  time.Time      `json:"remind_at"`
	Status    ReminderStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate performs validation on a reminder before persistence.
func (r *Reminder) Validate() error {
	if r.Message == "" {
		return ErrEmptyReminderText
	}
	if r.RemindAt.IsZero() {
		return ErrInvalidReminderTime
	}
	return nil
}

// ParseReminderTime parses an absolute reminder timestamp in the bot's
// local timezone and rejects times that are already in the past.
func ParseReminderTime(value string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(ReminderTimeLayout, value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidReminderTime, value)
	}
	if t.Before(now) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrReminderInPast, value)
	}
	return t, nil
}

// QueryResult holds the outcome of executing a statement against the
// query service. Read statements populate Columns and Rows; write
// statements populate AffectedRows.
type QueryResult struct {
	Read         bool             `json:"read"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	AffectedRows int64            `json:"affected_rows,omitempty"`
}

// IsScalar reports whether the result is a single row with a single
// column, which renders as a scalar highlight instead of a table.
func (q *QueryResult) IsScalar() bool {
	return q.Read && len(q.Rows) == 1 && len(q.Columns) == 1
}

// TableColumn is one table/column/type triple from schema introspection.
type TableColumn struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	DataType string `json:"data_type"`
}

// ToolResult is the outcome of a tool invocation. Only the final rendered
// text ever reaches conversation memory; the structured payload is
// consumed by the formatting stage.
type ToolResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`

	// Query is the executed SQL statement for data-bearing tools, kept
	// for logging and diagnostics.
	Query string `json:"query,omitempty"`

	// Image and Document carry rendered binary attachments.
	Image        []byte `json:"-"`
	ImageCaption string `json:"image_caption,omitempty"`
	Document     []byte `json:"-"`
	DocumentName string `json:"document_name,omitempty"`
}

// IncomingMessage is an inbound text or voice event from the messaging
// transport.
type IncomingMessage struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	// VoiceFileID references a voice attachment downloadable from the
	// transport; empty for plain text messages.
	VoiceFileID string    `json:"voice_file_id,omitempty"`
	Time        time.Time `json:"time"`
}

// ConversationID returns the stable conversation identifier for the
// message, independent of transport.
func (m *IncomingMessage) ConversationID() string {
	return fmt.Sprintf("%d", m.ChatID)
}
