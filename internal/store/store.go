// Package store provides storage backends for AnalystIQ.
//
// It exposes the query service used by the data tools (arbitrary SQL
// execution plus schema introspection) and the reminder repository used
// by the set_reminder tool and the delivery scheduler. SQLite and
// PostgreSQL backends are provided, plus an in-memory store for tests.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// Store is the persistence seam shared by the orchestrator and the
// reminder scheduler.
type Store interface {
	// ExecuteQuery runs a statement and returns rows for reads or an
	// affected-row count for writes.
	ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error)

	// Schema returns table/column/type triples used to ground generated queries.
	Schema(ctx context.Context) ([]models.TableColumn, error)

	// CreateReminder persists a reminder with status pending and returns its id.
	CreateReminder(ctx context.Context, r models.Reminder) (int64, error)

	// DueReminders returns reminders with status pending and remind_at <= now.
	DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error)

	// MarkReminderSent transitions a reminder pending→sent. The update is
	// conditional on the current status so concurrent scheduler ticks can
	// never double-mark one reminder; it reports whether this call won the
	// transition.
	MarkReminderSent(ctx context.Context, id int64) (bool, error)

	// Close releases the underlying connection.
	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// readKeywords are the leading keywords that classify a statement as a
// read. Anything else executes as a write and reports affected rows.
var readKeywords = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH", "PRAGMA"}

// IsReadStatement classifies a statement by its leading keyword.
func IsReadStatement(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range readKeywords {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}
