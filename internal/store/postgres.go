// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/analystiq/analystiq/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore backs the query service and reminder repository with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// ExecuteQuery runs a statement, returning rows for reads and an
// affected-row count for writes.
func (s *PostgresStore) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	if IsReadStatement(query) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			slog.Error("PostgresStore ExecuteQuery read failed", "error", err)
			return nil, fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()
		result, err := collectRows(rows)
		if err != nil {
			slog.Error("PostgresStore ExecuteQuery scan failed", "error", err)
			return nil, err
		}
		slog.Debug("PostgresStore ExecuteQuery read succeeded", "rows", len(result.Rows))
		return result, nil
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		slog.Error("PostgresStore ExecuteQuery write failed", "error", err)
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Debug("PostgresStore ExecuteQuery write succeeded", "affected", affected)
	return &models.QueryResult{Read: false, AffectedRows: affected}, nil
}

// Schema returns table/column/type triples for the public schema.
func (s *PostgresStore) Schema(ctx context.Context) ([]models.TableColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		slog.Error("PostgresStore Schema query failed", "error", err)
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}
	defer rows.Close()

	var schema []models.TableColumn
	for rows.Next() {
		var tc models.TableColumn
		if err := rows.Scan(&tc.Table, &tc.Column, &tc.DataType); err != nil {
			slog.Error("PostgresStore Schema scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema = append(schema, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema rows: %w", err)
	}
	slog.Debug("PostgresStore Schema succeeded", "columns", len(schema))
	return schema, nil
}

// CreateReminder persists a pending reminder and returns its id.
func (s *PostgresStore) CreateReminder(ctx context.Context, r models.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reminders (user_id, chat_id, message, remind_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.UserID, r.ChatID, r.Message, r.RemindAt, string(models.ReminderStatusPending), time.Now()).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore CreateReminder failed", "error", err, "userID", r.UserID)
		return 0, fmt.Errorf("failed to insert reminder: %w", err)
	}
	slog.Debug("PostgresStore CreateReminder succeeded", "id", id, "remindAt", r.RemindAt)
	return id, nil
}

// DueReminders returns pending reminders with remind_at <= now.
func (s *PostgresStore) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, message, remind_at, status, created_at
		 FROM reminders WHERE status = $1 AND remind_at <= $2 ORDER BY remind_at`,
		string(models.ReminderStatusPending), now)
	if err != nil {
		slog.Error("PostgresStore DueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()

	var due []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("PostgresStore DueReminders scan failed", "error", err)
			return nil, err
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	slog.Debug("PostgresStore DueReminders succeeded", "count", len(due))
	return due, nil
}

// MarkReminderSent performs the conditional pending→sent transition.
func (s *PostgresStore) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = $1 WHERE id = $2 AND status = $3`,
		string(models.ReminderStatusSent), id, string(models.ReminderStatusPending))
	if err != nil {
		slog.Error("PostgresStore MarkReminderSent failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark reminder %d sent: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Debug("PostgresStore MarkReminderSent", "id", id, "transitioned", affected == 1)
	return affected == 1, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
