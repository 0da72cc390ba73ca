// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/analystiq/analystiq/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore backs the query service and reminder repository with SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// ExecuteQuery runs a statement, returning rows for reads and an
// affected-row count for writes.
func (s *SQLiteStore) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	if IsReadStatement(query) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			slog.Error("SQLiteStore ExecuteQuery read failed", "error", err)
			return nil, fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()
		result, err := collectRows(rows)
		if err != nil {
			slog.Error("SQLiteStore ExecuteQuery scan failed", "error", err)
			return nil, err
		}
		slog.Debug("SQLiteStore ExecuteQuery read succeeded", "rows", len(result.Rows))
		return result, nil
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		slog.Error("SQLiteStore ExecuteQuery write failed", "error", err)
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Debug("SQLiteStore ExecuteQuery write succeeded", "affected", affected)
	return &models.QueryResult{Read: false, AffectedRows: affected}, nil
}

// Schema returns table/column/type triples for every user table.
func (s *SQLiteStore) Schema(ctx context.Context) ([]models.TableColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.name, p.name, p.type
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`)
	if err != nil {
		slog.Error("SQLiteStore Schema query failed", "error", err)
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}
	defer rows.Close()

	var schema []models.TableColumn
	for rows.Next() {
		var tc models.TableColumn
		if err := rows.Scan(&tc.Table, &tc.Column, &tc.DataType); err != nil {
			slog.Error("SQLiteStore Schema scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema = append(schema, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema rows: %w", err)
	}
	slog.Debug("SQLiteStore Schema succeeded", "columns", len(schema))
	return schema, nil
}

// CreateReminder persists a pending reminder and returns its id.
func (s *SQLiteStore) CreateReminder(ctx context.Context, r models.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (user_id, chat_id, message, remind_at, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ChatID, r.Message, r.RemindAt, string(models.ReminderStatusPending), time.Now())
	if err != nil {
		slog.Error("SQLiteStore CreateReminder failed", "error", err, "userID", r.UserID)
		return 0, fmt.Errorf("failed to insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read reminder id: %w", err)
	}
	slog.Debug("SQLiteStore CreateReminder succeeded", "id", id, "remindAt", r.RemindAt)
	return id, nil
}

// DueReminders returns pending reminders with remind_at <= now.
func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, message, remind_at, status, created_at
		 FROM reminders WHERE status = ? AND remind_at <= ? ORDER BY remind_at`,
		string(models.ReminderStatusPending), now)
	if err != nil {
		slog.Error("SQLiteStore DueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()

	var due []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("SQLiteStore DueReminders scan failed", "error", err)
			return nil, err
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	slog.Debug("SQLiteStore DueReminders succeeded", "count", len(due))
	return due, nil
}

// MarkReminderSent performs the conditional pending→sent transition.
func (s *SQLiteStore) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
		string(models.ReminderStatusSent), id, string(models.ReminderStatusPending))
	if err != nil {
		slog.Error("SQLiteStore MarkReminderSent failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark reminder %d sent: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Debug("SQLiteStore MarkReminderSent", "id", id, "transitioned", affected == 1)
	return affected == 1, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
