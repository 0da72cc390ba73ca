package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// collectRows scans every row into an ordered column list and a slice of
// column→value maps. Byte slices are converted to strings so results
// render cleanly.
func collectRows(rows *sql.Rows) (*models.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &models.QueryResult{Read: true, Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}
	return result, nil
}

// normalizeValue converts driver-specific values into plain Go types.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}

// scanReminder scans a Reminder from sql.Rows.
func scanReminder(rows *sql.Rows) (models.Reminder, error) {
	var r models.Reminder
	var status string
	var remindAt, createdAt time.Time
	if err := rows.Scan(&r.ID, &r.UserID, &r.ChatID, &r.Message, &remindAt, &status, &createdAt); err != nil {
		return r, fmt.Errorf("scan reminder failed: %w", err)
	}
	r.RemindAt = remindAt
	r.CreatedAt = createdAt
	r.Status = models.ReminderStatus(status)
	return r, nil
}
