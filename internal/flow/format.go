package flow

import (
	"fmt"
	"strings"

	"github.com/analystiq/analystiq/internal/models"
)

// maxTableRows bounds how many result rows are rendered in a chat
// message; the remainder collapses into a footer count.
const maxTableRows = 15

// FormatResult renders a query result as chat-ready text: an
// affected-row confirmation for writes, a scalar highlight for 1x1
// results, and a bounded aligned table otherwise.
func FormatResult(result *models.QueryResult) string {
	if !result.Read {
		noun := "rows"
		if result.AffectedRows == 1 {
			noun = "row"
		}
		return fmt.Sprintf("Done. %d %s affected.", result.AffectedRows, noun)
	}
	if len(result.Rows) == 0 {
		return "No rows returned."
	}
	if result.IsScalar() {
		return fmt.Sprintf("Result: %s", cellString(result.Rows[0][result.Columns[0]]))
	}
	return formatTable(result)
}

// formatTable renders up to maxTableRows rows as a space-aligned table
// with a header separator, appending an omitted-row footer when the
// result is larger.
func formatTable(result *models.QueryResult) string {
	shown := result.Rows
	omitted := 0
	if len(shown) > maxTableRows {
		omitted = len(shown) - maxTableRows
		shown = shown[:maxTableRows]
	}

	widths := make([]int, len(result.Columns))
	for i, col := range result.Columns {
		widths[i] = len(col)
	}
	cells := make([][]string, len(shown))
	for r, row := range shown {
		cells[r] = make([]string, len(result.Columns))
		for i, col := range result.Columns {
			s := cellString(row[col])
			cells[r][i] = s
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	var b strings.Builder
	for i, col := range result.Columns {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%-*s", widths[i], col)
	}
	b.WriteString("\n")
	for i, w := range widths {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(strings.Repeat("-", w))
	}
	for _, row := range cells {
		b.WriteString("\n")
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			fmt.Fprintf(&b, "%-*s", widths[i], cell)
		}
	}
	if omitted > 0 {
		noun := "rows"
		if omitted == 1 {
			noun = "row"
		}
		fmt.Fprintf(&b, "\n... and %d more %s", omitted, noun)
	}
	return b.String()
}

func cellString(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}

// stripQueryFences removes markdown code fences the generation service
// tends to wrap SQL in.
func stripQueryFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```SQL")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
