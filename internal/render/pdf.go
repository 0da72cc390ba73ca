package render

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/analystiq/analystiq/internal/models"
	"github.com/jung-kurt/gofpdf"
)

// Document assembles a report PDF combining a title, the commentary
// narrative, an optional chart image, and a full tabular dump of the
// result set. It returns the binary document content.
func Document(title, narrative string, result *models.QueryResult, chartPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 9, tr(title), "", "L", false)
	pdf.Ln(3)

	if narrative != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(narrative), "", "L", false)
		pdf.Ln(3)
	}

	if len(chartPNG) > 0 {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("chart", opts, bytes.NewReader(chartPNG))
		pdf.ImageOptions("chart", 15, pdf.GetY(), 180, 0, true, opts, 0, "")
		pdf.Ln(5)
	}

	if result != nil && result.Read && len(result.Rows) > 0 {
		writeTable(pdf, tr, result)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to assemble document: %w", err)
	}
	slog.Debug("render.Document: document assembled", "bytes", buf.Len(), "rows", rowCount(result))
	return buf.Bytes(), nil
}

func rowCount(result *models.QueryResult) int {
	if result == nil {
		return 0
	}
	return len(result.Rows)
}

func writeTable(pdf *gofpdf.Fpdf, tr func(string) string, result *models.QueryResult) {
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageWidth - left - right
	colWidth := usable / float64(len(result.Columns))

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range result.Columns {
		pdf.CellFormat(colWidth, 7, tr(col), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range result.Rows {
		for _, col := range result.Columns {
			pdf.CellFormat(colWidth, 6, tr(truncateCell(fmt.Sprintf("%v", row[col]))), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// truncateCell keeps table cells from overflowing their column.
func truncateCell(s string) string {
	const maxCell = 40
	if len(s) <= maxCell {
		return s
	}
	return s[:maxCell-1] + "…"
}
