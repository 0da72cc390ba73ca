package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/analystiq/analystiq/internal/models"
	"github.com/wcharczuk/go-chart/v2"
)

// maxChartPoints bounds how many rows are plotted.
const maxChartPoints = 15

// Series is the labeled numeric series extracted from a query result.
type Series struct {
	Labels []string
	Values []float64
}

// ExtractSeries pulls the first numeric column (values) and the first
// non-numeric column (labels) out of a result set. It reports false when
// the result has no numeric column, in which case no chart is rendered
// and the textual path is used instead.
func ExtractSeries(result *models.QueryResult) (Series, bool) {
	if result == nil || !result.Read || len(result.Rows) == 0 {
		return Series{}, false
	}

	valueCol := ""
	labelCol := ""
	for _, col := range result.Columns {
		if _, ok := numericValue(result.Rows[0][col]); ok {
			if valueCol == "" {
				valueCol = col
			}
		} else if labelCol == "" {
			labelCol = col
		}
	}
	if valueCol == "" {
		return Series{}, false
	}

	var s Series
	for i, row := range result.Rows {
		if i >= maxChartPoints {
			break
		}
		v, ok := numericValue(row[valueCol])
		if !ok {
			continue
		}
		label := strconv.Itoa(i + 1)
		if labelCol != "" {
			label = fmt.Sprintf("%v", row[labelCol])
		}
		s.Labels = append(s.Labels, label)
		s.Values = append(s.Values, v)
	}
	if len(s.Values) == 0 {
		return Series{}, false
	}
	return s, true
}

// numericValue converts database values to float64 where possible.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Chart renders the series as a PNG image of the given kind.
func Chart(kind Kind, title string, s Series) ([]byte, error) {
	if len(s.Values) == 0 {
		return nil, fmt.Errorf("no values to chart")
	}

	var buf bytes.Buffer
	var err error
	switch kind {
	case KindPie:
		err = renderPie(title, s, &buf)
	case KindLine:
		err = renderLine(title, s, &buf)
	default:
		err = renderBar(title, s, &buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s chart: %w", kind, err)
	}
	slog.Debug("render.Chart: chart rendered", "kind", kind, "points", len(s.Values), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func renderBar(title string, s Series, buf *bytes.Buffer) error {
	bars := make([]chart.Value, len(s.Values))
	for i := range s.Values {
		bars[i] = chart.Value{Label: s.Labels[i], Value: s.Values[i]}
	}
	graph := chart.BarChart{
		Title:    title,
		Width:    900,
		Height:   500,
		BarWidth: 40,
		Bars:     bars,
	}
	return graph.Render(chart.PNG, buf)
}

func renderPie(title string, s Series, buf *bytes.Buffer) error {
	values := make([]chart.Value, 0, len(s.Values))
	for i, v := range s.Values {
		if v <= 0 {
			// Pie slices must be positive.
			continue
		}
		values = append(values, chart.Value{Label: s.Labels[i], Value: v})
	}
	if len(values) == 0 {
		return fmt.Errorf("no positive values for pie chart")
	}
	graph := chart.PieChart{
		Title:  title,
		Width:  700,
		Height: 700,
		Values: values,
	}
	return graph.Render(chart.PNG, buf)
}

func renderLine(title string, s Series, buf *bytes.Buffer) error {
	xs := make([]float64, len(s.Values))
	for i := range xs {
		xs[i] = float64(i + 1)
	}
	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 500,
		Series: []chart.Series{
			chart.ContinuousSeries{XValues: xs, YValues: s.Values},
		},
	}
	return graph.Render(chart.PNG, buf)
}
