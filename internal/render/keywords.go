// Package render provides the chart and PDF document renderers, plus the
// keyword classifiers that decide when and how to visualize a result.
package render

import "strings"

// Kind selects the chart family for a result set.
type Kind string

const (
	// KindBar is the default categorical chart.
	KindBar Kind = "bar"
	// KindPie is the proportion chart.
	KindPie Kind = "pie"
	// KindLine is the time-series-style chart.
	KindLine Kind = "line"
)

// visualizationKeywords route a request toward chart output.
var visualizationKeywords = []string{"chart", "graph", "plot", "trend", "pie"}

// WantsChart reports whether the message asks for a visualization.
func WantsChart(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range visualizationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectKind selects the chart type from the original message:
// "pie" → proportion chart, "line"/"trend" → time-series-style chart,
// anything else → categorical bar chart.
func DetectKind(message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "pie"):
		return KindPie
	case strings.Contains(lower, "line"), strings.Contains(lower, "trend"):
		return KindLine
	default:
		return KindBar
	}
}
