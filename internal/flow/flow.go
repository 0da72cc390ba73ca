// Package flow orchestrates the data-bearing tools: natural language
// to SQL, execution against the store, bounded formatting, commentary,
// and the chart/report output branches.
package flow

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/analystiq/analystiq/internal/genai"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/render"
	"github.com/analystiq/analystiq/internal/retry"
	"github.com/analystiq/analystiq/internal/store"
	"github.com/analystiq/analystiq/internal/tools"
)

// maxImageCaption bounds chart captions to the transport's caption limit.
const maxImageCaption = 1000

const sqlSystemPrompt = "You are an expert SQL generator for a business database. " +
	"Generate exactly one SQL statement answering the user's question, grounded ONLY on the schema provided. " +
	"Respond with the bare SQL statement, no explanation and no markdown fences."

const commentaryPersona = "You are a sharp, friendly business analyst. " +
	"Present the query results to the user in a short narrative: lead with the key figure or finding, " +
	"add one or two sentences of interpretation, and keep every number from the results accurate. " +
	"Plain text only, no markdown."

// Orchestrator runs the query_data and generate_report pipelines.
type Orchestrator struct {
	client genai.ClientInterface
	store  store.Store

	// sqlPolicy guards SQL generation, commentaryPolicy the best-effort
	// narrative step.
	sqlPolicy        retry.Policy
	commentaryPolicy retry.Policy
	now              func() time.Time
}

// NewOrchestrator creates an orchestrator over the generation client
// and the query store.
func NewOrchestrator(client genai.ClientInterface, st store.Store) *Orchestrator {
	return &Orchestrator{
		client:           client,
		store:            st,
		sqlPolicy:        retry.Classification(),
		commentaryPolicy: retry.BestEffort(),
		now:              time.Now,
	}
}

// QueryHandler returns the query_data tool backed by this orchestrator.
func (o *Orchestrator) QueryHandler() tools.Handler { return &queryHandler{o} }

// ReportHandler returns the generate_report tool backed by this orchestrator.
func (o *Orchestrator) ReportHandler() tools.Handler { return &reportHandler{o} }

type queryHandler struct{ o *Orchestrator }

func (h *queryHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolQueryData,
		Description: "Answer a question about the business data by querying the database. Also handles requests for charts, graphs, plots, trends and pies.",
	}
}

func (h *queryHandler) Execute(ctx context.Context, req tools.Request) models.ToolResult {
	return h.o.run(ctx, req.Message, false)
}

type reportHandler struct{ o *Orchestrator }

func (h *reportHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolGenerateReport,
		Description: "Produce a downloadable PDF report, only when the user explicitly asks for a report, PDF, document or export.",
	}
}

func (h *reportHandler) Execute(ctx context.Context, req tools.Request) models.ToolResult {
	return h.o.run(ctx, req.Message, true)
}

// run is the shared pipeline: generate SQL, execute, format, add
// commentary, then branch into report, chart, or plain text output.
func (o *Orchestrator) run(ctx context.Context, message string, wantReport bool) models.ToolResult {
	query, err := o.generateQuery(ctx, message)
	if err != nil {
		slog.Error("Orchestrator.run: query generation failed", "error", err)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("query generation failed: %v", err),
			Text:    "Sorry, I couldn't work out a query for that question. Could you rephrase it?",
		}
	}

	result, err := o.store.ExecuteQuery(ctx, query)
	if err != nil {
		// A malformed generated query is reported, not retried.
		slog.Warn("Orchestrator.run: query execution failed", "error", err)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("query execution failed: %v", err),
			Query:   query,
			Text:    fmt.Sprintf("The query failed: %s", html.EscapeString(err.Error())),
		}
	}

	formatted := FormatResult(result)
	text := o.commentary(ctx, message, formatted)

	if wantReport {
		return o.reportResult(ctx, message, text, result, query)
	}
	if chartResult, ok := o.chartResult(message, text, result, query); ok {
		return chartResult
	}
	return models.ToolResult{Success: true, Text: html.EscapeString(text), Query: query}
}

// generateQuery asks the generation service for a single SQL statement
// grounded on the live schema.
func (o *Orchestrator) generateQuery(ctx context.Context, message string) (string, error) {
	schema, err := o.store.Schema(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load schema: %w", err)
	}

	prompt := fmt.Sprintf("Database schema:\n%s\nCurrent time: %s\n\nQuestion: %s",
		formatSchema(schema), o.now().Format(time.RFC3339), message)
	raw, err := retry.Do(ctx, o.sqlPolicy, "sql_generation", func(ctx context.Context) (string, error) {
		return o.client.GeneratePrompt(ctx, sqlSystemPrompt, prompt)
	})
	if err != nil {
		return "", err
	}

	query := stripQueryFences(raw)
	if query == "" {
		return "", models.ErrEmptyQuery
	}
	slog.Debug("Orchestrator.generateQuery: query generated", "query", query)
	return query, nil
}

// commentary produces the interpretive narrative, best-effort: on
// exhaustion the raw formatted result stands in for it.
func (o *Orchestrator) commentary(ctx context.Context, message, formatted string) string {
	prompt := fmt.Sprintf("Question: %s\n\nResults:\n%s", message, formatted)
	text, err := retry.Do(ctx, o.commentaryPolicy, "commentary", func(ctx context.Context) (string, error) {
		return o.client.GeneratePrompt(ctx, commentaryPersona, prompt)
	})
	if err != nil {
		slog.Warn("Orchestrator.commentary: falling back to formatted result", "error", err)
		return formatted
	}
	return text
}

// chartResult renders a chart when the message asks for one and the
// result has a numeric column. The boolean reports whether the chart
// branch applied; a false return falls through to the text branch.
func (o *Orchestrator) chartResult(message, text string, result *models.QueryResult, query string) (models.ToolResult, bool) {
	if !render.WantsChart(message) || !result.Read || len(result.Rows) == 0 {
		return models.ToolResult{}, false
	}
	series, ok := render.ExtractSeries(result)
	if !ok {
		slog.Info("Orchestrator.chartResult: no numeric column, using text branch")
		return models.ToolResult{}, false
	}

	png, err := render.Chart(render.DetectKind(message), chartTitle(message), series)
	if err != nil {
		slog.Warn("Orchestrator.chartResult: chart rendering failed, using text branch", "error", err)
		return models.ToolResult{}, false
	}

	caption := text
	if len(caption) > maxImageCaption {
		caption = caption[:maxImageCaption]
	}
	return models.ToolResult{
		Success:      true,
		Image:        png,
		ImageCaption: html.EscapeString(caption),
		Query:        query,
		Text:         html.EscapeString(text),
	}, true
}

// reportResult assembles the PDF document. Rendering failure is fatal
// to this tool only.
func (o *Orchestrator) reportResult(ctx context.Context, message, text string, result *models.QueryResult, query string) models.ToolResult {
	var chartPNG []byte
	if render.WantsChart(message) {
		if series, ok := render.ExtractSeries(result); ok {
			png, err := render.Chart(render.DetectKind(message), chartTitle(message), series)
			if err != nil {
				slog.Warn("Orchestrator.reportResult: chart rendering failed, omitting chart", "error", err)
			} else {
				chartPNG = png
			}
		}
	}

	doc, err := render.Document(chartTitle(message), text, result, chartPNG)
	if err != nil {
		slog.Error("Orchestrator.reportResult: document rendering failed", "error", err)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("document rendering failed: %v", err),
			Query:   query,
			Text:    "Sorry, I couldn't assemble the report document. Please try again.",
		}
	}

	return models.ToolResult{
		Success:      true,
		Document:     doc,
		DocumentName: fmt.Sprintf("report-%s.pdf", o.now().Format("20060102-150405")),
		Query:        query,
		Text:         "Here is your report.",
	}
}

// chartTitle derives a short title from the user's message.
func chartTitle(message string) string {
	title := strings.TrimSpace(message)
	if len(title) > 60 {
		title = title[:60]
	}
	if title == "" {
		return "Report"
	}
	return strings.ToUpper(title[:1]) + title[1:]
}

// formatSchema renders table/column/type triples grouped by table for
// the SQL-generation prompt.
func formatSchema(columns []models.TableColumn) string {
	var b strings.Builder
	lastTable := ""
	for _, col := range columns {
		if col.Table != lastTable {
			fmt.Fprintf(&b, "\nTable %s:\n", col.Table)
			lastTable = col.Table
		}
		fmt.Fprintf(&b, "  %s %s\n", col.Column, col.DataType)
	}
	return b.String()
}
