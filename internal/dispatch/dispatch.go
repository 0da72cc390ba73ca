// Package dispatch classifies inbound messages into a tool and
// parameters using the generation service.
//
// Classification is fail-safe: any failure along the way (retries
// exhausted, malformed response, unknown tool) degrades to a default
// decision routing to query_data with empty parameters, never a crash.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/analystiq/analystiq/internal/genai"
	"github.com/analystiq/analystiq/internal/memory"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/render"
	"github.com/analystiq/analystiq/internal/retry"
)

// reportKeywords name a document/report export. They take precedence
// over visualization keywords in the tie-break.
var reportKeywords = []string{"report", "pdf", "document", "export"}

// WantsReport reports whether the message explicitly names a
// document/report export.
func WantsReport(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range reportKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Dispatcher builds classification requests and parses decisions.
type Dispatcher struct {
	client  genai.ClientInterface
	memory  *memory.Store
	catalog []models.ToolSpec
	policy  retry.Policy
	now     func() time.Time
}

// NewDispatcher creates a dispatcher over the generation client, the
// conversation memory, and the registered tool catalog.
func NewDispatcher(client genai.ClientInterface, mem *memory.Store, catalog []models.ToolSpec) *Dispatcher {
	return &Dispatcher{
		client:  client,
		memory:  mem,
		catalog: catalog,
		policy:  retry.Classification(),
		now:     time.Now,
	}
}

// Classify routes a message (text, or audio for transcription) to a tool
// with parameters. It always returns a usable decision.
func (d *Dispatcher) Classify(ctx context.Context, text, conversationID string, audio []byte) models.DispatchDecision {
	transcription := ""
	if len(audio) > 0 {
		transcript, err := retry.Do(ctx, d.policy, "transcription", func(ctx context.Context) (string, error) {
			return d.client.Transcribe(ctx, "voice.ogg", audio)
		})
		if err != nil {
			slog.Error("dispatch.Classify: transcription failed, using fallback decision", "conversationID", conversationID, "error", err)
			return fallbackDecision("")
		}
		transcription = transcript
		if text == "" {
			text = transcript
		}
	}

	raw, err := retry.Do(ctx, d.policy, "classification", func(ctx context.Context) (string, error) {
		return d.client.GenerateJSON(ctx, d.systemPrompt(), d.userPrompt(text, conversationID))
	})
	if err != nil {
		slog.Error("dispatch.Classify: classification failed, using fallback decision", "conversationID", conversationID, "error", err)
		return fallbackDecision(transcription)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		slog.Warn("dispatch.Classify: unparsable classifier response, using fallback decision",
			"conversationID", conversationID, "error", err, "responseLength", len(raw))
		return fallbackDecision(transcription)
	}
	decision.Transcription = transcription

	decision = applyTieBreak(decision, text)
	slog.Info("dispatch.Classify: decision made",
		"conversationID", conversationID,
		"tool", decision.Tool,
		"parameterCount", len(decision.Parameters),
		"voice", transcription != "")
	slog.Debug("dispatch.Classify: classifier reasoning", "conversationID", conversationID, "reasoning", decision.Reasoning)
	return decision
}

// systemPrompt fixes the classifier's contract: the tool catalog and the
// strict JSON output shape.
func (d *Dispatcher) systemPrompt() string {
	catalogJSON, _ := json.MarshalIndent(d.catalog, "", "  ")
	var b strings.Builder
	b.WriteString("You are the intent router for a business data assistant.\n")
	b.WriteString("Classify the user's message into exactly one tool from this catalog:\n\n")
	b.Write(catalogJSON)
	b.WriteString("\n\nRules:\n")
	b.WriteString("1. Respond with ONLY a JSON object: {\"tool\": ..., \"parameters\": {...}, \"reasoning\": ...}\n")
	b.WriteString("2. Every parameter value must be a string.\n")
	b.WriteString("3. Requests mentioning charts, graphs, plots, trends, or pies are query_data, NOT generate_report.\n")
	b.WriteString("4. Only requests explicitly asking for a report, PDF, document, or export are generate_report.\n")
	b.WriteString("5. Reminder times must be absolute timestamps in YYYY-MM-DD HH:MM format.\n")
	b.WriteString("6. When in doubt, choose query_data.\n")
	return b.String()
}

// userPrompt embeds the current time, the bounded conversation history,
// and the message to classify.
func (d *Dispatcher) userPrompt(text, conversationID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n\n", d.now().Format(time.RFC3339))

	history := d.memory.History(conversationID)
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Message: %s", text)
	return b.String()
}

// parseDecision decodes the classifier response as a strict structured
// object. Anything that fails to decode, or names an unknown tool, is
// treated identically to a classification failure.
func parseDecision(raw string) (models.DispatchDecision, error) {
	var decision models.DispatchDecision
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decision); err != nil {
		return decision, fmt.Errorf("failed to decode decision: %w", err)
	}
	if err := decision.Validate(); err != nil {
		return decision, err
	}
	if decision.Parameters == nil {
		decision.Parameters = map[string]string{}
	}
	return decision, nil
}

// applyTieBreak enforces the visualization precedence rule in code
// rather than trusting the classifier: visualization keywords route to
// query_data unless the request explicitly names a report export. The
// override only arbitrates between the two data-bearing tools; a
// reminder about a chart stays a reminder.
func applyTieBreak(decision models.DispatchDecision, message string) models.DispatchDecision {
	if decision.Tool != models.ToolQueryData && decision.Tool != models.ToolGenerateReport {
		return decision
	}
	if !render.WantsChart(message) && !WantsReport(message) {
		return decision
	}
	want := models.ToolQueryData
	if WantsReport(message) {
		want = models.ToolGenerateReport
	}
	if decision.Tool != want {
		slog.Debug("dispatch.applyTieBreak: overriding classifier tool", "from", decision.Tool, "to", want)
		decision.Tool = want
	}
	return decision
}

// fallbackDecision is the deliberate degrade-to-safe-default policy.
func fallbackDecision(transcription string) models.DispatchDecision {
	return models.DispatchDecision{
		Tool:          models.ToolQueryData,
		Parameters:    map[string]string{},
		Reasoning:     "fallback: classification unavailable",
		Transcription: transcription,
	}
}
