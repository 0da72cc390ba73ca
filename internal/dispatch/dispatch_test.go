package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/analystiq/analystiq/internal/memory"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/retry"
)

// mockGenAIClient implements genai.ClientInterface for dispatcher tests.
type mockGenAIClient struct {
	generateJSONFn func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	transcribeFn   func(ctx context.Context, filename string, audio []byte) (string, error)

	lastSystemPrompt string
	lastUserPrompt   string
	jsonCalls        int
}

func (m *mockGenAIClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func (m *mockGenAIClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.jsonCalls++
	m.lastSystemPrompt = systemPrompt
	m.lastUserPrompt = userPrompt
	if m.generateJSONFn != nil {
		return m.generateJSONFn(ctx, systemPrompt, userPrompt)
	}
	return `{"tool": "chit_chat", "parameters": {"message": "hi"}}`, nil
}

func (m *mockGenAIClient) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if m.transcribeFn != nil {
		return m.transcribeFn(ctx, filename, audio)
	}
	return "transcribed text", nil
}

func testCatalog() []models.ToolSpec {
	return []models.ToolSpec{
		{Name: models.ToolQueryData, Description: "Answer questions from business data"},
		{Name: models.ToolSetReminder, Description: "Schedule a reminder", Required: []string{"time", "message"}},
		{Name: models.ToolGenerateReport, Description: "Produce a PDF report"},
		{Name: models.ToolChitChat, Description: "Small talk"},
	}
}

// fastPolicy avoids real backoff sleeps in tests.
func fastPolicy(maxAttempts int) retry.Policy {
	p := retry.NewPolicy(maxAttempts, 0)
	p.Jitter = func() time.Duration { return 0 }
	return p
}

func newTestDispatcher(client *mockGenAIClient) *Dispatcher {
	d := NewDispatcher(client, memory.NewStore(), testCatalog())
	d.policy = fastPolicy(5)
	return d
}

func TestClassifyParsesDecision(t *testing.T) {
	client := &mockGenAIClient{
		generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return `{"tool": "set_reminder", "parameters": {"time": "2026-09-01 09:00", "message": "standup"}, "reasoning": "scheduling request"}`, nil
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "remind me about standup tomorrow at 9", "chat-1", nil)
	if decision.Tool != models.ToolSetReminder {
		t.Fatalf("expected set_reminder, got %s", decision.Tool)
	}
	if decision.Parameters["time"] != "2026-09-01 09:00" {
		t.Errorf("expected time parameter, got %q", decision.Parameters["time"])
	}
	if decision.Parameters["message"] != "standup" {
		t.Errorf("expected message parameter, got %q", decision.Parameters["message"])
	}
}

func TestClassifyFallbackOnPermanentError(t *testing.T) {
	client := &mockGenAIClient{
		generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "show me sales", "chat-1", nil)
	if decision.Tool != models.ToolQueryData {
		t.Fatalf("expected query_data fallback, got %s", decision.Tool)
	}
	if decision.Parameters == nil || len(decision.Parameters) != 0 {
		t.Errorf("expected empty non-nil parameters, got %v", decision.Parameters)
	}
	if client.jsonCalls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", client.jsonCalls)
	}
}

func TestClassifyFallbackAfterRateLimitExhaustion(t *testing.T) {
	client := &mockGenAIClient{
		generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return "", fmt.Errorf("upstream 429: %w", models.ErrRateLimited)
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "show me sales", "chat-1", nil)
	if decision.Tool != models.ToolQueryData {
		t.Fatalf("expected query_data fallback, got %s", decision.Tool)
	}
	if client.jsonCalls != 5 {
		t.Errorf("expected 5 attempts before fallback, got %d", client.jsonCalls)
	}
}

func TestClassifyFallbackOnMalformedResponse(t *testing.T) {
	responses := []string{
		"not json at all",
		`{"tool": "launch_rockets", "parameters": {}}`,
		`{"tool": "query_data", "unexpected": true}`,
		`[]`,
	}
	for _, raw := range responses {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			client := &mockGenAIClient{
				generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
					return raw, nil
				},
			}
			d := newTestDispatcher(client)
			decision := d.Classify(context.Background(), "hello", "chat-1", nil)
			if decision.Tool != models.ToolQueryData {
				t.Errorf("expected query_data fallback for %q, got %s", raw, decision.Tool)
			}
			if len(decision.Parameters) != 0 {
				t.Errorf("expected empty parameters, got %v", decision.Parameters)
			}
		})
	}
}

func TestClassifyNilParametersNormalized(t *testing.T) {
	client := &mockGenAIClient{
		generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return `{"tool": "chit_chat"}`, nil
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "hey", "chat-1", nil)
	if decision.Parameters == nil {
		t.Fatal("expected parameters map to be initialized")
	}
}

func TestClassifyTieBreak(t *testing.T) {
	cases := []struct {
		name       string
		message    string
		classified models.ToolName
		want       models.ToolName
	}{
		{"chart keyword overrides report classification", "show me a chart of monthly sales", models.ToolGenerateReport, models.ToolQueryData},
		{"trend keyword overrides report classification", "what is the revenue trend", models.ToolGenerateReport, models.ToolQueryData},
		{"explicit report wins over chart keyword", "export a PDF report with a sales chart", models.ToolQueryData, models.ToolGenerateReport},
		{"report keyword forces generate_report", "send me the quarterly report", models.ToolQueryData, models.ToolGenerateReport},
		{"no keywords leaves classification alone", "how many orders came in today", models.ToolQueryData, models.ToolQueryData},
		{"tie-break does not touch other tools", "remind me to check the trend chart", models.ToolSetReminder, models.ToolSetReminder},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := &mockGenAIClient{
				generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
					return fmt.Sprintf(`{"tool": %q, "parameters": {}}`, tc.classified), nil
				},
			}
			d := newTestDispatcher(client)
			decision := d.Classify(context.Background(), tc.message, "chat-1", nil)
			if decision.Tool != tc.want {
				t.Errorf("message %q classified %s: expected %s, got %s", tc.message, tc.classified, tc.want, decision.Tool)
			}
		})
	}
}

func TestClassifyVoiceTranscription(t *testing.T) {
	client := &mockGenAIClient{
		transcribeFn: func(ctx context.Context, filename string, audio []byte) (string, error) {
			if filename != "voice.ogg" {
				t.Errorf("expected voice.ogg filename, got %q", filename)
			}
			return "how many customers do we have", nil
		},
		generateJSONFn: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			if !strings.Contains(userPrompt, "how many customers do we have") {
				t.Errorf("expected transcript in user prompt, got %q", userPrompt)
			}
			return `{"tool": "query_data", "parameters": {}}`, nil
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "", "chat-1", []byte{0x4f, 0x67, 0x67})
	if decision.Transcription != "how many customers do we have" {
		t.Errorf("expected transcription on decision, got %q", decision.Transcription)
	}
	if decision.Tool != models.ToolQueryData {
		t.Errorf("expected query_data, got %s", decision.Tool)
	}
}

func TestClassifyVoiceTranscriptionFailure(t *testing.T) {
	client := &mockGenAIClient{
		transcribeFn: func(ctx context.Context, filename string, audio []byte) (string, error) {
			return "", errors.New("transcription backend down")
		},
	}
	d := newTestDispatcher(client)

	decision := d.Classify(context.Background(), "", "chat-1", []byte{0x01})
	if decision.Tool != models.ToolQueryData {
		t.Errorf("expected query_data fallback, got %s", decision.Tool)
	}
	if client.jsonCalls != 0 {
		t.Errorf("classification should be skipped after transcription failure, got %d calls", client.jsonCalls)
	}
}

func TestClassifyPromptIncludesHistoryAndCatalog(t *testing.T) {
	client := &mockGenAIClient{}
	mem := memory.NewStore()
	mem.Append("chat-1", models.RoleUser, "how many orders yesterday")
	mem.Append("chat-1", models.RoleAssistant, "Result: 17")

	d := NewDispatcher(client, mem, testCatalog())
	d.policy = fastPolicy(5)
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.Classify(context.Background(), "and today?", "chat-1", nil)

	if !strings.Contains(client.lastSystemPrompt, "set_reminder") {
		t.Error("expected tool catalog in system prompt")
	}
	if !strings.Contains(client.lastUserPrompt, fixed.Format(time.RFC3339)) {
		t.Error("expected current time in user prompt")
	}
	if !strings.Contains(client.lastUserPrompt, "how many orders yesterday") {
		t.Error("expected prior user turn in prompt")
	}
	if !strings.Contains(client.lastUserPrompt, "Result: 17") {
		t.Error("expected prior assistant turn in prompt")
	}
	if !strings.Contains(client.lastUserPrompt, "Message: and today?") {
		t.Error("expected current message in prompt")
	}
}

func TestWantsReport(t *testing.T) {
	if !WantsReport("export this as a PDF") {
		t.Error("expected PDF request to want a report")
	}
	if WantsReport("show me a chart") {
		t.Error("chart request should not want a report")
	}
}
