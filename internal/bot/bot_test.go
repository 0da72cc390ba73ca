package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/analystiq/analystiq/internal/access"
	"github.com/analystiq/analystiq/internal/dispatch"
	"github.com/analystiq/analystiq/internal/flow"
	"github.com/analystiq/analystiq/internal/memory"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/store"
	"github.com/analystiq/analystiq/internal/tools"
)

// fakeTransport implements messaging.Service in memory.
type fakeTransport struct {
	mu        sync.Mutex
	inbox     chan models.IncomingMessage
	texts     []string
	images    [][]byte
	captions  []string
	documents []string
	voices    map[string][]byte
	typing    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan models.IncomingMessage, 16),
		voices: map[string][]byte{},
	}
}

func (t *fakeTransport) Start(ctx context.Context) error { return nil }
func (t *fakeTransport) Stop() error                     { return nil }

func (t *fakeTransport) Messages() <-chan models.IncomingMessage { return t.inbox }

func (t *fakeTransport) SendText(ctx context.Context, chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
	return nil
}

func (t *fakeTransport) SendImage(ctx context.Context, chatID int64, image []byte, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.images = append(t.images, image)
	t.captions = append(t.captions, caption)
	return nil
}

func (t *fakeTransport) SendDocument(ctx context.Context, chatID int64, name string, document []byte, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documents = append(t.documents, name)
	return nil
}

func (t *fakeTransport) DownloadAttachment(ctx context.Context, fileID string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.voices[fileID]
	if !ok {
		return nil, errors.New("unknown file id")
	}
	return data, nil
}

func (t *fakeTransport) SendTyping(ctx context.Context, chatID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing++
	return nil
}

func (t *fakeTransport) sentTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts...)
}

// staticClassifier returns a fixed decision.
type staticClassifier struct {
	decision models.DispatchDecision
}

func (c *staticClassifier) Classify(ctx context.Context, text, conversationID string, audio []byte) models.DispatchDecision {
	return c.decision
}

// textHandler is a trivial tool returning fixed text.
type textHandler struct {
	name models.ToolName
	text string
}

func (h *textHandler) Spec() models.ToolSpec { return models.ToolSpec{Name: h.name} }

func (h *textHandler) Execute(ctx context.Context, req tools.Request) models.ToolResult {
	return models.ToolResult{Success: true, Text: h.text}
}

func newTestBot(transport *fakeTransport, classifier Classifier, registry *tools.Registry, st store.Store, whitelist []string) (*Bot, *memory.Store) {
	mem := memory.NewStore()
	b := NewBot(Opts{
		Transport:  transport,
		Guard:      access.NewGuard(whitelist),
		Dispatcher: classifier,
		Registry:   registry,
		Memory:     mem,
		Store:      st,
	})
	return b, mem
}

func TestHandleRepliesAndRemembers(t *testing.T) {
	transport := newFakeTransport()
	classifier := &staticClassifier{decision: models.DispatchDecision{
		Tool:       models.ToolChitChat,
		Parameters: map[string]string{},
	}}
	registry := tools.NewRegistry(&textHandler{name: models.ToolChitChat, text: "Hello!"})
	b, mem := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), nil)

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Text: "hi"})

	texts := transport.sentTexts()
	if len(texts) != 1 || texts[0] != "Hello!" {
		t.Fatalf("expected one reply, got %v", texts)
	}
	history := mem.History("5")
	if len(history) != 2 {
		t.Fatalf("expected exactly two turns remembered, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Text != "hi" {
		t.Errorf("unexpected user turn: %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Text != "Hello!" {
		t.Errorf("unexpected assistant turn: %+v", history[1])
	}
}

func TestHandleRejectsUnauthorized(t *testing.T) {
	transport := newFakeTransport()
	classifier := &staticClassifier{decision: models.DispatchDecision{Tool: models.ToolChitChat}}
	registry := tools.NewRegistry(&textHandler{name: models.ToolChitChat, text: "Hello!"})
	b, mem := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), []string{"@alice"})

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Username: "bob", Text: "hi"})

	texts := transport.sentTexts()
	if len(texts) != 1 || texts[0] != access.RejectionMessage {
		t.Fatalf("expected rejection message, got %v", texts)
	}
	if len(mem.History("5")) != 0 {
		t.Error("rejected messages must not reach memory")
	}
}

func TestHandleAuthorizesCaseInsensitive(t *testing.T) {
	transport := newFakeTransport()
	classifier := &staticClassifier{decision: models.DispatchDecision{Tool: models.ToolChitChat}}
	registry := tools.NewRegistry(&textHandler{name: models.ToolChitChat, text: "Hello!"})
	b, _ := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), []string{"@Alice"})

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Username: "ALICE", Text: "hi"})

	texts := transport.sentTexts()
	if len(texts) != 1 || texts[0] != "Hello!" {
		t.Fatalf("expected normal reply for whitelisted user, got %v", texts)
	}
}

func TestHandleHelpCommand(t *testing.T) {
	transport := newFakeTransport()
	b, mem := newTestBot(transport, &staticClassifier{}, tools.NewRegistry(), store.NewInMemoryStore(), nil)

	for _, cmd := range []string{"/start", "/help"} {
		b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Text: cmd})
	}

	texts := transport.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("expected two replies, got %d", len(texts))
	}
	for _, text := range texts {
		if !strings.Contains(text, "assistant") {
			t.Errorf("expected help text, got %q", text)
		}
	}
	if len(mem.History("5")) != 0 {
		t.Error("commands must not enter conversation memory")
	}
}

func TestHandleSchemaCommand(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SchemaColumns = []models.TableColumn{
		{Table: "customers", Column: "id", DataType: "INTEGER"},
		{Table: "customers", Column: "name", DataType: "TEXT"},
		{Table: "orders", Column: "total", DataType: "REAL"},
	}
	transport := newFakeTransport()
	b, _ := newTestBot(transport, &staticClassifier{}, tools.NewRegistry(), st, nil)

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Text: "/schema"})

	texts := transport.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected one reply, got %d", len(texts))
	}
	for _, want := range []string{"customers", "orders", "INTEGER"} {
		if !strings.Contains(texts[0], want) {
			t.Errorf("expected %q in schema reply:\n%s", want, texts[0])
		}
	}
}

func TestHandleVoiceMessage(t *testing.T) {
	transport := newFakeTransport()
	transport.voices["voice-1"] = []byte("opus-bytes")
	classifier := &staticClassifier{decision: models.DispatchDecision{
		Tool:          models.ToolChitChat,
		Parameters:    map[string]string{},
		Transcription: "hello there",
	}}
	registry := tools.NewRegistry(&textHandler{name: models.ToolChitChat, text: "Hi!"})
	b, mem := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), nil)

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, VoiceFileID: "voice-1"})

	history := mem.History("5")
	if len(history) != 2 {
		t.Fatalf("expected two turns, got %d", len(history))
	}
	if history[0].Text != "hello there" {
		t.Errorf("expected transcription remembered as the user turn, got %q", history[0].Text)
	}
}

func TestHandleVoiceDownloadFailure(t *testing.T) {
	transport := newFakeTransport()
	b, mem := newTestBot(transport, &staticClassifier{}, tools.NewRegistry(), store.NewInMemoryStore(), nil)

	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, VoiceFileID: "missing"})

	texts := transport.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "voice message") {
		t.Fatalf("expected download apology, got %v", texts)
	}
	if len(mem.History("5")) != 0 {
		t.Error("failed downloads must not enter memory")
	}
}

func TestHandlePanicIsContained(t *testing.T) {
	transport := newFakeTransport()
	classifier := &staticClassifier{decision: models.DispatchDecision{Tool: models.ToolChitChat}}
	registry := tools.NewRegistry(&panicHandler{})
	b, _ := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), nil)

	// Must not panic the caller.
	b.handle(context.Background(), models.IncomingMessage{ChatID: 5, UserID: 2, Text: "boom"})
}

type panicHandler struct{}

func (h *panicHandler) Spec() models.ToolSpec { return models.ToolSpec{Name: models.ToolChitChat} }

func (h *panicHandler) Execute(ctx context.Context, req tools.Request) models.ToolResult {
	panic("handler bug")
}

func TestRunProcessesMessagesConcurrently(t *testing.T) {
	transport := newFakeTransport()
	classifier := &staticClassifier{decision: models.DispatchDecision{Tool: models.ToolChitChat, Parameters: map[string]string{}}}
	registry := tools.NewRegistry(&textHandler{name: models.ToolChitChat, text: "Hello!"})
	b, _ := newTestBot(transport, classifier, registry, store.NewInMemoryStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	transport.inbox <- models.IncomingMessage{ChatID: 1, UserID: 1, Text: "hi"}
	transport.inbox <- models.IncomingMessage{ChatID: 2, UserID: 2, Text: "hi"}

	deadline := time.After(2 * time.Second)
	for {
		if len(transport.sentTexts()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for replies, got %v", transport.sentTexts())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned error on shutdown: %v", err)
	}
}

// End-to-end through the real dispatcher and orchestrator: a scalar
// count question produces a commentary reply and two memory turns.
func TestEndToEndScalarQuestion(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SchemaColumns = []models.TableColumn{{Table: "customers", Column: "id", DataType: "INTEGER"}}
	st.QueryResults["SELECT COUNT(*) AS count FROM customers"] = &models.QueryResult{
		Read:    true,
		Columns: []string{"count"},
		Rows:    []map[string]any{{"count": int64(42)}},
	}

	client := &scriptedGenAI{
		json: `{"tool": "query_data", "parameters": {}, "reasoning": "data question"}`,
		text: map[string]string{
			"SQL generator": "SELECT COUNT(*) AS count FROM customers",
			"analyst":       "You have 42 customers.",
		},
	}

	mem := memory.NewStore()
	orchestrator := flow.NewOrchestrator(client, st)
	registry := tools.NewRegistry(orchestrator.QueryHandler())
	dispatcher := dispatch.NewDispatcher(client, mem, registry.Catalog())
	transport := newFakeTransport()
	b := NewBot(Opts{
		Transport:  transport,
		Guard:      access.NewGuard(nil),
		Dispatcher: dispatcher,
		Registry:   registry,
		Memory:     mem,
		Store:      st,
	})

	b.handle(context.Background(), models.IncomingMessage{ChatID: 9, UserID: 4, Text: "how many customers do we have"})

	texts := transport.sentTexts()
	if len(texts) != 1 || texts[0] != "You have 42 customers." {
		t.Fatalf("expected commentary reply, got %v", texts)
	}
	history := mem.History("9")
	if len(history) != 2 {
		t.Fatalf("expected two memory turns, got %d", len(history))
	}
	if history[0].Text != "how many customers do we have" || history[1].Text != "You have 42 customers." {
		t.Errorf("unexpected memory contents: %+v", history)
	}
}

// scriptedGenAI routes by system-prompt keywords.
type scriptedGenAI struct {
	json string
	text map[string]string
}

func (c *scriptedGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	for key, reply := range c.text {
		if strings.Contains(systemPrompt, key) {
			return reply, nil
		}
	}
	return "", errors.New("no scripted reply")
}

func (c *scriptedGenAI) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.json, nil
}

func (c *scriptedGenAI) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	return "", errors.New("not used")
}
