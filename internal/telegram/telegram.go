// Package telegram implements the messaging transport against the
// Telegram Bot API directly over HTTP, without a client SDK.
//
// It long-polls getUpdates for inbound text and voice messages, and
// sends text (HTML parse mode), photos, and document attachments.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/analystiq/analystiq/internal/models"
)

const (
	// pollTimeout is the long-poll timeout passed to getUpdates.
	pollTimeoutSeconds = 30
	// maxDownloadBytes bounds attachment downloads (voice notes are small).
	maxDownloadBytes = 20 << 20
)

// Opts holds Telegram transport configuration.
type Opts struct {
	Token   string
	BaseURL string
}

// Option configures the Telegram transport.
type Option func(*Opts)

// WithToken sets the Bot API token (from @BotFather).
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithBaseURL overrides the Bot API base URL, used in tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// Transport implements messaging.Service over the Telegram Bot API.
type Transport struct {
	token    string
	baseURL  string
	fileURL  string
	client   *http.Client
	messages chan models.IncomingMessage

	// offset is the last processed update ID + 1.
	offset int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTransport creates a Telegram transport. The token is required.
func NewTransport(opts ...Option) (*Transport, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Transport{
		token:   cfg.Token,
		baseURL: base + "/bot" + cfg.Token,
		fileURL: base + "/file/bot" + cfg.Token,
		client:  &http.Client{Timeout: (pollTimeoutSeconds + 15) * time.Second},
		messages: make(chan models.IncomingMessage, 256),
	}, nil
}

// Start begins the long-polling loop for receiving updates.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	slog.Info("telegram.Start: long polling for updates")
	go t.pollLoop(pollCtx)
	return nil
}

// Stop stops the polling loop and closes the message channel.
func (t *Transport) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	close(t.messages)
	slog.Info("telegram.Stop: polling stopped")
	return nil
}

// Messages returns the channel of inbound events.
func (t *Transport) Messages() <-chan models.IncomingMessage {
	return t.messages
}

func (t *Transport) pollLoop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("telegram.pollLoop: getUpdates failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			msg, ok := t.toIncoming(u)
			if !ok {
				continue
			}
			select {
			case t.messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// update mirrors the subset of the Bot API update object we consume.
type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date  int64  `json:"date"`
		Text  string `json:"text"`
		Voice *struct {
			FileID string `json:"file_id"`
		} `json:"voice"`
	} `json:"message"`
}

func (t *Transport) toIncoming(u update) (models.IncomingMessage, bool) {
	if u.Message == nil || u.Message.From == nil {
		return models.IncomingMessage{}, false
	}
	msg := models.IncomingMessage{
		ChatID:   u.Message.Chat.ID,
		UserID:   u.Message.From.ID,
		Username: u.Message.From.Username,
		Text:     u.Message.Text,
		Time:     time.Unix(u.Message.Date, 0),
	}
	if u.Message.Voice != nil {
		msg.VoiceFileID = u.Message.Voice.FileID
	}
	if msg.Text == "" && msg.VoiceFileID == "" {
		// Stickers, photos, etc. are not handled.
		return models.IncomingMessage{}, false
	}
	return msg, true
}

func (t *Transport) getUpdates(ctx context.Context) ([]update, error) {
	payload := map[string]any{
		"offset":          t.offset,
		"timeout":         pollTimeoutSeconds,
		"allowed_updates": []string{"message"},
	}
	var result []update
	if err := t.call(ctx, "getUpdates", payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// maxMessageLen is the Bot API limit for one sendMessage text.
const maxMessageLen = 4096

// SendText sends a text reply with HTML parse mode. Messages longer than
// the Bot API limit are split into multiple sends.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		payload := map[string]any{
			"chat_id":    chatID,
			"text":       chunk,
			"parse_mode": "HTML",
		}
		if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
			return fmt.Errorf("sendMessage failed: %w", err)
		}
	}
	return nil
}

// splitMessage splits text into chunks of at most max bytes without
// cutting a UTF-8 rune, an unterminated HTML entity, or an open tag
// (the parse mode rejects such fragments), preferring newline and space
// boundaries.
func splitMessage(text string, max int) []string {
	var chunks []string
	for len(text) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if i := strings.LastIndexByte(text[:cut], '&'); i >= 0 && strings.IndexByte(text[i:cut], ';') < 0 {
			cut = i
		}
		if i := strings.LastIndexByte(text[:cut], '<'); i >= 0 && strings.IndexByte(text[i:cut], '>') < 0 {
			cut = i
		}
		if i := strings.LastIndexByte(text[:cut], '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(text[:cut], ' '); i > 0 {
			cut = i + 1
		}
		if cut <= 0 {
			// Pathological input (a single oversized entity or tag): fall
			// back to a rune-boundary cut.
			cut = max
			for cut > 1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// SendImage sends a photo with an optional caption.
func (t *Transport) SendImage(ctx context.Context, chatID int64, image []byte, caption string) error {
	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if caption != "" {
		fields["caption"] = caption
	}
	return t.upload(ctx, "sendPhoto", "photo", "chart.png", image, fields)
}

// SendDocument sends a binary document attachment.
func (t *Transport) SendDocument(ctx context.Context, chatID int64, name string, document []byte, caption string) error {
	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if caption != "" {
		fields["caption"] = caption
	}
	return t.upload(ctx, "sendDocument", "document", name, document, fields)
}

// SendTyping shows a typing indicator in the chat.
func (t *Transport) SendTyping(ctx context.Context, chatID int64) error {
	payload := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	return t.call(ctx, "sendChatAction", payload, nil)
}

// DownloadAttachment resolves a file id via getFile and downloads its content.
func (t *Transport) DownloadAttachment(ctx context.Context, fileID string) ([]byte, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := t.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, fmt.Errorf("getFile failed: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("getFile returned empty file path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileURL+"/"+file.FilePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("file download read failed: %w", err)
	}
	slog.Debug("telegram.DownloadAttachment: downloaded", "fileID", fileID, "bytes", len(data))
	return data, nil
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call performs a JSON-body Bot API method call.
func (t *Transport) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp.Body, result)
}

// upload performs a multipart Bot API method call with one binary part.
func (t *Transport) upload(ctx context.Context, method, field, filename string, data []byte, fields map[string]string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write %s field: %w", method, err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create %s form file: %w", method, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write %s file part: %w", method, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp.Body, nil)
}

func decodeAPIResponse(method string, body io.Reader, result any) error {
	var envelope apiResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s returned error %d: %s", method, envelope.ErrorCode, envelope.Description)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}
