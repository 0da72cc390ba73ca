// Package bot runs the message-handling event loop: authorization,
// built-in commands, voice handling, dispatch, tool execution, reply
// delivery, and conversation memory.
package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/analystiq/analystiq/internal/access"
	"github.com/analystiq/analystiq/internal/memory"
	"github.com/analystiq/analystiq/internal/messaging"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/store"
	"github.com/analystiq/analystiq/internal/tools"
)

// handlerTimeout bounds one message's end-to-end handling, including
// every upstream call it makes.
const handlerTimeout = 3 * time.Minute

const helpText = `I'm your business data assistant. I can:
• Answer questions about your data ("how many customers do we have")
• Draw charts ("show me a chart of sales by region")
• Build PDF reports ("export a sales report")
• Set reminders ("remind me at 2026-09-01 09:00 to call Dana")
• Check the weather and convert currencies

Send text or a voice message. /schema shows the available tables.`

// Classifier is the dispatch seam, satisfied by dispatch.Dispatcher.
type Classifier interface {
	Classify(ctx context.Context, text, conversationID string, audio []byte) models.DispatchDecision
}

// Opts wires the bot's collaborators.
type Opts struct {
	Transport  messaging.Service
	Guard      *access.Guard
	Dispatcher Classifier
	Registry   *tools.Registry
	Memory     *memory.Store
	Store      store.Store
}

// Bot consumes inbound messages and replies. Each message is handled in
// its own goroutine, so one slow conversation never blocks another.
type Bot struct {
	transport  messaging.Service
	guard      *access.Guard
	dispatcher Classifier
	registry   *tools.Registry
	memory     *memory.Store
	store      store.Store

	wg sync.WaitGroup
}

// NewBot creates the event loop over its collaborators.
func NewBot(opts Opts) *Bot {
	return &Bot{
		transport:  opts.Transport,
		guard:      opts.Guard,
		dispatcher: opts.Dispatcher,
		registry:   opts.Registry,
		memory:     opts.Memory,
		store:      opts.Store,
	}
}

// Run starts the transport and processes inbound messages until the
// context is cancelled, then waits for in-flight handlers to finish.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging transport: %w", err)
	}
	slog.Info("Bot.Run: event loop started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot.Run: shutting down, waiting for in-flight handlers")
			b.wg.Wait()
			return b.transport.Stop()
		case msg, ok := <-b.transport.Messages():
			if !ok {
				b.wg.Wait()
				return b.transport.Stop()
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handle(ctx, msg)
			}()
		}
	}
}

// handle processes one inbound message end to end. Failures are
// contained here: nothing a single message does can take down the loop.
func (b *Bot) handle(ctx context.Context, msg models.IncomingMessage) {
	correlationID := uuid.NewString()
	logger := slog.With("correlationID", correlationID, "chatID", msg.ChatID, "userID", msg.UserID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Bot.handle: recovered from panic", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if !b.authorized(msg) {
		logger.Warn("Bot.handle: unauthorized message rejected", "username", msg.Username)
		if err := b.transport.SendText(ctx, msg.ChatID, access.RejectionMessage); err != nil {
			logger.Error("Bot.handle: failed to send rejection", "error", err)
		}
		return
	}

	if reply, ok := b.command(ctx, msg.Text); ok {
		logger.Info("Bot.handle: command handled", "command", strings.Fields(msg.Text)[0])
		if err := b.transport.SendText(ctx, msg.ChatID, reply); err != nil {
			logger.Error("Bot.handle: failed to send command reply", "error", err)
		}
		return
	}

	if err := b.transport.SendTyping(ctx, msg.ChatID); err != nil {
		logger.Debug("Bot.handle: typing indicator failed", "error", err)
	}

	var audio []byte
	if msg.VoiceFileID != "" {
		data, err := b.transport.DownloadAttachment(ctx, msg.VoiceFileID)
		if err != nil {
			logger.Error("Bot.handle: failed to download voice attachment", "error", err)
			if err := b.transport.SendText(ctx, msg.ChatID, "Sorry, I couldn't fetch that voice message. Please try again or type it out."); err != nil {
				logger.Error("Bot.handle: failed to send download apology", "error", err)
			}
			return
		}
		audio = data
	}

	decision := b.dispatcher.Classify(ctx, msg.Text, msg.ConversationID(), audio)
	userText := msg.Text
	if userText == "" {
		userText = decision.Transcription
	}
	logger.Info("Bot.handle: executing tool", "tool", decision.Tool, "voice", msg.VoiceFileID != "")

	result := b.registry.Execute(ctx, decision, tools.Request{
		ChatID:  msg.ChatID,
		UserID:  msg.UserID,
		Message: userText,
	})
	if !result.Success {
		logger.Warn("Bot.handle: tool reported failure", "tool", decision.Tool, "toolError", result.Error)
	}

	finalText := b.reply(ctx, logger, msg.ChatID, result)

	// Exactly one append per role per turn, whatever branch replied.
	conversationID := msg.ConversationID()
	b.memory.Append(conversationID, models.RoleUser, userText)
	b.memory.Append(conversationID, models.RoleAssistant, finalText)
}

// reply delivers the tool result over the right channel (document,
// image, or text) and returns the text remembered as the assistant turn.
func (b *Bot) reply(ctx context.Context, logger *slog.Logger, chatID int64, result models.ToolResult) string {
	switch {
	case len(result.Document) > 0:
		if err := b.transport.SendDocument(ctx, chatID, result.DocumentName, result.Document, result.Text); err != nil {
			logger.Error("Bot.reply: failed to send document", "error", err)
			b.sendFallback(ctx, logger, chatID)
		}
		return result.Text
	case len(result.Image) > 0:
		if err := b.transport.SendImage(ctx, chatID, result.Image, result.ImageCaption); err != nil {
			logger.Error("Bot.reply: failed to send image", "error", err)
			b.sendFallback(ctx, logger, chatID)
		}
		return result.ImageCaption
	default:
		text := result.Text
		if text == "" {
			text = "Sorry, something went wrong handling that. Please try again."
		}
		if err := b.transport.SendText(ctx, chatID, text); err != nil {
			logger.Error("Bot.reply: failed to send text", "error", err)
		}
		return text
	}
}

func (b *Bot) sendFallback(ctx context.Context, logger *slog.Logger, chatID int64) {
	if err := b.transport.SendText(ctx, chatID, "Sorry, I couldn't deliver the attachment. Please try again."); err != nil {
		logger.Error("Bot.sendFallback: failed to send fallback text", "error", err)
	}
}

// authorized checks the username and the numeric user id against the
// whitelist; either being listed is enough.
func (b *Bot) authorized(msg models.IncomingMessage) bool {
	if msg.Username != "" && b.guard.Authorize(msg.Username) {
		return true
	}
	return b.guard.Authorize(strconv.FormatInt(msg.UserID, 10))
}

// command handles the built-in slash commands, reporting whether the
// message was one.
func (b *Bot) command(ctx context.Context, text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "/start", "/help":
		return helpText, true
	case "/schema":
		return b.schemaReply(ctx), true
	default:
		return "", false
	}
}

// schemaReply formats the live schema for the /schema command.
func (b *Bot) schemaReply(ctx context.Context) string {
	columns, err := b.store.Schema(ctx)
	if err != nil {
		slog.Error("Bot.schemaReply: schema introspection failed", "error", err)
		return "Sorry, I couldn't read the database schema right now."
	}
	if len(columns) == 0 {
		return "The database has no tables yet."
	}

	var sb strings.Builder
	sb.WriteString("Available tables:\n")
	lastTable := ""
	for _, col := range columns {
		if col.Table != lastTable {
			fmt.Fprintf(&sb, "\n<b>%s</b>\n", html.EscapeString(col.Table))
			lastTable = col.Table
		}
		fmt.Fprintf(&sb, "  %s (%s)\n", html.EscapeString(col.Column), html.EscapeString(col.DataType))
	}
	return sb.String()
}
