package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/analystiq/analystiq/internal/genai"
	"github.com/analystiq/analystiq/internal/models"
	"github.com/analystiq/analystiq/internal/retry"
)

const chitChatPersona = "You are a friendly, concise business assistant. " +
	"Reply conversationally in one or two short sentences. " +
	"If the user seems to want data, gently mention you can answer questions about their business data, set reminders, check weather, or convert currencies."

// ChitChatHandler produces a conversational reply for messages that
// carry no actionable intent.
type ChitChatHandler struct {
	client genai.ClientInterface
	policy retry.Policy
}

// NewChitChatHandler creates the chit_chat handler over the generation
// client.
func NewChitChatHandler(client genai.ClientInterface) *ChitChatHandler {
	return &ChitChatHandler{client: client, policy: retry.BestEffort()}
}

// Spec declares the chit_chat contract.
func (h *ChitChatHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolChitChat,
		Description: "Respond to greetings, small talk, or anything that is not a data, reminder, weather, currency or report request.",
	}
}

// Execute generates the reply. Generation failure is terminal for this
// tool and surfaces as a user-visible error.
func (h *ChitChatHandler) Execute(ctx context.Context, req Request) models.ToolResult {
	reply, err := retry.Do(ctx, h.policy, "chit_chat", func(ctx context.Context) (string, error) {
		return h.client.GeneratePrompt(ctx, chitChatPersona, req.Message)
	})
	if err != nil {
		slog.Error("ChitChatHandler.Execute: generation failed", "chatID", req.ChatID, "error", err)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("chit-chat generation failed: %v", err),
			Text:    "Sorry, I'm having trouble thinking of a reply right now. Please try again.",
		}
	}
	return models.ToolResult{Success: true, Text: reply}
}
