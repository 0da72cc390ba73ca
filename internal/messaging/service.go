// Package messaging defines the pluggable message delivery abstraction
// between the engine and the chat platform.
package messaging

import (
	"context"

	"github.com/analystiq/analystiq/internal/models"
)

// Service is the transport seam. The engine only requires receiving
// inbound events and sending text, images, and document attachments;
// everything platform-specific stays behind this interface.
type Service interface {
	// Start begins background processing (e.g., long polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns the channel of inbound text/voice events.
	Messages() <-chan models.IncomingMessage

	// SendText sends a text reply to a chat.
	SendText(ctx context.Context, chatID int64, text string) error

	// SendImage sends an image with an optional caption.
	SendImage(ctx context.Context, chatID int64, image []byte, caption string) error

	// SendDocument sends a binary document attachment.
	SendDocument(ctx context.Context, chatID int64, name string, document []byte, caption string) error

	// DownloadAttachment fetches the raw bytes of an attachment (e.g., a
	// voice note) by its transport file id.
	DownloadAttachment(ctx context.Context, fileID string) ([]byte, error)

	// SendTyping shows a typing indicator while a message is handled.
	// Best effort; failures are ignored by callers.
	SendTyping(ctx context.Context, chatID int64) error
}
