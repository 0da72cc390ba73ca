// Package access implements the whitelist-based authorization gate in
// front of message handling.
//
// The default is open: an empty whitelist authorizes everyone. A
// non-empty whitelist matches normalized identifiers (lowercased,
// leading "@" stripped); everything else is rejected before the
// dispatcher ever sees the message.
package access

import (
	"log/slog"
	"strings"
)

// RejectionMessage is the fixed reply sent to unauthorized users.
const RejectionMessage = "Sorry, you are not authorized to use this assistant."

// Guard authorizes inbound messages against a whitelist loaded once at
// startup and read-only thereafter.
type Guard struct {
	whitelist map[string]struct{}
}

// NewGuard creates a guard from the configured whitelist entries.
// Entries are normalized the same way identifiers are at check time.
func NewGuard(entries []string) *Guard {
	whitelist := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if n := Normalize(e); n != "" {
			whitelist[n] = struct{}{}
		}
	}
	slog.Debug("access.NewGuard: whitelist loaded", "entries", len(whitelist), "openAccess", len(whitelist) == 0)
	return &Guard{whitelist: whitelist}
}

// Normalize lowercases an identifier and strips a leading "@".
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(identifier), "@"))
}

// Authorize reports whether the identifier may interact with the system.
// Rejections are logged with the offending identifier for audit.
func (g *Guard) Authorize(identifier string) bool {
	if len(g.whitelist) == 0 {
		return true
	}
	if _, ok := g.whitelist[Normalize(identifier)]; ok {
		return true
	}
	slog.Warn("access.Authorize: rejected unauthorized identifier", "identifier", identifier)
	return false
}
