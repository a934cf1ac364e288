// Package messaging defines the pluggable gateway abstraction between the
// conversation engine and a concrete chat transport.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending text, option menus, photos and documents, and provides
// a channel of inbound events (commands, text replies, photo uploads).
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendOptions sends a selection prompt rendered as a numbered menu and
	// returns the id of the prompt message for later editing.
	SendOptions(ctx context.Context, to string, prompt string, rows [][]string) (string, error)

	// EditMessage replaces the text of a previously sent message in place.
	EditMessage(ctx context.Context, to string, messageID string, body string) error

	// SendPhoto sends an image file as a photo message.
	SendPhoto(ctx context.Context, to string, path string, caption string) error

	// SendDocument sends a file as a document, preserving full quality.
	SendDocument(ctx context.Context, to string, path string, caption string) error

	// SendTyping toggles the typing indicator for the chat.
	SendTyping(ctx context.Context, to string, typing bool) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of inbound participant events.
	Events() <-chan models.Event
}

// FormatOptions renders option rows as a numbered menu below the prompt.
// Numbering is continuous across rows.
func FormatOptions(prompt string, rows [][]string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	n := 0
	for _, row := range rows {
		for _, opt := range row {
			n++
			sb.WriteString(fmt.Sprintf("\n%d) %s", n, opt))
		}
	}
	return sb.String()
}

// MatchOption resolves a user reply against option rows. The reply may be the
// menu number or the option text, compared case-insensitively. Returns the
// canonical option and whether a match was found.
func MatchOption(reply string, rows [][]string) (string, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", false
	}
	lower := strings.ToLower(reply)
	n := 0
	for _, row := range rows {
		for _, opt := range row {
			n++
			if lower == strings.ToLower(opt) || reply == fmt.Sprintf("%d", n) {
				return opt, true
			}
		}
	}
	return "", false
}
