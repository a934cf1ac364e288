package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/models"
	"github.com/BTreeMap/ImagePipe/internal/util"
	"github.com/BTreeMap/ImagePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultDownloadTimeout bounds a single inbound media download
	DefaultDownloadTimeout = 60 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to the underlying client for event handling and downloads
	mediaDir string
	events   chan models.Event
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
// Inbound photos are downloaded into mediaDir.
func NewWhatsAppService(client whatsapp.Sender, mediaDir string) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		mediaDir: mediaDir,
		events:   make(chan models.Event, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient checks that the recipient is a phone
// number and strips any leading plus sign, matching the JID user format.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(strings.TrimPrefix(recipient, "+"))
	if len(r) < 8 || len(r) > 15 {
		return "", fmt.Errorf("invalid recipient %q: expected 8-15 digit phone number", recipient)
	}
	for _, c := range r {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("invalid recipient %q: non-digit character", recipient)
		}
	}
	return r, nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.mediaDir, err)
	}

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.events)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if _, err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendOptions sends a numbered selection menu and returns the id of the
// prompt message.
func (s *WhatsAppService) SendOptions(ctx context.Context, to string, prompt string, rows [][]string) (string, error) {
	id, err := s.client.SendMessage(ctx, to, FormatOptions(prompt, rows))
	if err != nil {
		slog.Error("WhatsAppService SendOptions error", "error", err, "to", to)
		return "", err
	}
	return id, nil
}

// EditMessage replaces the text of a previously sent message in place.
func (s *WhatsAppService) EditMessage(ctx context.Context, to string, messageID string, body string) error {
	slog.Debug("WhatsAppService EditMessage invoked", "to", to, "id", messageID)
	if err := s.client.EditMessage(ctx, to, messageID, body); err != nil {
		slog.Error("WhatsAppService EditMessage error", "error", err, "to", to, "id", messageID)
		return err
	}
	return nil
}

// SendPhoto sends an image file as a photo message.
func (s *WhatsAppService) SendPhoto(ctx context.Context, to string, path string, caption string) error {
	slog.Debug("WhatsAppService SendPhoto invoked", "to", to, "path", path)
	if err := s.client.SendImage(ctx, to, path, caption); err != nil {
		slog.Error("WhatsAppService SendPhoto error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendDocument sends a file as a document message.
func (s *WhatsAppService) SendDocument(ctx context.Context, to string, path string, caption string) error {
	slog.Debug("WhatsAppService SendDocument invoked", "to", to, "path", path)
	if err := s.client.SendDocument(ctx, to, path, caption); err != nil {
		slog.Error("WhatsAppService SendDocument error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendTyping toggles the typing indicator.
func (s *WhatsAppService) SendTyping(ctx context.Context, to string, typing bool) error {
	return s.client.SendTyping(to, typing)
}

// Events returns the inbound event channel.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

// handleEvents registers a Whatsmeow event handler and feeds inbound messages
// into the event channel until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(ctx, msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a WhatsApp message into an inbound event.
// Photo attachments are downloaded to the media directory first.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	from := evt.Info.Sender.User
	chatID := evt.Info.Chat.User

	if img := evt.Message.GetImageMessage(); img != nil {
		dlCtx, cancel := context.WithTimeout(ctx, DefaultDownloadTimeout)
		defer cancel()
		data, err := s.waClient.DownloadMedia(dlCtx, img)
		if err != nil {
			slog.Error("WhatsAppService failed to download inbound photo", "error", err, "from", from)
			reason := models.MediaErrFailed
			if errors.Is(err, context.DeadlineExceeded) {
				reason = models.MediaErrTimeout
			}
			s.emit(models.Event{
				Kind:   models.EventMediaError,
				From:   from,
				ChatID: chatID,
				Body:   reason,
				Time:   evt.Info.Timestamp.Unix(),
			})
			return
		}
		ext := ".jpg"
		if strings.Contains(img.GetMimetype(), "png") {
			ext = ".png"
		}
		path := filepath.Join(s.mediaDir, util.GenerateRandomID("photo_", 16)+ext)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Error("WhatsAppService failed to save inbound photo", "error", err, "from", from)
			s.emit(models.Event{
				Kind:   models.EventMediaError,
				From:   from,
				ChatID: chatID,
				Body:   models.MediaErrFailed,
				Time:   evt.Info.Timestamp.Unix(),
			})
			return
		}
		s.emit(models.Event{
			Kind:    models.EventPhoto,
			From:    from,
			ChatID:  chatID,
			Body:    img.GetCaption(),
			MediaID: path,
			Time:    evt.Info.Timestamp.Unix(),
		})
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
		text = ext.GetText()
	} else {
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", from)
		return
	}

	event := models.Event{
		Kind:   models.EventText,
		From:   from,
		ChatID: chatID,
		Body:   text,
		Time:   evt.Info.Timestamp.Unix(),
	}
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		event.Kind = models.EventCommand
		event.Command = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		event.Body = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	}
	s.emit(event)
}

// emit forwards an event without blocking the Whatsmeow handler goroutine.
func (s *WhatsAppService) emit(event models.Event) {
	select {
	case s.events <- event:
		slog.Debug("WhatsAppService event forwarded", "kind", event.Kind, "from", event.From)
	case <-s.done:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService event channel blocked, dropping event", "kind", event.Kind, "from", event.From)
	}
}
