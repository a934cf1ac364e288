// Package translate normalizes user prompts to English before they reach the
// generation service. Translation is best effort: any failure returns the
// original text unchanged.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "You translate image generation prompts into English. " +
	"Reply with only the translated text, no commentary. " +
	"If the text is already English, reply with the text unchanged."

// chatCompleter is the slice of the OpenAI chat API the translator needs,
// extracted so tests can substitute a mock.
type chatCompleter interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Translator converts prompts to English via a chat completion model.
type Translator struct {
	chat chatCompleter
}

// NewTranslator initializes a Translator with the given OpenAI API key.
func NewTranslator(apiKey string) (*Translator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Translator{chat: &cli.Chat.Completions}, nil
}

// NewTranslatorWithChat creates a Translator with an explicit chat backend.
// Used in tests.
func NewTranslatorWithChat(chat chatCompleter) *Translator {
	return &Translator{chat: chat}
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

// normalize lowercases text and strips punctuation so translation round-trips
// compare as equal.
func normalize(text string) string {
	return strings.TrimSpace(nonWordRe.ReplaceAllString(strings.ToLower(text), ""))
}

// ToEnglish returns the English rendering of text. The original text is
// returned when it is already English, when the model returns nothing, or
// when the request fails.
func (t *Translator) ToEnglish(ctx context.Context, text string) string {
	resp, err := t.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Warn("Translator.ToEnglish: translation failed, using original text", "error", err)
		return text
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Translator.ToEnglish: empty completion, using original text")
		return text
	}
	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return text
	}
	if normalize(translated) == normalize(text) {
		// Already English, keep the user's exact wording.
		return text
	}
	slog.Debug("Translator.ToEnglish: prompt translated", "original", text, "translated", translated)
	return translated
}
