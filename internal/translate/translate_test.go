package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type mockChat struct {
	reply string
	err   error
	calls int
}

func (m *mockChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.reply}},
		},
	}, nil
}

func TestToEnglishTranslates(t *testing.T) {
	chat := &mockChat{reply: "a cat on a roof"}
	tr := NewTranslatorWithChat(chat)

	got := tr.ToEnglish(context.Background(), "un gato en un tejado")
	if got != "a cat on a roof" {
		t.Errorf("ToEnglish() = %q, want %q", got, "a cat on a roof")
	}
	if chat.calls != 1 {
		t.Errorf("expected 1 completion call, got %d", chat.calls)
	}
}

func TestToEnglishKeepsOriginalWordingWhenAlreadyEnglish(t *testing.T) {
	chat := &mockChat{reply: "A cat, on a roof."}
	tr := NewTranslatorWithChat(chat)

	original := "a cat on a roof"
	got := tr.ToEnglish(context.Background(), original)
	if got != original {
		t.Errorf("ToEnglish() = %q, want original %q", got, original)
	}
}

func TestToEnglishFallsBackOnError(t *testing.T) {
	chat := &mockChat{err: errors.New("network down")}
	tr := NewTranslatorWithChat(chat)

	original := "un gato en un tejado"
	if got := tr.ToEnglish(context.Background(), original); got != original {
		t.Errorf("ToEnglish() = %q, want original %q", got, original)
	}
}

func TestToEnglishFallsBackOnEmptyReply(t *testing.T) {
	chat := &mockChat{reply: "   "}
	tr := NewTranslatorWithChat(chat)

	original := "un gato"
	if got := tr.ToEnglish(context.Background(), original); got != original {
		t.Errorf("ToEnglish() = %q, want original %q", got, original)
	}
}
