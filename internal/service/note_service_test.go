package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/llm"
)

func TestNoteServiceGenerate(t *testing.T) {
	mockLLM := &llm.MockClient{Response: "A detailed educational note."}
	svc := NewNoteService(zap.NewNop(), mockLLM)

	note, err := svc.Generate(context.Background(), "Asthma", map[string]string{"age": "40", "smoker": "no"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if note != "A detailed educational note." {
		t.Fatalf("unexpected note: %q", note)
	}

	if mockLLM.LastInput.Temperature != 0.3 || mockLLM.LastInput.MaxTokens != 1500 {
		t.Fatalf("generation params wrong: %+v", mockLLM.LastInput)
	}
	if len(mockLLM.LastInput.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(mockLLM.LastInput.Messages))
	}
	user := mockLLM.LastInput.Messages[1].Content
	if !strings.Contains(user, "Condition: Asthma") {
		t.Fatalf("prompt missing condition: %q", user)
	}
	if !strings.Contains(user, "- age: 40") || !strings.Contains(user, "- smoker: no") {
		t.Fatalf("prompt missing clinical data: %q", user)
	}
}

func TestNoteServiceGenerateError(t *testing.T) {
	mockLLM := &llm.MockClient{Err: errors.New("upstream down")}
	svc := NewNoteService(zap.NewNop(), mockLLM)

	if _, err := svc.Generate(context.Background(), "Asthma", nil); err == nil {
		t.Fatalf("expected generation error to surface")
	}
}

func TestNoteServiceNotConfigured(t *testing.T) {
	svc := NewNoteService(zap.NewNop(), nil)
	if _, err := svc.Generate(context.Background(), "Asthma", nil); !errors.Is(err, ErrNoteServiceNotConfigured) {
		t.Fatalf("expected ErrNoteServiceNotConfigured, got %v", err)
	}
}
