package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/llm"
)

var ErrNoteServiceNotConfigured = errors.New("note service not configured")

const educatorSystemPrompt = "You are a medical educator assistant. Generate a comprehensive, " +
	"personalized educational note about the given condition. Use the patient's clinical data " +
	"to personalize the information. Make it detailed, educational, and easy to understand. " +
	"Always include a disclaimer that this is educational information and not medical advice."

// NoteService generates personalized educational notes for a condition from
// the patient's clinical data. Notes are generated once and cached on the
// session by the caller.
type NoteService struct {
	logger *zap.Logger
	llm    llm.Client
}

func NewNoteService(logger *zap.Logger, llmClient llm.Client) *NoteService {
	return &NoteService{logger: logger, llm: llmClient}
}

func (s *NoteService) Generate(ctx context.Context, conditionName string, clinicalData map[string]string) (string, error) {
	if s == nil || s.llm == nil {
		return "", ErrNoteServiceNotConfigured
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Condition: %s\n\n", conditionName)
	if len(clinicalData) > 0 {
		user.WriteString("Patient clinical data:\n")
		user.WriteString(formatClinicalData(clinicalData))
		user.WriteString("\n")
	}
	user.WriteString("Please write a comprehensive, personalized educational note about this condition, tailored to the patient's clinical data.")

	text, err := s.llm.Chat(ctx, llm.ChatInput{
		Messages: []llm.Message{
			{Role: "system", Content: educatorSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.3,
		MaxTokens:   1500,
	})
	if err != nil {
		s.logger.Warn("educational note generation failed", zap.Error(err))
		return "", fmt.Errorf("generate note: %w", err)
	}
	return text, nil
}
