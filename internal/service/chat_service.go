package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/llm"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/matching"
)

var ErrRateLimited = errors.New("rate limited")

// fallbackHistoryWindow is how many recent turns are replayed into the
// fallback prompt.
const fallbackHistoryWindow = 6

const (
	clarificationPrompt = "I'm not fully sure what you're asking. Could you rephrase your question or add a little more detail?"

	conditionMismatchNotice = "This question seems to be about a different condition: %s. " +
		"Start a new chat for that condition to get accurate answers about it."

	fallbackApology = "I'm sorry, I couldn't find a precise answer in the available material. " +
		"Try asking your question more clearly or with different words."

	fallbackSystemPrompt = "You are a cautious medical information assistant. " +
		"Answer briefly and clearly. Include general educational information only. " +
		"Always add a short disclaimer that this is not medical advice."
)

// ChatService runs the query pipeline: match, route, generate, record.
type ChatService struct {
	logger   *zap.Logger
	sessions *SessionService
	router   ConfidenceRouter
	matcher  matching.Matcher
	llm      llm.Client
	limiter  QueryRateLimiter
}

func NewChatService(logger *zap.Logger, sessions *SessionService, router ConfidenceRouter, matcher matching.Matcher, llmClient llm.Client, limiter QueryRateLimiter) *ChatService {
	if matcher == nil {
		matcher = matching.Disabled()
	}
	return &ChatService{
		logger:   logger,
		sessions: sessions,
		router:   router,
		matcher:  matcher,
		llm:      llmClient,
		limiter:  limiter,
	}
}

// AskResult is what one routed query returns to the transport layer.
type AskResult struct {
	Message               string               `json:"message"`
	ResponseType          domain.ResponseType  `json:"response_type"`
	Confidence            domain.ConfidenceLevel `json:"confidence_level,omitempty"`
	DetectedConditionName string               `json:"detected_condition_name,omitempty"`
	Stats                 domain.SessionStats  `json:"stats"`
}

// Ask classifies the query, produces the bot response for its type, and
// records the full turn atomically.
func (c *ChatService) Ask(ctx context.Context, sessionID, query string) (AskResult, error) {
	if c.limiter != nil && !c.limiter.Allow(sessionID) {
		return AskResult{}, fmt.Errorf("%w: session %s", ErrRateLimited, sessionID)
	}

	full, err := c.sessions.FullSession(ctx, sessionID)
	if err != nil {
		return AskResult{}, err
	}

	candidate, err := c.matcher.BestMatch(ctx, query, full.ConditionID)
	if err != nil {
		// A broken matcher degrades to the fallback path instead of failing
		// the query.
		c.logger.Warn("matcher failed, falling back", zap.Error(err), zap.String("session_id", sessionID))
		candidate = nil
	}

	decision, err := c.router.Route(candidate, full.ConditionID)
	if err != nil {
		return AskResult{}, err
	}

	result := AskResult{
		ResponseType: decision.Type,
		Confidence:   decision.Confidence,
	}

	switch decision.Type {
	case domain.ResponseDirectAnswer:
		result.Message = decision.Answer
	case domain.ResponseClarification:
		result.Message = clarificationPrompt
	case domain.ResponseConditionMismatch:
		name := decision.DetectedConditionName
		if name == "" {
			name = decision.DetectedConditionID
		}
		result.Message = fmt.Sprintf(conditionMismatchNotice, name)
		result.DetectedConditionName = name
	case domain.ResponseLLMFallback:
		result.Message = c.generateFallback(ctx, full, query)
	}

	stats, err := c.sessions.RecordTurn(ctx, sessionID, query, result.Message, decision.Confidence)
	if err != nil {
		return AskResult{}, err
	}
	result.Stats = stats
	return result, nil
}

// generateFallback asks the LLM with the session context and recent history.
// Generation failures degrade to a fixed apology; the turn still records as
// a fallback.
func (c *ChatService) generateFallback(ctx context.Context, full FullSession, query string) string {
	if c.llm == nil {
		return fallbackApology
	}

	input := llm.ChatInput{
		Messages:    buildFallbackMessages(full, query),
		Temperature: 0.2,
		MaxTokens:   400,
	}
	text, err := c.llm.Chat(ctx, input)
	if err != nil || strings.TrimSpace(text) == "" {
		c.logger.Warn("llm fallback failed", zap.Error(err), zap.String("session_id", full.ID))
		return fallbackApology
	}
	return text
}

func buildFallbackMessages(full FullSession, query string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: fallbackSystemPrompt}}

	if full.ConditionName != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "Conversation topic: " + full.ConditionName,
		})
	}
	if len(full.ClinicalData) > 0 {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "Patient clinical data:\n" + formatClinicalData(full.ClinicalData),
		})
	}

	history := full.Messages
	if len(history) > fallbackHistoryWindow {
		history = history[len(history)-fallbackHistoryWindow:]
	}
	for _, m := range history {
		role := "assistant"
		if m.Role == domain.RoleUser {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	return append(messages, llm.Message{Role: "user", Content: query})
}

// formatClinicalData renders the field map as stable, sorted bullet lines.
func formatClinicalData(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, data[k])
	}
	return b.String()
}
