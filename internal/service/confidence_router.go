package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/matching"
)

var (
	ErrInvalidThresholds = errors.New("invalid confidence thresholds")
	ErrInvalidScore      = errors.New("invalid confidence score")
)

// ConfidenceRouter classifies one incoming query into exactly one response
// type given the matcher's best candidate and the session's active condition.
// It is a pure decision: no storage access, no hidden state.
type ConfidenceRouter struct {
	high   float64
	medium float64
}

// NewConfidenceRouter validates and fixes the two thresholds.
func NewConfidenceRouter(high, medium float64) (ConfidenceRouter, error) {
	if math.IsNaN(high) || math.IsNaN(medium) {
		return ConfidenceRouter{}, ErrInvalidThresholds
	}
	if medium < 0 || high > 1 || medium > high {
		return ConfidenceRouter{}, fmt.Errorf("%w: medium=%v high=%v", ErrInvalidThresholds, medium, high)
	}
	return ConfidenceRouter{high: high, medium: medium}, nil
}

// RouteDecision is the router's classification outcome.
type RouteDecision struct {
	Type       domain.ResponseType
	Confidence domain.ConfidenceLevel
	// Answer is the candidate text, set only for direct answers.
	Answer string
	// DetectedConditionID/Name identify the foreign condition on a mismatch.
	DetectedConditionID   string
	DetectedConditionName string
}

// Route applies the transition rules in priority order:
//  1. condition_mismatch: foreign condition and score above the high threshold.
//     Carries no confidence level.
//  2. direct_answer: score >= high, condition matches. High confidence.
//  3. clarification: medium <= score < high. Medium confidence.
//  4. llm_fallback: everything else, including the no-candidate case. Low.
//
// A malformed score (NaN, Inf, outside [0,1]) is a programmer error and is
// reported, never clamped.
func (r ConfidenceRouter) Route(candidate *matching.Candidate, activeConditionID string) (RouteDecision, error) {
	if candidate == nil {
		return RouteDecision{Type: domain.ResponseLLMFallback, Confidence: domain.ConfidenceLow}, nil
	}

	score := candidate.Score
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 1 {
		return RouteDecision{}, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	conditionMatches := candidate.ConditionID == activeConditionID

	switch {
	case !conditionMatches && score > r.high:
		return RouteDecision{
			Type:                  domain.ResponseConditionMismatch,
			Confidence:            domain.ConfidenceNone,
			DetectedConditionID:   candidate.ConditionID,
			DetectedConditionName: candidate.ConditionName,
		}, nil
	case conditionMatches && score >= r.high:
		return RouteDecision{
			Type:       domain.ResponseDirectAnswer,
			Confidence: domain.ConfidenceHigh,
			Answer:     candidate.Answer,
		}, nil
	case score >= r.medium && score < r.high:
		return RouteDecision{
			Type:       domain.ResponseClarification,
			Confidence: domain.ConfidenceMedium,
		}, nil
	default:
		return RouteDecision{Type: domain.ResponseLLMFallback, Confidence: domain.ConfidenceLow}, nil
	}
}
