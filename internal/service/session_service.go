package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/repository"
)

var (
	ErrSessionServiceNotConfigured = errors.New("session service not configured")
	ErrSessionInvalidInput         = errors.New("session invalid input")
)

const storageRetries = 3

// SessionService owns the session lifecycle and is the only caller of the
// chat repository. Storage outages are retried a bounded number of times with
// backoff before being surfaced.
type SessionService struct {
	logger     *zap.Logger
	repo       repository.ChatRepository
	retryDelay time.Duration
}

func NewSessionService(logger *zap.Logger, repo repository.ChatRepository) *SessionService {
	return &SessionService{
		logger:     logger,
		repo:       repo,
		retryDelay: 100 * time.Millisecond,
	}
}

// StartSession creates a fresh session for a condition. An id collision is
// retried once with a new id before giving up.
func (s *SessionService) StartSession(ctx context.Context, conditionID, conditionName string, clinicalData map[string]string, note *domain.EducationalNote) (domain.Session, error) {
	if s == nil || s.repo == nil {
		return domain.Session{}, ErrSessionServiceNotConfigured
	}
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return domain.Session{}, fmt.Errorf("%w: condition id required", ErrSessionInvalidInput)
	}

	for attempt := 0; ; attempt++ {
		now := time.Now().UTC()
		session := domain.Session{
			ID:              uuid.NewString(),
			ConditionID:     conditionID,
			ConditionName:   conditionName,
			ClinicalData:    clinicalData,
			EducationalNote: note,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		err := s.withRetry(ctx, func() error {
			return s.repo.CreateSession(ctx, session)
		})
		if err == nil {
			s.logger.Info("session started",
				zap.String("session_id", session.ID),
				zap.String("condition_id", conditionID))
			return session, nil
		}
		if errors.Is(err, repository.ErrDuplicateSession) && attempt == 0 {
			s.logger.Warn("session id collision, regenerating", zap.String("session_id", session.ID))
			continue
		}
		return domain.Session{}, err
	}
}

// RecordTurn persists one routed query: the user message, the bot message
// with its tier, and the stats bookkeeping, as one atomic unit. A confidence
// of ConfidenceNone records a turn that counts toward the total only.
func (s *SessionService) RecordTurn(ctx context.Context, sessionID, userText, botText string, confidence domain.ConfidenceLevel) (domain.SessionStats, error) {
	if s == nil || s.repo == nil {
		return domain.SessionStats{}, ErrSessionServiceNotConfigured
	}

	now := time.Now().UTC()
	userMsg := domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   userText,
		CreatedAt: now,
	}
	botMsg := domain.Message{
		SessionID:       sessionID,
		Role:            domain.RoleBot,
		Content:         botText,
		ConfidenceLevel: confidence,
		CreatedAt:       now,
	}

	var stats domain.SessionStats
	err := s.withRetry(ctx, func() error {
		var err error
		stats, err = s.repo.AppendTurn(ctx, sessionID, userMsg, botMsg)
		return err
	})
	if err != nil {
		return domain.SessionStats{}, err
	}
	return stats, nil
}

// FullSession combines the session record with its ordered transcript.
type FullSession struct {
	domain.Session
	Messages []domain.Message `json:"messages"`
}

func (s *SessionService) FullSession(ctx context.Context, sessionID string) (FullSession, error) {
	if s == nil || s.repo == nil {
		return FullSession{}, ErrSessionServiceNotConfigured
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return FullSession{}, err
	}
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return FullSession{}, err
	}
	return FullSession{Session: session, Messages: messages}, nil
}

// Stats returns the current statistics aggregate of a session.
func (s *SessionService) Stats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	if s == nil || s.repo == nil {
		return domain.SessionStats{}, ErrSessionServiceNotConfigured
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionStats{}, err
	}
	return session.Stats, nil
}

// Overview lists session summaries ordered by recency.
func (s *SessionService) Overview(ctx context.Context) ([]domain.SessionSummary, error) {
	if s == nil || s.repo == nil {
		return nil, ErrSessionServiceNotConfigured
	}
	return s.repo.ListSessions(ctx)
}

// RemoveSession deletes a session and its messages. Reports whether one existed.
func (s *SessionService) RemoveSession(ctx context.Context, sessionID string) (bool, error) {
	if s == nil || s.repo == nil {
		return false, ErrSessionServiceNotConfigured
	}
	existed, err := s.withRetryBool(ctx, func() (bool, error) {
		return s.repo.DeleteSession(ctx, sessionID)
	})
	if err == nil && existed {
		s.logger.Info("session removed", zap.String("session_id", sessionID))
	}
	return existed, err
}

// ReplaceClinicalData swaps the clinical data blob wholesale.
func (s *SessionService) ReplaceClinicalData(ctx context.Context, sessionID string, data map[string]string) error {
	if s == nil || s.repo == nil {
		return ErrSessionServiceNotConfigured
	}
	return s.withRetry(ctx, func() error {
		return s.repo.UpdateClinicalData(ctx, sessionID, data)
	})
}

// ReplaceEducationalNote swaps the cached note wholesale.
func (s *SessionService) ReplaceEducationalNote(ctx context.Context, sessionID string, note *domain.EducationalNote) error {
	if s == nil || s.repo == nil {
		return ErrSessionServiceNotConfigured
	}
	return s.withRetry(ctx, func() error {
		return s.repo.UpdateEducationalNote(ctx, sessionID, note)
	})
}

// withRetry retries fn on storage outages only, with doubling backoff.
func (s *SessionService) withRetry(ctx context.Context, fn func() error) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; attempt <= storageRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, repository.ErrStorageUnavailable) {
			return err
		}
		if attempt == storageRetries {
			break
		}
		s.logger.Warn("storage unavailable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (s *SessionService) withRetryBool(ctx context.Context, fn func() (bool, error)) (bool, error) {
	var out bool
	err := s.withRetry(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
