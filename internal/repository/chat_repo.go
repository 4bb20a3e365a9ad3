package repository

import (
	"context"
	"errors"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
)

var (
	// ErrSessionNotFound means the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateSession means a session with that id already exists.
	ErrDuplicateSession = errors.New("session already exists")
	// ErrInvalidInput means a caller handed the store a malformed record.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable means the underlying medium is unreachable or
	// locked. Callers may retry a bounded number of times.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ChatRepository defines the persistence contract for chat sessions and
// messages. The store is single-writer: all mutation goes through one
// process-wide handle, and every multi-step write either fully commits or
// reports an error with no visible side effect.
type ChatRepository interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)

	// AppendMessage inserts one message and bumps the parent session's
	// updated_at within the same transaction. Returns the assigned message id.
	AppendMessage(ctx context.Context, msg domain.Message) (int64, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// AppendTurn records a full user/bot exchange as one atomic unit: both
	// message inserts plus the stats update. The bot message's confidence
	// level decides which tier counter is incremented; a message without a
	// tier increments total_queries only. Returns the stats after the turn.
	AppendTurn(ctx context.Context, sessionID string, userMsg, botMsg domain.Message) (domain.SessionStats, error)

	// The update operations replace the named field wholesale; partial merges
	// are deliberately not supported.
	UpdateStats(ctx context.Context, sessionID string, stats domain.SessionStats) error
	UpdateClinicalData(ctx context.Context, sessionID string, data map[string]string) error
	UpdateEducationalNote(ctx context.Context, sessionID string, note *domain.EducationalNote) error

	// DeleteSession removes the session and all its messages atomically.
	// Reports whether a session existed; deleting a missing session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	Close() error
}
