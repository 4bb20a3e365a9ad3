package domain

import "time"

const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one turn within a session. Messages are append-only; the store
// assigns ID and it is orderable within the store, not globally unique.
// ConfidenceLevel is set only on bot messages that carry a tier.
type Message struct {
	ID              int64           `json:"message_id"`
	SessionID       string          `json:"session_id"`
	Role            string          `json:"role"`
	Content         string          `json:"content"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
