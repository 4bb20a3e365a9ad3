package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
)

const previewMaxRunes = 50

// SQLiteChatRepository implements ChatRepository on a single SQLite file.
// A process-wide RWMutex serializes writes; readers only ever observe the
// pre- or post-state of an atomic unit. The database file must not be written
// by any other process (single-writer deployment constraint).
type SQLiteChatRepository struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteChatRepository opens (creating if needed) the database at path and
// runs the schema migrations.
func NewSQLiteChatRepository(path string) (*SQLiteChatRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := &SQLiteChatRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return repo, nil
}

func (r *SQLiteChatRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			condition_id TEXT NOT NULL,
			condition_name TEXT NOT NULL,
			clinical_data TEXT,
			educational_note TEXT,
			stats_total_queries INTEGER NOT NULL DEFAULT 0,
			stats_high_confidence INTEGER NOT NULL DEFAULT 0,
			stats_medium_confidence INTEGER NOT NULL DEFAULT 0,
			stats_low_confidence INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence_level TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (r *SQLiteChatRepository) Close() error {
	return r.db.Close()
}

// wrapStorage marks an unexpected driver error as a storage failure so
// callers can apply their retry policy with errors.Is.
func wrapStorage(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func validConfidence(level domain.ConfidenceLevel) bool {
	switch level {
	case domain.ConfidenceNone, domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
		return true
	}
	return false
}

func validateMessage(msg domain.Message) error {
	if msg.SessionID == "" {
		return fmt.Errorf("%w: message without session id", ErrInvalidInput)
	}
	if msg.Role != domain.RoleUser && msg.Role != domain.RoleBot {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, msg.Role)
	}
	if !validConfidence(msg.ConfidenceLevel) {
		return fmt.Errorf("%w: unknown confidence level %q", ErrInvalidInput, msg.ConfidenceLevel)
	}
	if msg.Role == domain.RoleUser && msg.ConfidenceLevel != domain.ConfidenceNone {
		return fmt.Errorf("%w: user message cannot carry a confidence level", ErrInvalidInput)
	}
	return nil
}

func encodeJSONField(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// CreateSession inserts a new session row. The id must be unused; deleted ids
// are never resurrected with residual data because the cascade removed it all.
func (r *SQLiteChatRepository) CreateSession(ctx context.Context, session domain.Session) error {
	if session.ID == "" || session.ConditionID == "" {
		return fmt.Errorf("%w: session requires id and condition id", ErrInvalidInput)
	}
	if !session.Stats.Valid() {
		return fmt.Errorf("%w: inconsistent stats", ErrInvalidInput)
	}

	clinical, err := encodeJSONField(session.ClinicalData, len(session.ClinicalData) == 0)
	if err != nil {
		return err
	}
	note, err := encodeJSONField(session.EducationalNote, session.EducationalNote == nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage(err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, session.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, session.ID)
	}
	if err != sql.ErrNoRows {
		return wrapStorage(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, condition_id, condition_name, clinical_data, educational_note,
			stats_total_queries, stats_high_confidence, stats_medium_confidence, stats_low_confidence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ConditionID, session.ConditionName, clinical, note,
		session.Stats.TotalQueries, session.Stats.HighConfidence,
		session.Stats.MediumConfidence, session.Stats.LowConfidence,
		session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStorage(err)
	}
	return nil
}

// GetSession loads a session and reshapes the flat stats columns into the
// nested aggregate at the store boundary.
func (r *SQLiteChatRepository) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		s              domain.Session
		clinical, note sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, condition_id, condition_name, clinical_data, educational_note,
		       stats_total_queries, stats_high_confidence, stats_medium_confidence, stats_low_confidence,
		       created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&s.ID, &s.ConditionID, &s.ConditionName, &clinical, &note,
		&s.Stats.TotalQueries, &s.Stats.HighConfidence, &s.Stats.MediumConfidence, &s.Stats.LowConfidence,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return domain.Session{}, wrapStorage(err)
	}

	if clinical.Valid {
		if err := json.Unmarshal([]byte(clinical.String), &s.ClinicalData); err != nil {
			return domain.Session{}, wrapStorage(err)
		}
	}
	if note.Valid {
		s.EducationalNote = &domain.EducationalNote{}
		if err := json.Unmarshal([]byte(note.String), s.EducationalNote); err != nil {
			return domain.Session{}, wrapStorage(err)
		}
	}
	return s, nil
}

// ListSessions returns overview rows ordered by recency, newest first.
func (r *SQLiteChatRepository) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_id, s.condition_id, s.condition_name,
		       s.stats_total_queries, s.stats_high_confidence, s.stats_medium_confidence, s.stats_low_confidence,
		       s.created_at, s.updated_at,
		       COUNT(m.message_id) AS message_count
		FROM sessions s
		LEFT JOIN messages m ON s.session_id = m.session_id
		GROUP BY s.session_id
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	summaries := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		if err := rows.Scan(
			&sum.ID, &sum.ConditionID, &sum.ConditionName,
			&sum.Stats.TotalQueries, &sum.Stats.HighConfidence, &sum.Stats.MediumConfidence, &sum.Stats.LowConfidence,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount,
		); err != nil {
			return nil, wrapStorage(err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage(err)
	}

	for i := range summaries {
		preview, err := r.sessionPreview(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		summaries[i].Preview = preview
	}
	return summaries, nil
}

// sessionPreview returns the first user message of a session, truncated.
func (r *SQLiteChatRepository) sessionPreview(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := r.db.QueryRowContext(ctx, `
		SELECT content FROM messages
		WHERE session_id = ? AND role = ?
		ORDER BY created_at ASC, message_id ASC
		LIMIT 1`, sessionID, domain.RoleUser).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapStorage(err)
	}
	if runes := []rune(content); len(runes) > previewMaxRunes {
		return string(runes[:previewMaxRunes]), nil
	}
	return content, nil
}

// AppendMessage inserts one message and bumps the parent's updated_at in the
// same transaction.
func (r *SQLiteChatRepository) AppendMessage(ctx context.Context, msg domain.Message) (int64, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage(err)
	}
	defer tx.Rollback()

	id, err := r.insertMessage(ctx, tx, msg)
	if err != nil {
		return 0, err
	}
	if err := bumpUpdatedAt(ctx, tx, msg.SessionID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapStorage(err)
	}
	return id, nil
}

func (r *SQLiteChatRepository) insertMessage(ctx context.Context, tx *sql.Tx, msg domain.Message) (int64, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, msg.SessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, msg.SessionID)
	}
	if err != nil {
		return 0, wrapStorage(err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var confidence sql.NullString
	if msg.ConfidenceLevel != domain.ConfidenceNone {
		confidence = sql.NullString{String: string(msg.ConfidenceLevel), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, confidence_level, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, confidence, createdAt.UTC())
	if err != nil {
		return 0, wrapStorage(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStorage(err)
	}
	return id, nil
}

func bumpUpdatedAt(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return wrapStorage(err)
	}
	return nil
}

// ListMessages returns all messages of a session, oldest first. A session
// without messages yields an empty slice, not an error.
func (r *SQLiteChatRepository) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, session_id, role, content, confidence_level, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, message_id ASC`, sessionID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg        domain.Message
			confidence sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &confidence, &msg.CreatedAt); err != nil {
			return nil, wrapStorage(err)
		}
		if confidence.Valid {
			msg.ConfidenceLevel = domain.ConfidenceLevel(confidence.String)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage(err)
	}
	return messages, nil
}

// AppendTurn records a routed query as one atomic unit: user message, bot
// message, and the stats increments all commit together. Concurrent turns on
// the same session serialize on the write lock, so counter updates are never
// lost.
func (r *SQLiteChatRepository) AppendTurn(ctx context.Context, sessionID string, userMsg, botMsg domain.Message) (domain.SessionStats, error) {
	userMsg.SessionID = sessionID
	botMsg.SessionID = sessionID
	if err := validateMessage(userMsg); err != nil {
		return domain.SessionStats{}, err
	}
	if err := validateMessage(botMsg); err != nil {
		return domain.SessionStats{}, err
	}
	if userMsg.Role != domain.RoleUser || botMsg.Role != domain.RoleBot {
		return domain.SessionStats{}, fmt.Errorf("%w: a turn is one user message followed by one bot message", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionStats{}, wrapStorage(err)
	}
	defer tx.Rollback()

	if _, err := r.insertMessage(ctx, tx, userMsg); err != nil {
		return domain.SessionStats{}, err
	}
	if _, err := r.insertMessage(ctx, tx, botMsg); err != nil {
		return domain.SessionStats{}, err
	}

	update := `UPDATE sessions SET stats_total_queries = stats_total_queries + 1, updated_at = ?`
	switch botMsg.ConfidenceLevel {
	case domain.ConfidenceHigh:
		update += `, stats_high_confidence = stats_high_confidence + 1`
	case domain.ConfidenceMedium:
		update += `, stats_medium_confidence = stats_medium_confidence + 1`
	case domain.ConfidenceLow:
		update += `, stats_low_confidence = stats_low_confidence + 1`
	}
	update += ` WHERE session_id = ?`
	if _, err := tx.ExecContext(ctx, update, time.Now().UTC(), sessionID); err != nil {
		return domain.SessionStats{}, wrapStorage(err)
	}

	var stats domain.SessionStats
	err = tx.QueryRowContext(ctx, `
		SELECT stats_total_queries, stats_high_confidence, stats_medium_confidence, stats_low_confidence
		FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&stats.TotalQueries, &stats.HighConfidence, &stats.MediumConfidence, &stats.LowConfidence)
	if err != nil {
		return domain.SessionStats{}, wrapStorage(err)
	}

	if err := tx.Commit(); err != nil {
		return domain.SessionStats{}, wrapStorage(err)
	}
	return stats, nil
}

// UpdateStats replaces the stats aggregate wholesale.
func (r *SQLiteChatRepository) UpdateStats(ctx context.Context, sessionID string, stats domain.SessionStats) error {
	if !stats.Valid() {
		return fmt.Errorf("%w: inconsistent stats", ErrInvalidInput)
	}
	return r.updateSession(ctx, sessionID, `
		UPDATE sessions SET stats_total_queries = ?, stats_high_confidence = ?,
		       stats_medium_confidence = ?, stats_low_confidence = ?, updated_at = ?
		WHERE session_id = ?`,
		stats.TotalQueries, stats.HighConfidence, stats.MediumConfidence, stats.LowConfidence)
}

// UpdateClinicalData replaces the clinical data blob wholesale; it is never
// merged with the previous value.
func (r *SQLiteChatRepository) UpdateClinicalData(ctx context.Context, sessionID string, data map[string]string) error {
	encoded, err := encodeJSONField(data, len(data) == 0)
	if err != nil {
		return err
	}
	return r.updateSession(ctx, sessionID,
		`UPDATE sessions SET clinical_data = ?, updated_at = ? WHERE session_id = ?`, encoded)
}

// UpdateEducationalNote replaces the cached note wholesale; nil clears it.
func (r *SQLiteChatRepository) UpdateEducationalNote(ctx context.Context, sessionID string, note *domain.EducationalNote) error {
	encoded, err := encodeJSONField(note, note == nil)
	if err != nil {
		return err
	}
	return r.updateSession(ctx, sessionID,
		`UPDATE sessions SET educational_note = ?, updated_at = ? WHERE session_id = ?`, encoded)
}

// updateSession runs a field update whose final two placeholders are
// updated_at and session_id.
func (r *SQLiteChatRepository) updateSession(ctx context.Context, sessionID, query string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	args = append(args, time.Now().UTC(), sessionID)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapStorage(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// DeleteSession removes a session and all its messages in one transaction.
func (r *SQLiteChatRepository) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapStorage(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return false, wrapStorage(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, wrapStorage(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapStorage(err)
	}
	return affected > 0, nil
}
