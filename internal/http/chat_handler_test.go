package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/llm"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/matching"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/repository"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/service"
)

type staticMatcher struct {
	candidate *matching.Candidate
}

func (m *staticMatcher) BestMatch(context.Context, string, string) (*matching.Candidate, error) {
	return m.candidate, nil
}

type testEnv struct {
	router  *gin.Engine
	llm     *llm.MockClient
	matcher *staticMatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := repository.NewSQLiteChatRepository(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := zap.NewNop()
	confRouter, err := service.NewConfidenceRouter(0.8, 0.5)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	mockLLM := &llm.MockClient{Response: "generated text"}
	matcher := &staticMatcher{}

	sessions := service.NewSessionService(logger, repo)
	chat := service.NewChatService(logger, sessions, confRouter, matcher, mockLLM, nil)
	notes := service.NewNoteService(logger, mockLLM)
	conditions := service.NewConditionDirectory(nil)

	handler := NewChatHandler(logger, sessions, chat, notes, conditions)
	return &testEnv{
		router:  NewRouter(logger, handler),
		llm:     mockLLM,
		matcher: matcher,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) startSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/chat/start", map[string]any{
		"condition_id":  "cond_asthma",
		"clinical_data": map[string]string{"age": "40"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start chat: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("missing session id in %s", w.Body.String())
	}
	return resp.SessionID
}

func TestStartChat(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/chat/start", map[string]any{"condition_id": "cond_asthma"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success       bool   `json:"success"`
		SessionID     string `json:"session_id"`
		ConditionName string `json:"condition_name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.SessionID == "" || resp.ConditionName != "Asthma" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestStartChatUnknownCondition(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/chat/start", map[string]any{"condition_id": "cond_unknown"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestStartChatMissingBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/chat/start", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestStartChatWithEducationalNote(t *testing.T) {
	env := newTestEnv(t)
	env.llm.Response = "Personalized asthma note."

	w := env.do(t, http.MethodPost, "/api/chat/start", map[string]any{
		"condition_id":              "cond_asthma",
		"generate_educational_note": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		EducationalNote *struct {
			Note string `json:"note"`
		} `json:"educational_note"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EducationalNote == nil || resp.EducationalNote.Note != "Personalized asthma note." {
		t.Fatalf("note missing: %s", w.Body.String())
	}
}

func TestQueryDirectAnswer(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)
	env.matcher.candidate = &matching.Candidate{
		Answer:      "Asthma narrows the airways.",
		ConditionID: "cond_asthma",
		Score:       0.9,
	}

	w := env.do(t, http.MethodPost, "/api/chat/query", map[string]any{
		"session_id": sessionID,
		"query":      "what is asthma?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success         bool   `json:"success"`
		Message         string `json:"message"`
		ResponseType    string `json:"response_type"`
		ConfidenceLevel string `json:"confidence_level"`
		Stats           struct {
			TotalQueries   int `json:"total_queries"`
			HighConfidence int `json:"high_confidence"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ResponseType != "direct_answer" || resp.ConfidenceLevel != "high" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
	if resp.Message != "Asthma narrows the airways." {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
	if resp.Stats.TotalQueries != 1 || resp.Stats.HighConfidence != 1 {
		t.Fatalf("stats wrong: %+v", resp.Stats)
	}
}

func TestQueryFallback(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)

	w := env.do(t, http.MethodPost, "/api/chat/query", map[string]any{
		"session_id": sessionID,
		"query":      "something obscure",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ResponseType string `json:"response_type"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ResponseType != "llm_fallback" || resp.Message != "generated text" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestQueryUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/chat/query", map[string]any{
		"session_id": "missing",
		"query":      "q",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)
	if w := env.do(t, http.MethodPost, "/api/chat/query", map[string]any{
		"session_id": sessionID,
		"query":      "q",
	}); w.Code != http.StatusOK {
		t.Fatalf("query: status %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/chat/history/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Session struct {
			SessionID string `json:"session_id"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Session.SessionID != sessionID || len(resp.Session.Messages) != 2 {
		t.Fatalf("unexpected history: %s", w.Body.String())
	}
	if resp.Session.Messages[0].Role != "user" || resp.Session.Messages[1].Role != "bot" {
		t.Fatalf("history roles wrong: %s", w.Body.String())
	}
}

func TestHistoryNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/chat/history/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.startSession(t)

	w := env.do(t, http.MethodGet, "/api/chat/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(resp.Sessions))
	}
}

func TestEducationalNoteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.llm.Response = "Standalone note."

	w := env.do(t, http.MethodPost, "/api/chat/educational-note", map[string]any{
		"condition_id":  "cond_asthma",
		"clinical_data": map[string]string{"age": "40"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Note          string `json:"note"`
		ConditionName string `json:"condition_name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Note != "Standalone note." || resp.ConditionName != "Asthma" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestUpdateClinicalData(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)

	w := env.do(t, http.MethodPost, "/api/chat/update-clinical-data", map[string]any{
		"session_id":    sessionID,
		"clinical_data": map[string]string{"hba1c": "7.2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	// Confirm the replacement through the history endpoint.
	h := env.do(t, http.MethodGet, "/api/chat/history/"+sessionID, nil)
	var resp struct {
		Session struct {
			ClinicalData map[string]string `json:"clinical_data"`
		} `json:"session"`
	}
	if err := json.Unmarshal(h.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Session.ClinicalData) != 1 || resp.Session.ClinicalData["hba1c"] != "7.2" {
		t.Fatalf("clinical data not replaced: %v", resp.Session.ClinicalData)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)
	if w := env.do(t, http.MethodPost, "/api/chat/query", map[string]any{
		"session_id": sessionID,
		"query":      "q",
	}); w.Code != http.StatusOK {
		t.Fatalf("query: status %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/stats/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Stats struct {
			TotalQueries  int `json:"total_queries"`
			LowConfidence int `json:"low_confidence"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stats.TotalQueries != 1 || resp.Stats.LowConfidence != 1 {
		t.Fatalf("stats wrong: %s", w.Body.String())
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.startSession(t)

	w := env.do(t, http.MethodDelete, "/api/chat/session/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodDelete, "/api/chat/session/"+sessionID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d body %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/chat/history/"+sessionID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("history after delete: status %d", w.Code)
	}
}

func TestConditionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/conditions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Conditions map[string]string `json:"conditions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Conditions["cond_asthma"] != "Asthma" {
		t.Fatalf("conditions missing defaults: %v", resp.Conditions)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}
