package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/domain"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/repository"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/service"
)

// ChatHandler holds dependencies for the chat session endpoints.
type ChatHandler struct {
	logger     *zap.Logger
	sessions   *service.SessionService
	chat       *service.ChatService
	notes      *service.NoteService
	conditions *service.ConditionDirectory
}

func NewChatHandler(
	logger *zap.Logger,
	sessions *service.SessionService,
	chat *service.ChatService,
	notes *service.NoteService,
	conditions *service.ConditionDirectory,
) *ChatHandler {
	return &ChatHandler{
		logger:     logger,
		sessions:   sessions,
		chat:       chat,
		notes:      notes,
		conditions: conditions,
	}
}

// writeError maps domain errors to transport status codes.
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, service.ErrUnknownCondition),
		errors.Is(err, service.ErrInvalidScore),
		errors.Is(err, service.ErrSessionInvalidInput),
		errors.Is(err, repository.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicateSession):
		c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many queries, slow down"})
	case errors.Is(err, repository.ErrStorageUnavailable):
		h.logger.Error("storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// StartChat handles POST /api/chat/start.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		ConditionID             string            `json:"condition_id" binding:"required"`
		ClinicalData            map[string]string `json:"clinical_data"`
		GenerateEducationalNote bool              `json:"generate_educational_note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid start chat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conditionName, err := h.conditions.Name(req.ConditionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	session, err := h.sessions.StartSession(c.Request.Context(), req.ConditionID, conditionName, req.ClinicalData, nil)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var note *domain.EducationalNote
	if req.GenerateEducationalNote {
		text, err := h.notes.Generate(c.Request.Context(), conditionName, req.ClinicalData)
		if err != nil {
			// The session is usable without a note; report it as absent.
			h.logger.Warn("educational note skipped", zap.Error(err), zap.String("session_id", session.ID))
		} else {
			note = &domain.EducationalNote{
				ConditionID:   req.ConditionID,
				ConditionName: conditionName,
				Note:          text,
			}
			if err := h.sessions.ReplaceEducationalNote(c.Request.Context(), session.ID, note); err != nil {
				h.writeError(c, err)
				return
			}
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":          true,
		"session_id":       session.ID,
		"condition_id":     session.ConditionID,
		"condition_name":   session.ConditionName,
		"educational_note": note,
	})
}

// Query handles POST /api/chat/query.
func (h *ChatHandler) Query(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Query     string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid query request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.chat.Ask(c.Request.Context(), req.SessionID, req.Query)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                 true,
		"message":                 result.Message,
		"confidence_level":        result.Confidence,
		"response_type":           result.ResponseType,
		"detected_condition_name": result.DetectedConditionName,
		"stats":                   result.Stats,
	})
}

// History handles GET /api/chat/history/:session_id.
func (h *ChatHandler) History(c *gin.Context) {
	full, err := h.sessions.FullSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": full})
}

// ListSessions handles GET /api/chat/sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	summaries, err := h.sessions.Overview(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": summaries})
}

// EducationalNote handles POST /api/chat/educational-note.
func (h *ChatHandler) EducationalNote(c *gin.Context) {
	var req struct {
		ConditionID  string            `json:"condition_id" binding:"required"`
		ClinicalData map[string]string `json:"clinical_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid educational note request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conditionName, err := h.conditions.Name(req.ConditionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	text, err := h.notes.Generate(c.Request.Context(), conditionName, req.ClinicalData)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"condition_id":   req.ConditionID,
		"condition_name": conditionName,
		"note":           text,
	})
}

// UpdateClinicalData handles POST /api/chat/update-clinical-data.
func (h *ChatHandler) UpdateClinicalData(c *gin.Context) {
	var req struct {
		SessionID    string            `json:"session_id" binding:"required"`
		ClinicalData map[string]string `json:"clinical_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid clinical data request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.sessions.ReplaceClinicalData(c.Request.Context(), req.SessionID, req.ClinicalData); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"session_id":    req.SessionID,
		"clinical_data": req.ClinicalData,
	})
}

// Stats handles GET /api/stats/:session_id.
func (h *ChatHandler) Stats(c *gin.Context) {
	sessionID := c.Param("session_id")
	stats, err := h.sessions.Stats(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID, "stats": stats})
}

// DeleteSession handles DELETE /api/chat/session/:session_id.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	existed, err := h.sessions.RemoveSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session deleted"})
}

// Conditions handles GET /api/conditions.
func (h *ChatHandler) Conditions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "conditions": h.conditions.All()})
}

// Health handles GET /api/health.
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
