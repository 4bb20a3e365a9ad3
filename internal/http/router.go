package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the Gin router with middlewares and the chat API routes.
func NewRouter(logger *zap.Logger, chatH *ChatHandler) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware())

	api := r.Group("/api")
	api.GET("/health", chatH.Health)
	api.GET("/conditions", chatH.Conditions)
	api.GET("/stats/:session_id", chatH.Stats)

	chat := api.Group("/chat")
	chat.POST("/start", chatH.StartChat)
	chat.POST("/query", chatH.Query)
	chat.GET("/history/:session_id", chatH.History)
	chat.GET("/sessions", chatH.ListSessions)
	chat.POST("/educational-note", chatH.EducationalNote)
	chat.POST("/update-clinical-data", chatH.UpdateClinicalData)
	chat.DELETE("/session/:session_id", chatH.DeleteSession)

	return r
}

// zapLoggerMiddleware logs one line per request with zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware allows browser frontends on any origin to call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
