package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/m451h/ehr-nlp-llm-chatbot/internal/config"
	apihttp "github.com/m451h/ehr-nlp-llm-chatbot/internal/http"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/llm"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/matching"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/repository"
	"github.com/m451h/ehr-nlp-llm-chatbot/internal/service"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	chatRepo, err := repository.NewSQLiteChatRepository(cfg.ChatDBPath)
	if err != nil {
		logger.Fatal("chat store open", zap.Error(err))
	}
	defer chatRepo.Close()

	router, err := service.NewConfidenceRouter(cfg.HighConfidenceThreshold, cfg.MediumConfidenceThreshold)
	if err != nil {
		logger.Fatal("confidence thresholds", zap.Error(err))
	}

	matcher := matching.Disabled()
	if cfg.MatcherBaseURL != "" {
		matcher = matching.NewHTTPMatcher(cfg.MatcherBaseURL)
	} else {
		logger.Warn("matcher not configured, every query will take the fallback path")
	}

	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, logger)

	rateWindow := time.Duration(cfg.QueryRateWindowSeconds) * time.Second
	var limiter service.QueryRateLimiter = service.NewQueryRateLimiter(rateWindow, cfg.QueryRateMax)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory rate limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisQueryRateLimiter(redisClient, rateWindow, cfg.QueryRateMax)
		}
		cancel()
	}

	conditions := service.NewConditionDirectory(nil)
	if cfg.ConditionsPath != "" {
		loaded, err := service.LoadConditionDirectory(cfg.ConditionsPath)
		if err != nil {
			logger.Warn("conditions file load failed, using built-in set", zap.Error(err))
		} else {
			conditions = loaded
		}
	}

	sessionSvc := service.NewSessionService(logger, chatRepo)
	chatSvc := service.NewChatService(logger, sessionSvc, router, matcher, llmClient, limiter)
	noteSvc := service.NewNoteService(logger, llmClient)

	chatHandler := apihttp.NewChatHandler(logger, sessionSvc, chatSvc, noteSvc, conditions)
	engine := apihttp.NewRouter(logger, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
