package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/cache"
	cacheRedis "github.com/diewoo/doctor-capybara-sub000/internal/cache/redis"
	"github.com/diewoo/doctor-capybara-sub000/internal/config"
	"github.com/diewoo/doctor-capybara-sub000/internal/db/postgres"
	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/embedding"
	logpkg "github.com/diewoo/doctor-capybara-sub000/internal/logger"
	"github.com/diewoo/doctor-capybara-sub000/internal/metrics"
	docsrepo "github.com/diewoo/doctor-capybara-sub000/internal/repository/docs"
	patientrepo "github.com/diewoo/doctor-capybara-sub000/internal/repository/patient"
	chiTransport "github.com/diewoo/doctor-capybara-sub000/internal/transport/chi"
	openaiTransport "github.com/diewoo/doctor-capybara-sub000/internal/transport/openai"
	conversationuc "github.com/diewoo/doctor-capybara-sub000/internal/usecase/conversation"
	healthuc "github.com/diewoo/doctor-capybara-sub000/internal/usecase/health"
	retrievaluc "github.com/diewoo/doctor-capybara-sub000/internal/usecase/retrieval"
	"github.com/diewoo/doctor-capybara-sub000/internal/version"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg := config.MustLoad(env)

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting capybara API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	ctx := context.Background()

	// Document store. The server still runs without it; chat just loses
	// retrieval context.
	var pool *postgres.Pool
	if cfg.Database.URL != "" {
		pool, err = postgres.New(ctx, postgres.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Fatal("Failed to create database pool", zap.Error(err))
		}
		defer pool.Close()

		readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := pool.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")
	} else {
		logger.Warn("No database configured, retrieval disabled")
	}

	// Embedding cache, optional.
	var kv cache.KV
	if len(cfg.Cache.Addrs) > 0 {
		store, err := cacheRedis.NewStore(cacheRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache client", zap.Error(err))
		}
		defer store.Close()
		kv = store
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	metrics.RegisterAppMetrics()

	// Base embedder is shared between the worker factory and the health check.
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "gemini",
		Logger:     logger,
	})

	cacheTTL := time.Duration(cfg.Cache.TTLSec) * time.Second
	factory := func() (domain.Embedder, error) {
		var e domain.Embedder = baseEmbedder
		if kv != nil {
			e = embedding.NewCached(e, kv, cacheTTL, metrics.EmbeddingCacheTotal, logger)
		}
		return e, nil
	}
	provider := embedding.NewProvider(factory, cfg.Embedding.Dimensions, logger)
	defer provider.Close()

	fallback := embedding.NewHashEmbedder(cfg.Embedding.Dimensions)

	chatClient := openaiTransport.NewChatClient(&openaiTransport.ChatConfig{
		APIKey:  cfg.Chat.APIKey,
		BaseURL: cfg.Chat.BaseURL,
		Model:   cfg.Chat.Model,
		Logger:  logger,
	})

	var retriever conversationuc.Retriever
	var dbPinger healthuc.DBPinger
	if pool != nil {
		repo := docsrepo.New(pool)
		retriever = retrievaluc.New(repo, provider, fallback, cfg.Retrieval)
		dbPinger = pool
	}

	patients := patientrepo.NewMemoryStore()
	convSvc := conversationuc.NewService(patients, chatClient, retriever, cfg.Chat, cfg.Retrieval.TopK, logger)

	var cachePinger healthuc.CachePinger
	if kv != nil {
		cachePinger = kv
	}
	healthSvc := healthuc.New(dbPinger, cachePinger, baseEmbedder)

	server := chiTransport.NewServer(convSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request.
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
