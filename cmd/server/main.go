package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classpulse-backend/internal/config"
	"classpulse-backend/internal/database"
	"classpulse-backend/internal/events"
	"classpulse-backend/internal/handlers"
	"classpulse-backend/internal/logger"
	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/repository"
	"classpulse-backend/internal/router"
	"classpulse-backend/internal/services"
	"classpulse-backend/internal/store"
	"classpulse-backend/internal/websocket"
)

func main() {
	log.Println("🚀 Starting ClassPulse Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("✗ Configuration failed: %v", err)
	}
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Build Logger ────
	zlog, err := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("✗ Logger initialization failed: %v", err)
	}
	defer zlog.Sync()
	log.Println("✓ Logger ready")

	// ──── Step 3: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 4: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 5: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	taskRepo := repository.NewTaskRepo(pool)
	teacherRepo := repository.NewTeacherRepo(pool)
	quotaRepo := repository.NewQuotaRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)
	snapshotRepo := repository.NewSnapshotRepo(pool)

	// ──── Step 6: Initialize Gemini Generator ────
	generator, err := services.NewGeminiGenerator(
		cfg.GeminiAPIKey,
		cfg.GeminiModel,
		cfg.GeminiConcurrentReqs,
		zlog,
	)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer generator.Close()
	log.Println("✓ Gemini Flash client initialized")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	validate := services.NewValidator()
	m := metrics.New()

	liveStore := store.NewLiveStore(store.NewExpiringStore(redisClients.Store), cfg.SessionTTL)
	publisher := events.NewPublisher(redisClients.Store, zlog)
	mirror := services.NewMirror(snapshotRepo, zlog)

	quotaService := services.NewQuotaService(teacherRepo, quotaRepo, auditRepo, cfg.QuotaLimits, zlog)
	sessionService := services.NewSessionService(
		liveStore,
		taskRepo,
		jwtAuth,
		cfg.StudentTokenTTL,
		services.NewLexicalDetector(),
		publisher,
		mirror,
		validate,
		zlog,
	)
	feedbackService := services.NewFeedbackService(
		liveStore,
		taskRepo,
		quotaService,
		generator,
		publisher,
		mirror,
		m,
		validate,
		cfg.GenerationTimeout,
		zlog,
	)
	persistService := services.NewPersistService(liveStore, snapshotRepo, publisher, zlog)

	// ──── Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(sessionService)
	teacherHandler := handlers.NewTeacherHandler(sessionService, feedbackService, persistService, quotaService)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, liveStore, m, zlog)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		sessionHandler,
		teacherHandler,
		wsHub,
		m,
		zlog,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ ClassPulse Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
