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

	"github.com/google/uuid"

	"studyplan-backend/internal/config"
	"studyplan-backend/internal/database"
	"studyplan-backend/internal/handlers"
	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
	"studyplan-backend/internal/router"
	"studyplan-backend/internal/services"
	"studyplan-backend/internal/websocket"
	"studyplan-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting StudyPlan Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	planRepo := repository.NewPlanRepo(pool)
	recordRepo := repository.NewStudyRecordRepo(pool)
	timerRepo := repository.NewTimerRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth)
	progressService := services.NewProgressService(planRepo, recordRepo)
	events := services.NewRedisEventPublisher(redisClients.Queue)

	// The pause hook finalizes the in-flight record's duration one last time
	// before dependent logic reads it.
	pauseHook := func(ctx context.Context, userID uuid.UUID, key models.TimerKey, elapsedSeconds int) {
		state, err := timerRepo.Get(ctx, userID, key)
		if err != nil || state.SessionID == nil || *state.SessionID == "" {
			return
		}
		if err := recordRepo.UpdateDurationBySession(ctx, userID, *state.SessionID, elapsedSeconds); err != nil {
			log.Printf("pause hook: failed to finalize record for session %s: %v", *state.SessionID, err)
		}
	}

	timerEngine := services.NewTimerEngine(timerRepo, recordRepo, planRepo, events, pauseHook)
	if err := timerEngine.Resume(context.Background()); err != nil {
		log.Printf("✗ Timer resume failed (continuing): %v", err)
	}
	timerEngine.Start()
	log.Println("✓ Timer engine started")

	reviewScheduler := services.NewReviewScheduler(recordRepo, events)
	reviewScheduler.Start()
	log.Println("✓ Review scheduler started")

	// ──── Step 5: Start Cascade Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, recordRepo, timerRepo, cfg.CascadeWorkers)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.CascadeWorkers)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService, timerEngine)
	planHandler := handlers.NewPlanHandler(planRepo, progressService, redisClients.Queue)
	progressHandler := handlers.NewProgressHandler(progressService)
	recordHandler := handlers.NewStudyRecordHandler(recordRepo, planRepo)
	timerHandler := handlers.NewTimerHandler(timerEngine)
	reviewHandler := handlers.NewReviewHandler(recordRepo, reviewScheduler)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		authHandler,
		planHandler,
		progressHandler,
		recordHandler,
		timerHandler,
		reviewHandler,
		wsHub,
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
		reviewScheduler.Stop()
		workerPool.Stop()
		timerEngine.Stop() // final checkpoint flush

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ StudyPlan Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
