package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"jigaku-backend/internal/config"
	"jigaku-backend/internal/database"
	"jigaku-backend/internal/handlers"
	"jigaku-backend/internal/logging"
	"jigaku-backend/internal/metrics"
	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/models"
	"jigaku-backend/internal/presence"
	"jigaku-backend/internal/repository"
	"jigaku-backend/internal/roster"
	"jigaku-backend/internal/router"
	"jigaku-backend/internal/services"
	"jigaku-backend/internal/timer"
	"jigaku-backend/internal/websocket"
	"jigaku-backend/internal/worker"
	"jigaku-backend/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	log.Info("🚀 Starting Jigaku Backend...")
	log.Info("✓ Environment variables loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Info("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Info("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, migrations.Files, logger); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Info("✓ Database migrations applied")

	// ──── Metrics ────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	studySessionRepo := repository.NewStudySessionRepo(pool)
	statusStore := presence.NewStore(redisClients.Store)

	// ──── Step 5: Initialize Roster Cache ────
	presenceFeed := presence.NewFeed(redisClients.PubSub, statusStore, logger.Named("presence"))
	rosterCache := roster.New(
		roster.NewStore(userRepo, statusStore),
		roster.PresenceFeedFunc(func(ctx context.Context) (roster.PresenceStream, error) {
			sub, err := presenceFeed.Subscribe(ctx)
			if err != nil {
				return nil, err
			}
			return sub, nil
		}),
		roster.Options{
			ValidityWindow: cfg.Tuning.RosterValidityWindow,
			Logger:         logger.Named("roster"),
			Metrics:        m,
		},
	)
	defer rosterCache.Close()
	log.Infof("✓ Roster cache ready (validity window %s)", cfg.Tuning.RosterValidityWindow)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, redisClients.Store, jwtAuth, statusStore, cfg.GoogleClientID, logger.Named("auth"))
	sessionService := services.NewSessionService(studySessionRepo)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(rosterCache, jwtAuth, logger.Named("ws"), m)
	log.Info("✓ WebSocket hub started")

	// ──── Step 7: Start Session Worker Pool ────
	sessionQueue := worker.NewQueue(redisClients.Store, cfg.Tuning.WorkerMaxRetries)
	workerPool := worker.NewPool(redisClients.Store, sessionService, worker.Options{
		Workers: cfg.Tuning.WorkerCount,
		OnRecorded: func(ctx context.Context, s *models.StudySession, total int64) {
			if wsHub.Viewers() == 0 {
				return
			}
			if err := rosterCache.ForceRefresh(ctx, true); err != nil {
				logger.Warn("leaderboard refresh after session failed", zap.Error(err))
			}
		},
		Logger:  logger.Named("worker"),
		Metrics: m,
	})
	workerPool.Start(ctx)
	log.Infof("✓ Worker pool started (%d goroutines)", cfg.Tuning.WorkerCount)

	// ──── Step 8: Start Study Timers ────
	timers := timer.NewManager(&timerHooks{
		statuses: statusStore,
		queue:    sessionQueue,
		logger:   logger.Named("timer"),
	}, timer.Options{
		DefaultMinutes: cfg.Tuning.TimerDefaultMinutes,
		Tick:           cfg.Tuning.TimerTick,
		Logger:         logger.Named("timer"),
		Metrics:        m,
	})
	log.Infof("✓ Study timers ready (default %d min)", cfg.Tuning.TimerDefaultMinutes)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	timerHandler := handlers.NewTimerHandler(timers)
	statusHandler := handlers.NewStatusHandler(statusStore)
	leaderboardHandler := handlers.NewLeaderboardHandler(rosterCache)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pool.Ping,
		"redis": func(ctx context.Context) error {
			return redisClients.Store.Ping(ctx).Err()
		},
	})

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(ctx, 10, time.Minute)

	// ──── Step 9: Start HTTP Server ────
	r := router.New(
		logger.Named("http"),
		jwtAuth,
		authLimiter,
		authHandler,
		sessionHandler,
		timerHandler,
		statusHandler,
		leaderboardHandler,
		healthHandler,
		wsHub,
		registry,
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
		<-ctx.Done()

		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP shutdown: %v", err)
		}
	}()

	log.Infof("✓ Jigaku Backend ready on http://localhost:%s", cfg.Port)
	log.Infof("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Infof("  WS:  ws://localhost:%s/api/v1/ws/leaderboard", cfg.Port)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	// Timers first so the final "not studying" writes reach Redis.
	timers.Close()
	wsHub.Close()
	workerPool.Stop()
}
