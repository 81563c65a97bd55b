package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jigaku-backend/internal/handlers"
	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/websocket"
)

func New(
	logger *zap.Logger,
	jwtAuth *middleware.JWTAuth,
	authLimiter *middleware.RateLimiter,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	timerHandler *handlers.TimerHandler,
	statusHandler *handlers.StatusHandler,
	leaderboardHandler *handlers.LeaderboardHandler,
	healthHandler *handlers.HealthHandler,
	wsHub *websocket.Hub,
	gatherer prometheus.Gatherer,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/google", authHandler.Google)

			// Logout requires auth
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── User Routes ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", authHandler.Me)
		})

		// ──── Study Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", sessionHandler.Create)
			r.Get("/", sessionHandler.List)
			r.Get("/total", sessionHandler.Total)
		})

		// ──── Timer Routes ────
		r.Route("/timer", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", timerHandler.Get)
			r.Put("/duration", timerHandler.SetDuration)
			r.Post("/start", timerHandler.Start)
			r.Post("/stop", timerHandler.Stop)
			r.Post("/finish", timerHandler.Finish)
			r.Post("/reset", timerHandler.Reset)
		})

		// ──── Study Status Routes ────
		r.Route("/status", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", statusHandler.List)
			r.Put("/me", statusHandler.SetMine)
			r.Get("/{userID}", statusHandler.Get)
		})

		// ──── Leaderboard Routes ────
		r.Route("/leaderboard", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", leaderboardHandler.Get)
			r.Post("/refresh", leaderboardHandler.Refresh)
		})

		// ──── WebSocket ────
		r.Get("/ws/leaderboard", wsHub.HandleWebSocket)
	})

	return r
}
