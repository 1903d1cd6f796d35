package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studyplan-backend/internal/handlers"
	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	planHandler *handlers.PlanHandler,
	progressHandler *handlers.ProgressHandler,
	recordHandler *handlers.StudyRecordHandler,
	timerHandler *handlers.TimerHandler,
	reviewHandler *handlers.ReviewHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			// Logout requires auth: it also pauses the user's timers
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── Plan Routes ────
		r.Route("/plans", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", planHandler.Create)
			r.Get("/", planHandler.List)
			r.Put("/reorder", planHandler.Reorder)
			r.Get("/{id}", planHandler.Get)
			r.Put("/{id}", planHandler.Update)
			r.Delete("/{id}", planHandler.Delete)

			r.Get("/{id}/stats", progressHandler.GetPlanStats)
			r.Get("/{id}/records", recordHandler.ListByPlan)

			r.Route("/{id}/disciplines", func(r chi.Router) {
				r.Post("/", planHandler.AddDiscipline)
				r.Put("/{disciplineId}", planHandler.UpdateDiscipline)
				r.Delete("/{disciplineId}", planHandler.RemoveDiscipline)
				r.Get("/{disciplineId}/stats", progressHandler.GetDisciplineStats)
				r.Get("/{disciplineId}/records", recordHandler.ListByDiscipline)
			})
		})

		// ──── Study Record Routes ────
		r.Route("/study-records", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", recordHandler.Append)
		})

		// ──── Timer Routes ────
		r.Route("/timer", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/start", timerHandler.Start)
			r.Post("/pause", timerHandler.Pause)
			r.Post("/reset", timerHandler.Reset)
			r.Post("/remove", timerHandler.Remove)
			r.Post("/pause-all", timerHandler.PauseAll)
			r.Get("/active", timerHandler.GetActive)
		})

		// ──── Review Routes ────
		r.Route("/reviews", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/schedules", reviewHandler.ListSchedules)
			r.Get("/alarms", reviewHandler.GetDueAlarms)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
