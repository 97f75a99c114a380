package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"classpulse-backend/internal/handlers"
	"classpulse-backend/internal/metrics"
	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	sessionHandler *handlers.SessionHandler,
	teacherHandler *handlers.TeacherHandler,
	wsHub *websocket.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(frontendURL))

	// Join rate limiter (30 req/min per IP; a full class joins from one NAT)
	joinLimiter := middleware.NewRateLimiter(30, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		r.Route("/sessions", func(r chi.Router) {

			// ──── Join (public) ────
			r.Group(func(r chi.Router) {
				r.Use(joinLimiter.Middleware)
				r.Post("/join", sessionHandler.Join)
			})

			// ──── Student Routes ────
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Use(middleware.RequireStudent)
				r.Post("/submit", sessionHandler.Submit)
				r.Get("/me", sessionHandler.Me)
				r.Post("/next-step", sessionHandler.SelectNextStep)
			})

			// ──── Teacher Routes ────
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Use(middleware.RequireTeacher)
				r.Get("/{id}", teacherHandler.GetSession)
				r.Post("/{id}/feedback/generate", teacherHandler.GenerateFeedback)
				r.Post("/{id}/students/{studentID}/approve", teacherHandler.ApproveFeedback)
				r.Patch("/{id}/students/{studentID}/feedback", teacherHandler.UpdateFeedback)
				r.Delete("/{id}/students/{studentID}", teacherHandler.RemoveStudent)
				r.Post("/{id}/persist", teacherHandler.Persist)
			})
		})

		// ──── Quota ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(middleware.RequireTeacher)
			r.Get("/quota", teacherHandler.Quota)
		})

		// ──── WebSocket ────
		// Auth happens inside the handler; browsers cannot set headers on an
		// upgrade request.
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
