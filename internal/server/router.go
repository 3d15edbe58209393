package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chatpulse/internal/auth"
	"chatpulse/internal/chat"
	"chatpulse/internal/config"
	"chatpulse/internal/realtime"
	"chatpulse/internal/web"
)

// Deps are the long-lived components the HTTP surface is built over.
type Deps struct {
	Store  chat.Store
	Engine *realtime.Engine
	Auth   *auth.Service
	Log    *zap.Logger
}

func New(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(web.RequestID)
	r.Use(web.Logger(d.Log))
	r.Use(web.Recoverer(d.Log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           int((24 * time.Hour).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Mount("/api", newAPI(cfg, d))
	return r
}
