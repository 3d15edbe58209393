package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatpulse/internal/chat"
	"chatpulse/internal/config"
	"chatpulse/internal/realtime"
)

func newAPI(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// the websocket handler authenticates the upgrade itself
	r.Method(http.MethodGet, "/ws", realtime.NewHandler(d.Engine, d.Auth, realtime.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Conn: realtime.ConnOptions{
			SendBuffer:      cfg.WSSendBuffer,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			WriteTimeout:    cfg.WSWriteTimeout,
			PongTimeout:     cfg.WSPongTimeout,
		},
	}, d.Log))

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.JWTMiddleware)

		ch := chat.NewService(d.Store, d.Engine, d.Log)
		r.Get("/presence", ch.Presence)

		r.Get("/messages/{peerId}", ch.DirectHistory)
		r.Post("/messages/{receiverId}", ch.SendDirect)

		r.Get("/groups", ch.ListGroups)
		r.Post("/groups", ch.CreateGroup)
		r.Put("/groups/{id}", ch.UpdateGroup)
		r.Post("/groups/{id}/members", ch.AddMembers)
		r.Delete("/groups/{id}/members/{memberId}", ch.RemoveMember)
		r.Get("/groups/{id}/messages", ch.GroupHistory)
		r.Post("/groups/{id}/messages", ch.SendGroupMessage)
	})

	return r
}
