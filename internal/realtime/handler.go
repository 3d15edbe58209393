package realtime

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator extracts the authenticated subject from an upgrade request.
type Authenticator interface {
	Subject(r *http.Request) (string, error)
}

// HandlerOptions configure the websocket endpoint.
type HandlerOptions struct {
	AllowedOrigins []string
	Conn           ConnOptions
}

// Handler upgrades authenticated requests and feeds the resulting
// connection's lifecycle into the engine.
type Handler struct {
	engine   *Engine
	auth     Authenticator
	opts     HandlerOptions
	upgrader websocket.Upgrader
	log      *zap.Logger

	allowAll bool
	origins  map[string]struct{}
}

func NewHandler(engine *Engine, auth Authenticator, opts HandlerOptions, log *zap.Logger) *Handler {
	h := &Handler{
		engine:  engine,
		auth:    auth,
		opts:    opts,
		log:     log,
		origins: make(map[string]struct{}),
	}
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			h.allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			h.origins[n] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, err := h.auth.Subject(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := ParseIdentity(subject)
	if err != nil {
		http.Error(w, "bad identity", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(ws, identity, h.opts.Conn, h.log)
	go conn.writePump()

	if err := h.engine.OnConnect(identity, conn); err != nil {
		h.log.Error("register connection", zap.Error(err))
		conn.Close()
		return
	}
	conn.readPump(func(env Envelope) { h.dispatch(conn, env) })

	conn.Close()
	h.engine.OnDisconnect(conn)
}

func (h *Handler) dispatch(c *Conn, env Envelope) {
	var err error
	switch env.Event {
	case EventJoinRoom:
		var room RoomID
		if room, err = decodeRoom(env.Data); err == nil {
			err = h.engine.JoinRoom(room, c.Identity(), c)
		}
	case EventLeaveRoom:
		var room RoomID
		if room, err = decodeRoom(env.Data); err == nil {
			err = h.engine.LeaveRoom(room, c.Identity())
		}
	case EventSendGroupMessage:
		var in struct {
			GroupID string          `json:"groupId"`
			Message json.RawMessage `json:"message"`
		}
		if err = json.Unmarshal(env.Data, &in); err == nil {
			var room RoomID
			if room, err = ParseRoomID(in.GroupID); err == nil {
				err = h.engine.RelayGroupMessage(room, c.Identity(), c, in.Message)
			}
		}
	default:
		c.log.Debug("unknown client event", zap.String("event", env.Event))
		return
	}
	if err != nil {
		c.log.Warn("client event rejected", zap.String("event", env.Event), zap.Error(err))
	}
}

// decodeRoom accepts either a bare JSON string or {"roomId": "..."}.
func decodeRoom(data json.RawMessage) (RoomID, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", ErrInvalidRoom
		}
		raw = obj.RoomID
	}
	return ParseRoomID(raw)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAll {
		return true
	}
	n, ok := normalizeOrigin(origin)
	if ok {
		if _, allowed := h.origins[n]; allowed {
			return true
		}
	}
	h.log.Warn("blocked websocket origin", zap.String("origin", origin))
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
