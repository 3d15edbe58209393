package realtime

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConnOptions tune a single websocket connection.
type ConnOptions struct {
	SendBuffer      int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
}

func (o *ConnOptions) norm() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
}

// Conn is a websocket-backed Handle. Frames are queued on a buffered
// channel and written by a single writer goroutine.
type Conn struct {
	id       string
	identity Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	opts     ConnOptions
	log      *zap.Logger
}

func NewConn(ws *websocket.Conn, identity Identity, opts ConnOptions, log *zap.Logger) *Conn {
	opts.norm()
	id := uuid.NewString()
	return &Conn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		opts:     opts,
		log:      log.With(zap.String("conn", id), zap.String("identity", string(identity))),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Identity() Identity { return c.identity }

// Send enqueues frame without blocking.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close signals the writer to send a close frame and drop the socket. It
// is safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// readPump reads client frames until the socket fails, handing each
// decoded envelope to dispatch.
func (c *Conn) readPump(dispatch func(Envelope)) {
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout)); err != nil {
		c.log.Debug("set read deadline", zap.Error(err))
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.log.Warn("malformed client frame", zap.Int("bytes", len(raw)), zap.Error(err))
			continue
		}
		dispatch(env)
	}
}

// writePump owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Close()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close socket", zap.Error(err))
		}
	}()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.log.Debug("set write deadline", zap.Error(err))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug("ping failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (c *Conn) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("write close frame", zap.Error(err))
	}
}

func (c *Conn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("client frame exceeded read limit", zap.Int64("limit", c.opts.MaxMessageBytes))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client closed", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected close", zap.Error(err))
	default:
		c.log.Debug("read error", zap.Error(err))
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "broken pipe")
}
