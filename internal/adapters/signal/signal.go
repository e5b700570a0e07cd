package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sessionNameKey = "name"

type Options struct {
	ReadLimit     int64
	PingPeriod    time.Duration
	SendBuffer    int
	ChatMaxLength int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ChatMaxLength <= 0 {
		o.ChatMaxLength = 1024
	}
	return o
}

type SignalWSController struct {
	Router  *app.Router
	Limiter *RoomRateLimiter
	opts    Options
}

func NewSignalWSController(router *app.Router, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Router:  router,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connState holds the per-connection defaults taken from the upgrade
// request; a ready payload may override them.
type connState struct {
	sid  domain.MemberID
	room string
	name string
	conn *WsSignalConn
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades GET /ws?room=&name=[&id=] and serves the
// connection until it closes or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid, err := domain.ParseMemberID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.ErrorPayload{Error: err.Error()})
		return
	}
	if _, taken := ctl.Router.Registry.GetSession(sid); taken {
		c.JSON(http.StatusConflict, domain.ErrorPayload{Error: "id already connected"})
		return
	}
	name := ctl.rememberName(c, c.Query("name"))
	meta, err := domain.NewMember(sid, name)
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.ErrorPayload{Error: err.Error()})
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)

	ctx, cancel := context.WithCancel(ctx)
	if !ctl.Router.Registry.Bind(sid, core.NewMemberSession(meta, conn), cancel) {
		cancel()
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("id claimed concurrently")
		conn.Close()
		return
	}

	st := &connState{sid: sid, room: c.Query("room"), name: name, conn: conn}
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, st)
}

// rememberName keeps the display name in the cookie session so a
// reconnect without ?name= reuses it.
func (ctl *SignalWSController) rememberName(c *gin.Context, name string) string {
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return name
	}
	sess := sessions.Default(c)
	if name == "" {
		if stored, ok := sess.Get(sessionNameKey).(string); ok {
			return stored
		}
		return ""
	}
	sess.Set(sessionNameKey, name)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("session save")
	}
	return name
}
