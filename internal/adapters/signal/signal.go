package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/squadlink/internal/adapters/session"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/dkeye/squadlink/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit      int64
	SendBuffer     int
	AllowedOrigins []string
	// SignalRate is the sustained signaling messages per second per user.
	SignalRate  float64
	SignalBurst int
}

type SignalWSController struct {
	Gateway  *app.Gateway
	Resolver *session.Resolver
	Limiter  *UserRateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(gw *app.Gateway, resolver *session.Resolver, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	return &SignalWSController{
		Gateway:  gw,
		Resolver: resolver,
		Limiter:  NewUserRateLimiter(opts.SignalRate, opts.SignalBurst),
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: OriginChecker(opts.AllowedOrigins),
		},
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *wsSignalConn {
	return &wsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Ping writes a control frame; gorilla allows it concurrently with the write pump.
func (c *wsSignalConn) Ping() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsSignalConn) Close() {
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

// HandleSignal upgrades the request. Resolution failures do not reject the
// socket; it stays open as anonymous.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, authErr := ctl.Resolver.Resolve(c.Request)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	id := core.NewConnID()
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ws.SetPongHandler(func(string) error {
		ctl.Gateway.Touch(id)
		return nil
	})
	log.Info().Str("module", "signal").Str("conn_id", string(id)).Str("user_id", user.String()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	reason := ""
	if authErr != nil {
		reason = authErr.Error()
	}
	ctl.Gateway.Connect(ctx, id, conn, user, reason)

	go ctl.readPump(ctx, cancel, id, conn)
}
