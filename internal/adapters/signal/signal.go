// Package signal carries the websocket transport. It owns the socket
// pumps and backpressure policy; everything above it speaks
// core.SignalConnection and never sees gorilla directly.
package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/session"
)

type Controller struct {
	Manager *session.Manager
	cfg     *config.Config
	limiter *RateLimiter
}

func NewController(mgr *session.Manager, cfg *config.Config) *Controller {
	return &Controller{
		Manager: mgr,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	sess := ctl.Manager.Connect(conn)
	log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}
