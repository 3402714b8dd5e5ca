package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/session"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns teardown: whatever kills the read loop, the session is
// disconnected exactly once and the write pump is cancelled.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sess *session.Session, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump closing")
		cancel()
		ctl.Manager.Disconnect(context.Background(), sess)
		ctl.limiter.Forget(sess.ID)
	}()

	// A peer that stops answering pings must miss two of them before
	// the deadline kills the read.
	pongWait := 2 * ctl.cfg.PingPeriod
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump read error")
				}
				return
			}
			if !ctl.limiter.Allow(sess.ID) {
				log.Warn().Str("module", "signal").Str("conn", string(sess.ID)).Msg("rate limit exceeded, dropping frame")
				continue
			}
			ctl.Manager.HandleEvent(ctx, sess, data)
		}
	}
}
