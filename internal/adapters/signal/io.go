package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// readPump processes messages of one connection in arrival order and runs the
// disconnect path when the socket goes away for any reason.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id core.ConnID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn_id", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Gateway.Disconnect(context.WithoutCancel(ctx), id)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(id)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		ctl.handleSignal(ctx, id, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, id core.ConnID, c *wsSignalConn, data []byte) {
	in, err := core.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(id)).Msg("bad json")
		ctl.sendEvent(c, core.ErrorEvent(core.EvtError, "malformed message"))
		return
	}

	switch {
	case in.Type == core.MsgPing:
		ctl.handlePing(id)
	case core.IsSignaling(in.Type):
		ctl.handleWebRTC(ctx, id, c, in)
	default:
		log.Warn().Str("module", "signal").Str("type", in.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendEvent(c *wsSignalConn, e core.Event) {
	f, err := core.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent encode")
		return
	}
	_ = c.TrySend(f)
}
