package signal

import (
	"context"
	"errors"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleWebRTC(ctx context.Context, id core.ConnID, c *wsSignalConn, in core.Inbound) {
	key := string(id)
	if user, ok := ctl.Gateway.Registry.UserOf(id); ok && !user.Anonymous() {
		key = user.String()
	}
	if !ctl.Limiter.Allow(key) {
		log.Warn().Str("module", "signal").Str("conn_id", string(id)).Str("type", in.Type).Msg("signaling rate limited")
		ctl.sendEvent(c, core.ErrorEvent(core.EvtError, "too many signaling messages"))
		return
	}
	if err := ctl.Gateway.Signal(ctx, id, in); err != nil {
		ctl.sendEvent(c, signalError(err))
	}
}

// signalError maps a relay failure to the event sent back to the sender.
func signalError(err error) core.Event {
	switch {
	case errors.Is(err, domain.ErrTargetUnreachable):
		return core.ErrorEvent(core.EvtWebRTCError, "Target user is not currently connected")
	case errors.Is(err, domain.ErrUnauthorized):
		return core.ErrorEvent(core.EvtError, "Authentication required for WebRTC signaling")
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrNotFound):
		return core.ErrorEvent(core.EvtError, err.Error())
	default:
		return core.ErrorEvent(core.EvtError, "Failed to verify authorization")
	}
}
