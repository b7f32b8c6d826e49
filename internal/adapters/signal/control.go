package signal

import "github.com/dkeye/squadlink/internal/core"

// handlePing answers an application level ping, which also counts as liveness
// for clients that cannot see protocol pings.
func (ctl *SignalWSController) handlePing(id core.ConnID) {
	ctl.Gateway.Ping(id)
}
