package app

import (
	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Dispatcher fans events out over the registry. Delivery is best effort:
// a full or closed buffer never stalls the other recipients.
type Dispatcher struct {
	Registry *Registry
	Policy   Policy
}

func NewDispatcher(reg *Registry, policy Policy) *Dispatcher {
	return &Dispatcher{Registry: reg, Policy: policy}
}

// ToUsers delivers e to every connection of the given users and reports how many
// connections accepted it.
func (d *Dispatcher) ToUsers(users []domain.UserID, e core.Event) int {
	if len(users) == 0 {
		return 0
	}
	f, err := core.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Str("type", e.Type).Msg("encode event")
		return 0
	}
	sent, dropped := d.Registry.deliverUsers(users, f)
	d.backpressure(dropped)
	return sent
}

// ToAll delivers e to every identified connection. Anonymous connections are skipped.
func (d *Dispatcher) ToAll(e core.Event) int {
	f, err := core.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Str("type", e.Type).Msg("encode event")
		return 0
	}
	sent, dropped := d.Registry.deliver(func(ce *connEntry) bool { return !ce.user.Anonymous() }, f)
	d.backpressure(dropped)
	return sent
}

// ToConn answers a single connection, anonymous or not.
func (d *Dispatcher) ToConn(id core.ConnID, e core.Event) error {
	conn, ok := d.Registry.Conn(id)
	if !ok {
		return domain.ErrNotFound
	}
	f, err := core.Encode(e)
	if err != nil {
		return err
	}
	if err := conn.TrySend(f); err != nil {
		d.backpressure([]liveConn{{id: id, conn: conn}})
		return err
	}
	return nil
}

// backpressure runs outside the registry lock; Close may re-enter the registry
// through the adapter's disconnect path.
func (d *Dispatcher) backpressure(dropped []liveConn) {
	for _, lc := range dropped {
		metrics.FramesDropped.Inc()
		if d.Policy == nil {
			continue
		}
		switch d.Policy.OnBackPressure(lc.id, lc.conn) {
		case CloseConnection:
			log.Warn().Str("module", "app.dispatcher").Str("conn_id", string(lc.id)).Msg("closing slow consumer")
			lc.conn.Close()
		case DropFrame, NoAction:
		}
	}
}
