package app

import (
	"context"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProbeInterval   = 30 * time.Second
	DefaultLivenessTimeout = 40 * time.Second
)

type Evictor interface {
	Evict(ctx context.Context, id core.ConnID, reason error)
}

// Heartbeat probes every registered connection each Interval and evicts those
// silent for longer than Timeout. It runs as a supervised service.
type Heartbeat struct {
	Registry *Registry
	Evictor  Evictor
	Interval time.Duration
	Timeout  time.Duration
}

func NewHeartbeat(reg *Registry, ev Evictor, interval, timeout time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Heartbeat{Registry: reg, Evictor: ev, Interval: interval, Timeout: timeout}
}

func (h *Heartbeat) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.heartbeat").Dur("interval", h.Interval).Dur("timeout", h.Timeout).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

func (h *Heartbeat) String() string { return "heartbeat-monitor" }

// Sweep runs one monitor cycle and returns the number of evicted connections.
func (h *Heartbeat) Sweep(ctx context.Context) int {
	stale, live := h.Registry.sweep(h.Timeout)
	for _, id := range stale {
		h.Evictor.Evict(ctx, id, domain.ErrStaleConnection)
	}
	for _, lc := range live {
		if err := lc.conn.Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.heartbeat").Str("conn_id", string(lc.id)).Msg("probe failed")
		}
	}
	if len(stale) > 0 {
		log.Info().Str("module", "app.heartbeat").Int("evicted", len(stale)).Int("probed", len(live)).Msg("sweep")
	}
	return len(stale)
}
