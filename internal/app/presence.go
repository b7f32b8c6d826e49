package app

import (
	"context"
	"fmt"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Presence emits online/offline transitions to a user's accepted neighborhood.
// Callers decide whether a transition happened; see Gateway.
type Presence struct {
	Relations core.RelationshipStore
	Groups    core.GroupStore
	Dispatch  *Dispatcher
}

func (p *Presence) Online(ctx context.Context, user domain.UserID) error {
	return p.announce(ctx, user, core.EvtUserOnline)
}

// Offline also clears every group "active" flag: without a connection the user
// cannot be in any room.
func (p *Presence) Offline(ctx context.Context, user domain.UserID) error {
	var clearErr error
	if p.Groups != nil {
		if err := p.Groups.ClearActive(ctx, user); err != nil {
			clearErr = fmt.Errorf("clear active flags: %w", err)
			log.Error().Err(err).Str("module", "app.presence").Str("user_id", user.String()).Msg("clear active flags")
		}
	}
	if err := p.announce(ctx, user, core.EvtUserOffline); err != nil {
		return err
	}
	return clearErr
}

func (p *Presence) announce(ctx context.Context, user domain.UserID, typ string) error {
	neighbors, err := p.Relations.AcceptedNeighborhood(ctx, user)
	if err != nil {
		return fmt.Errorf("neighborhood of %s: %w", user, err)
	}
	metrics.PresenceTransitions.WithLabelValues(typ).Inc()
	sent := p.Dispatch.ToUsers(neighbors, core.Event{Type: typ, UserID: user})
	log.Info().
		Str("module", "app.presence").
		Str("user_id", user.String()).
		Str("type", typ).
		Int("neighbors", len(neighbors)).
		Int("delivered", sent).
		Msg("presence transition")
	return nil
}
