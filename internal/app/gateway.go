package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultCleanupTimeout = 10 * time.Second

// Gateway drives the connection lifecycle: registration, identity, presence
// transitions and the cleanup that follows a user's last disconnect.
type Gateway struct {
	Registry *Registry
	Dispatch *Dispatcher
	Presence *Presence
	Relay    *SignalRelay
	// Voice is optional; without it a last disconnect only affects presence.
	Voice          *VoiceManager
	CleanupTimeout time.Duration

	// users serializes connect/disconnect of one user so online and offline
	// events are emitted in the order of the registry transitions.
	users *keyedMutex
}

func NewGateway(reg *Registry, dispatch *Dispatcher, presence *Presence, relay *SignalRelay, voice *VoiceManager) *Gateway {
	return &Gateway{
		Registry:       reg,
		Dispatch:       dispatch,
		Presence:       presence,
		Relay:          relay,
		Voice:          voice,
		CleanupTimeout: DefaultCleanupTimeout,
		users:          newKeyedMutex(),
	}
}

// Connect registers conn. An anonymous user keeps the connection open but only
// for untargeted traffic; authReason explains why to the client.
func (g *Gateway) Connect(ctx context.Context, id core.ConnID, conn core.SignalConnection, user domain.UserID, authReason string) {
	g.Registry.Register(id, conn)
	_ = g.Dispatch.ToConn(id, core.Event{Type: core.EvtWelcome, Message: "Connected to real-time updates"})

	if user.Anonymous() {
		g.Registry.MarkAnonymous(id)
		if authReason == "" {
			authReason = "Authentication required for personalized updates"
		}
		_ = g.Dispatch.ToConn(id, core.Event{Type: core.EvtAuthFailed, Reason: authReason, Message: authReason})
		log.Info().Str("module", "app.gateway").Str("conn_id", string(id)).Msg("anonymous connection")
		return
	}

	unlock := g.users.Lock(user.String())
	defer unlock()
	first, ok := g.Registry.AttachIdentity(id, user)
	if !ok {
		return
	}
	_ = g.Dispatch.ToConn(id, core.Event{Type: core.EvtAuthSuccess, UserID: user, Message: "Authentication successful"})
	if first {
		if err := g.Presence.Online(ctx, user); err != nil {
			log.Error().Err(err).Str("module", "app.gateway").Str("user_id", user.String()).Msg("broadcast online")
		}
	}
}

// Touch records a liveness response.
func (g *Gateway) Touch(id core.ConnID) {
	g.Registry.Touch(id)
}

// Ping answers an application level ping; it also counts as liveness.
func (g *Gateway) Ping(id core.ConnID) {
	g.Registry.Touch(id)
	_ = g.Dispatch.ToConn(id, core.Event{Type: core.EvtPong})
}

// Signal relays a signaling message sent by connection id.
func (g *Gateway) Signal(ctx context.Context, id core.ConnID, in core.Inbound) error {
	user, ok := g.Registry.UserOf(id)
	if !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	_, err := g.Relay.Relay(ctx, user, in)
	if err != nil {
		log.Warn().
			Err(err).
			Str("module", "app.gateway").
			Str("conn_id", string(id)).
			Str("user_id", user.String()).
			Str("type", in.Type).
			Msg("signaling rejected")
	}
	return err
}

// Disconnect is idempotent. When it removes the user's last connection the user
// leaves their individual voice session, loses group activity and goes offline.
func (g *Gateway) Disconnect(ctx context.Context, id core.ConnID) {
	if user, ok := g.Registry.UserOf(id); ok && !user.Anonymous() {
		unlock := g.users.Lock(user.String())
		defer unlock()
	}
	user, last, ok := g.Registry.Deregister(id)
	if !ok {
		return
	}
	log.Info().Str("module", "app.gateway").Str("conn_id", string(id)).Str("user_id", user.String()).Bool("last", last).Msg("disconnected")
	if !last {
		return
	}

	// The request or pump context is usually gone by now.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cleanupTimeout())
	defer cancel()
	if g.Voice != nil {
		if err := g.Voice.LeaveAll(cctx, user); err != nil {
			log.Error().Err(err).Str("module", "app.gateway").Str("user_id", user.String()).Msg("leave voice on disconnect")
		}
	}
	if err := g.Presence.Offline(cctx, user); err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Str("user_id", user.String()).Msg("broadcast offline")
	}
}

// Evict closes a connection that stopped answering and runs the disconnect path.
func (g *Gateway) Evict(ctx context.Context, id core.ConnID, reason error) {
	conn, ok := g.Registry.Conn(id)
	if !ok {
		return
	}
	metrics.StaleEvictions.Inc()
	log.Info().Err(reason).Str("module", "app.gateway").Str("conn_id", string(id)).Str("reason", "stale_connection").Msg("evicting connection")
	conn.Close()
	g.Disconnect(ctx, id)
}

func (g *Gateway) cleanupTimeout() time.Duration {
	if g.CleanupTimeout <= 0 {
		return DefaultCleanupTimeout
	}
	return g.CleanupTimeout
}

type RelationshipChange string

const (
	RelationshipCreated RelationshipChange = "created"
	RelationshipUpdated RelationshipChange = "updated"
	RelationshipDeleted RelationshipChange = "deleted"
)

type relationshipView struct {
	ID           string                `json:"id"`
	Kind         domain.RelationKind   `json:"kind"`
	Status       domain.RelationStatus `json:"status"`
	Participants []domain.UserID       `json:"participants"`
}

// NotifyRelationshipChanged tells both participants about a graph change. The event
// name follows the relationship kind.
func (g *Gateway) NotifyRelationshipChanged(rel domain.Relationship, change RelationshipChange) int {
	prefix := "connection_request_"
	if rel.Kind() == domain.KindMatch {
		prefix = "match_connection_"
	}
	a, b := rel.Participants()
	return g.Dispatch.ToUsers([]domain.UserID{a, b}, core.Event{
		Type: prefix + string(change),
		Data: relationshipView{
			ID:           rel.ID(),
			Kind:         rel.Kind(),
			Status:       rel.Status(),
			Participants: []domain.UserID{a, b},
		},
	})
}

func (g *Gateway) NotifyNewMessage(recipient domain.UserID, payload any) int {
	return g.Dispatch.ToUsers([]domain.UserID{recipient}, core.Event{Type: core.EvtNewMessage, Data: payload})
}
