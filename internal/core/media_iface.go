package core

import (
	"context"

	"github.com/dkeye/squadlink/internal/domain"
)

// VoiceProvider is the external room service. Media never flows through this process;
// the provider only hands out rooms and join tokens.
type VoiceProvider interface {
	// Configured is false when credentials are missing; callers must then fail
	// with domain.ErrUpstreamUnavailable.
	Configured() bool
	CreateRoom(ctx context.Context, name string) (roomID string, err error)
	MintToken(ctx context.Context, roomID string, user domain.UserID, role string) (string, error)
	// ActivePeers lists users currently connected to the room.
	ActivePeers(ctx context.Context, roomID string) ([]domain.UserID, error)
	EndRoom(ctx context.Context, roomID string) error
}

const RoleSpeaker = "speaker"
