package core

import "github.com/google/uuid"

// Frame is a raw encoded event.
type Frame []byte

// ConnID is the ephemeral per-socket identity.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks; a full buffer is reported as an error.
	TrySend(Frame) error
	// Ping sends a liveness probe.
	Ping() error
	Close()
}
