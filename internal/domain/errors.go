package domain

import "errors"

var (
	// ErrUnauthorized means the caller could not be identified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is identified but lacks an accepted relationship
	// (or ownership) for the target.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	// ErrUpstreamUnavailable covers an unconfigured or failing voice provider.
	ErrUpstreamUnavailable = errors.New("voice service unavailable")
	// ErrStaleConnection is the eviction cause for connections that stopped answering probes.
	ErrStaleConnection   = errors.New("stale connection")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrTargetUnreachable = errors.New("target user is not currently connected")
)
