// Package domain contains entities without transport or storage logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

// UserID identifies an authenticated user. The zero value means anonymous.
type UserID string

// ParseUserID trims and validates a raw id coming from a session or a request body.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

func (u UserID) String() string { return string(u) }

// Anonymous reports whether no identity is attached.
func (u UserID) Anonymous() bool { return u == "" }
