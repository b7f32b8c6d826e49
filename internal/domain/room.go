package domain

import (
	"fmt"
	"strings"
	"time"
)

const MaxGroupNameLen = 64

// VoiceSession is the voice room bound to one conversation. At most one exists
// per conversation; it is deleted together with its last participant.
type VoiceSession struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	ExternalRoomID string    `json:"roomId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GroupVoiceSession is a standing voice channel that outlives its calls.
type GroupVoiceSession struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatorID      UserID    `json:"creatorId"`
	InviteCode     string    `json:"inviteCode"`
	ExternalRoomID string    `json:"roomId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GroupName validates and normalizes a channel name.
func GroupName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: channel name required", ErrInvalidArgument)
	}
	if len(name) > MaxGroupNameLen {
		return "", fmt.Errorf("%w: channel name too long", ErrInvalidArgument)
	}
	return name, nil
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

type GroupVoiceInvite struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channelId"`
	InviterID   UserID       `json:"inviterId"`
	InviteeID   UserID       `json:"inviteeId"`
	Status      InviteStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	RespondedAt *time.Time   `json:"respondedAt,omitempty"`
}
