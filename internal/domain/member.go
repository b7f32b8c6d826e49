package domain

import "time"

// VoiceParticipant is a user currently in a one-to-one voice session.
type VoiceParticipant struct {
	SessionID string    `json:"sessionId"`
	UserID    UserID    `json:"userId"`
	IsMuted   bool      `json:"isMuted"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// GroupVoiceMember is a standing member of a group channel. IsActive tells
// whether the member is currently in the call.
type GroupVoiceMember struct {
	ChannelID string    `json:"channelId"`
	UserID    UserID    `json:"userId"`
	IsActive  bool      `json:"isActive"`
	IsMuted   bool      `json:"isMuted"`
	JoinedAt  time.Time `json:"joinedAt"`
}
