package domain

import "time"

type NotificationType string

const (
	NotifyVoiceCallWaiting    NotificationType = "voice_call_waiting"
	NotifyVoiceChannelInvite  NotificationType = "voice_channel_invite"
	NotifyVoiceInviteAccepted NotificationType = "voice_channel_invite_accepted"
	NotifyVoiceInviteDeclined NotificationType = "voice_channel_invite_declined"
)

type Notification struct {
	ID            string           `json:"id"`
	UserID        UserID           `json:"userId"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	RelatedUserID UserID           `json:"relatedUserId,omitempty"`
	ActionURL     string           `json:"actionUrl,omitempty"`
	IsRead        bool             `json:"isRead"`
	CreatedAt     time.Time        `json:"createdAt"`
}
