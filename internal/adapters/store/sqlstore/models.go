package sqlstore

import (
	"time"

	"github.com/dkeye/squadlink/internal/domain"
)

type voiceSessionRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"size:64;not null;uniqueIndex"`
	RoomID         string `gorm:"size:128"`
	CreatedAt      time.Time
}

func (voiceSessionRow) TableName() string { return "voice_sessions" }

func (r voiceSessionRow) toDomain() *domain.VoiceSession {
	return &domain.VoiceSession{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		ExternalRoomID: r.RoomID,
		CreatedAt:      r.CreatedAt,
	}
}

type voiceParticipantRow struct {
	SessionID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:64;index"`
	IsMuted   bool   `gorm:"not null"`
	JoinedAt  time.Time
}

func (voiceParticipantRow) TableName() string { return "voice_participants" }

func (r voiceParticipantRow) toDomain() domain.VoiceParticipant {
	return domain.VoiceParticipant{
		SessionID: r.SessionID,
		UserID:    domain.UserID(r.UserID),
		IsMuted:   r.IsMuted,
		JoinedAt:  r.JoinedAt,
	}
}

type groupSessionRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	Name       string `gorm:"size:64;not null"`
	CreatorID  string `gorm:"size:64;not null;index"`
	InviteCode string `gorm:"size:32;not null;uniqueIndex"`
	RoomID     string `gorm:"size:128"`
	CreatedAt  time.Time
}

func (groupSessionRow) TableName() string { return "group_voice_sessions" }

func (r groupSessionRow) toDomain() domain.GroupVoiceSession {
	return domain.GroupVoiceSession{
		ID:             r.ID,
		Name:           r.Name,
		CreatorID:      domain.UserID(r.CreatorID),
		InviteCode:     r.InviteCode,
		ExternalRoomID: r.RoomID,
		CreatedAt:      r.CreatedAt,
	}
}

type groupMemberRow struct {
	ChannelID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:64;index"`
	IsActive  bool   `gorm:"not null"`
	IsMuted   bool   `gorm:"not null"`
	JoinedAt  time.Time
}

func (groupMemberRow) TableName() string { return "group_voice_members" }

func (r groupMemberRow) toDomain() domain.GroupVoiceMember {
	return domain.GroupVoiceMember{
		ChannelID: r.ChannelID,
		UserID:    domain.UserID(r.UserID),
		IsActive:  r.IsActive,
		IsMuted:   r.IsMuted,
		JoinedAt:  r.JoinedAt,
	}
}

type groupInviteRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	ChannelID   string `gorm:"size:36;not null;index"`
	InviterID   string `gorm:"size:64;not null;index"`
	InviteeID   string `gorm:"size:64;not null;index"`
	Status      string `gorm:"size:16;not null;default:'pending'"`
	CreatedAt   time.Time
	RespondedAt *time.Time
}

func (groupInviteRow) TableName() string { return "group_voice_invites" }

func (r groupInviteRow) toDomain() domain.GroupVoiceInvite {
	return domain.GroupVoiceInvite{
		ID:          r.ID,
		ChannelID:   r.ChannelID,
		InviterID:   domain.UserID(r.InviterID),
		InviteeID:   domain.UserID(r.InviteeID),
		Status:      domain.InviteStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		RespondedAt: r.RespondedAt,
	}
}

// The relationship tables are owned by the matching service; this process only
// reads them, apart from seeding in dev mode and tests.
type matchConnectionRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	RequesterID string `gorm:"size:64;not null;index"`
	AccepterID  string `gorm:"size:64;not null;index"`
	Status      string `gorm:"size:16;not null"`
	CreatedAt   time.Time
}

func (matchConnectionRow) TableName() string { return "match_connections" }

type connectionRequestRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	SenderID   string `gorm:"size:64;not null;index"`
	ReceiverID string `gorm:"size:64;not null;index"`
	Status     string `gorm:"size:16;not null"`
	CreatedAt  time.Time
}

func (connectionRequestRow) TableName() string { return "connection_requests" }

type notificationRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"size:64;not null;index:idx_notifications_lookup,priority:1"`
	Type          string `gorm:"size:48;not null;index:idx_notifications_lookup,priority:2"`
	Title         string `gorm:"size:128"`
	Message       string `gorm:"size:512"`
	RelatedUserID string `gorm:"size:64;index:idx_notifications_lookup,priority:3"`
	ActionURL     string `gorm:"size:256"`
	IsRead        bool   `gorm:"not null"`
	CreatedAt     time.Time
}

func (notificationRow) TableName() string { return "notifications" }

func (r notificationRow) toDomain() domain.Notification {
	return domain.Notification{
		ID:            r.ID,
		UserID:        domain.UserID(r.UserID),
		Type:          domain.NotificationType(r.Type),
		Title:         r.Title,
		Message:       r.Message,
		RelatedUserID: domain.UserID(r.RelatedUserID),
		ActionURL:     r.ActionURL,
		IsRead:        r.IsRead,
		CreatedAt:     r.CreatedAt,
	}
}
