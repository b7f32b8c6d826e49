package core

import (
	"context"
	"time"

	"github.com/dkeye/squadlink/internal/domain"
)

// RelationshipStore is the read side of the social graph.
type RelationshipStore interface {
	// Relationship returns the edge identified by id, of either kind.
	Relationship(ctx context.Context, id string) (domain.Relationship, error)
	// AcceptedNeighborhood lists everyone holding an accepted edge with user.
	AcceptedNeighborhood(ctx context.Context, user domain.UserID) ([]domain.UserID, error)
}

type VoiceStore interface {
	SessionByConversation(ctx context.Context, conversationID string) (*domain.VoiceSession, error)
	// UpsertSession inserts the session for conversationID or returns the existing row.
	// The first writer's room id wins; an empty stored room id is filled with roomID.
	UpsertSession(ctx context.Context, conversationID, roomID string) (*domain.VoiceSession, error)
	// SessionOfUser returns the session the user currently participates in.
	SessionOfUser(ctx context.Context, user domain.UserID) (*domain.VoiceSession, error)
	// AddParticipant is idempotent.
	AddParticipant(ctx context.Context, sessionID string, user domain.UserID) (*domain.VoiceParticipant, error)
	// RemoveParticipant deletes the row and, when it was the last one, the session too.
	// It reports the number of remaining participants.
	RemoveParticipant(ctx context.Context, sessionID string, user domain.UserID) (int, error)
	Participants(ctx context.Context, sessionID string) ([]domain.VoiceParticipant, error)
	SetMuted(ctx context.Context, sessionID string, user domain.UserID, muted bool) (*domain.VoiceParticipant, error)
}

type GroupStore interface {
	// CreateGroup stores the channel with the creator as its first member.
	CreateGroup(ctx context.Context, g *domain.GroupVoiceSession) error
	Group(ctx context.Context, id string) (*domain.GroupVoiceSession, error)
	GroupByInviteCode(ctx context.Context, code string) (*domain.GroupVoiceSession, error)
	GroupsOf(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceSession, error)
	SetGroupRoom(ctx context.Context, id, roomID string) (*domain.GroupVoiceSession, error)
	DeleteGroup(ctx context.Context, id string) error

	// AddMember is idempotent and keeps existing flags.
	AddMember(ctx context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error)
	// RemoveMember returns domain.ErrNotFound when user is not a member.
	RemoveMember(ctx context.Context, channelID string, user domain.UserID) (remaining int, err error)
	Member(ctx context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error)
	Members(ctx context.Context, channelID string) ([]domain.GroupVoiceMember, error)
	SetMemberActive(ctx context.Context, channelID string, user domain.UserID, active bool) error
	SetMemberMuted(ctx context.Context, channelID string, user domain.UserID, muted bool) error
	// SyncActive marks exactly the given users active in the channel.
	SyncActive(ctx context.Context, channelID string, active []domain.UserID) error
	// ClearActive drops every active flag the user holds.
	ClearActive(ctx context.Context, user domain.UserID) error

	// CreateInvite returns domain.ErrConflict when a pending invite already exists.
	CreateInvite(ctx context.Context, inv *domain.GroupVoiceInvite) error
	Invite(ctx context.Context, id string) (*domain.GroupVoiceInvite, error)
	InvitesReceived(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error)
	InvitesSent(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error)
	SetInviteStatus(ctx context.Context, id string, status domain.InviteStatus) (*domain.GroupVoiceInvite, error)
	DeleteInvite(ctx context.Context, id string) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	// MarkRead marks unread notifications of type kind, caused by related, as read.
	MarkRead(ctx context.Context, recipient domain.UserID, kind domain.NotificationType, related domain.UserID) (int64, error)
}

// Deduper grants a key at most once per window.
type Deduper interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}
