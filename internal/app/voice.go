package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultWaitingWindow = 5 * time.Minute

// VoiceManager owns one-to-one voice sessions. Operations are serialized per user;
// concurrency between different users is resolved by the store's idempotent upsert.
type VoiceManager struct {
	Relations     core.RelationshipStore
	Store         core.VoiceStore
	Notes         core.NotificationStore
	Dedup         core.Deduper
	Provider      core.VoiceProvider
	Dispatch      *Dispatcher
	// WaitingWindow of zero sends a waiting notice on every join into an empty room.
	WaitingWindow time.Duration

	locks *keyedMutex
}

func NewVoiceManager(
	rel core.RelationshipStore,
	store core.VoiceStore,
	notes core.NotificationStore,
	dedup core.Deduper,
	provider core.VoiceProvider,
	dispatch *Dispatcher,
	waitingWindow time.Duration,
) *VoiceManager {
	if waitingWindow < 0 {
		waitingWindow = DefaultWaitingWindow
	}
	return &VoiceManager{
		Relations:     rel,
		Store:         store,
		Notes:         notes,
		Dedup:         dedup,
		Provider:      provider,
		Dispatch:      dispatch,
		WaitingWindow: waitingWindow,
		locks:         newKeyedMutex(),
	}
}

type JoinResult struct {
	Token        string                    `json:"token"`
	RoomID       string                    `json:"roomId"`
	Session      *domain.VoiceSession      `json:"session"`
	Participants []domain.VoiceParticipant `json:"participants"`
}

func RoomName(conversationID string) string { return "room-" + conversationID }

func (v *VoiceManager) Join(ctx context.Context, user domain.UserID, conversationID string) (res *JoinResult, err error) {
	defer func() { metrics.RecordVoiceOp("join", err) }()
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id required", domain.ErrInvalidArgument)
	}
	if !v.Provider.Configured() {
		return nil, fmt.Errorf("%w: voice service not configured", domain.ErrUpstreamUnavailable)
	}

	unlock := v.locks.Lock(user.String())
	defer unlock()

	counterpart, err := v.authorize(ctx, user, conversationID)
	if err != nil {
		return nil, err
	}

	// A user is in at most one individual session.
	current, err := v.Store.SessionOfUser(ctx, user)
	switch {
	case err == nil && current.ConversationID != conversationID:
		if err := v.leave(ctx, user, current); err != nil {
			return nil, fmt.Errorf("leave previous session: %w", err)
		}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("current session: %w", err)
	}

	session, err := v.ensureSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	before, err := v.Store.Participants(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	wasEmpty := len(others(before, user)) == 0

	token, err := v.Provider.MintToken(ctx, session.ExternalRoomID, user, core.RoleSpeaker)
	if err != nil {
		return nil, upstream("mint token", err)
	}

	if _, err := v.Store.AddParticipant(ctx, session.ID, user); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("add participant: %w", err)
		}
		// The last participant left between upsert and insert and took the row with it.
		if session, err = v.ensureSession(ctx, conversationID); err != nil {
			return nil, err
		}
		if token, err = v.Provider.MintToken(ctx, session.ExternalRoomID, user, core.RoleSpeaker); err != nil {
			return nil, upstream("mint token", err)
		}
		if _, err := v.Store.AddParticipant(ctx, session.ID, user); err != nil {
			return nil, fmt.Errorf("add participant: %w", err)
		}
	}

	participants, err := v.Store.Participants(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	rest := others(participants, user)

	v.Dispatch.ToUsers(rest, core.Event{
		Type:    core.EvtVoiceJoined,
		Message: "User joined voice channel",
		Data: core.VoiceData{
			ConversationID: conversationID,
			UserID:         user,
			Participants:   participants,
		},
	})
	if wasEmpty && len(rest) == 0 {
		v.notifyWaiting(ctx, user, counterpart)
	}

	log.Info().
		Str("module", "app.voice").
		Str("user_id", user.String()).
		Str("conversation_id", conversationID).
		Str("room_id", session.ExternalRoomID).
		Int("participants", len(participants)).
		Msg("joined voice session")

	return &JoinResult{
		Token:        token,
		RoomID:       session.ExternalRoomID,
		Session:      session,
		Participants: participants,
	}, nil
}

// Leave is idempotent: leaving a session that does not exist succeeds.
func (v *VoiceManager) Leave(ctx context.Context, user domain.UserID, conversationID string) (err error) {
	defer func() { metrics.RecordVoiceOp("leave", err) }()
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id required", domain.ErrInvalidArgument)
	}
	unlock := v.locks.Lock(user.String())
	defer unlock()

	session, err := v.Store.SessionByConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	return v.leave(ctx, user, session)
}

// LeaveAll drops the user from whatever individual session they are in.
func (v *VoiceManager) LeaveAll(ctx context.Context, user domain.UserID) error {
	unlock := v.locks.Lock(user.String())
	defer unlock()

	session, err := v.Store.SessionOfUser(ctx, user)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("current session: %w", err)
	}
	return v.leave(ctx, user, session)
}

func (v *VoiceManager) SetMuted(ctx context.Context, user domain.UserID, conversationID string, muted bool) (p *domain.VoiceParticipant, all []domain.VoiceParticipant, err error) {
	defer func() { metrics.RecordVoiceOp("mute", err) }()
	if conversationID == "" {
		return nil, nil, fmt.Errorf("%w: conversation id required", domain.ErrInvalidArgument)
	}
	unlock := v.locks.Lock(user.String())
	defer unlock()

	session, err := v.Store.SessionByConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("voice channel: %w", err)
	}
	p, err = v.Store.SetMuted(ctx, session.ID, user, muted)
	if err != nil {
		return nil, nil, fmt.Errorf("set muted: %w", err)
	}
	all, err = v.Store.Participants(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("participants: %w", err)
	}
	v.Dispatch.ToUsers(others(all, user), core.Event{
		Type:    core.EvtVoiceMuted,
		Message: "User mute status changed",
		Data: core.VoiceData{
			ConversationID: conversationID,
			UserID:         user,
			IsMuted:        &muted,
			Participants:   all,
		},
	})
	return p, all, nil
}

// Channel returns the live session of a conversation, or nil when nobody is in it.
func (v *VoiceManager) Channel(ctx context.Context, user domain.UserID, conversationID string) (*domain.VoiceSession, []domain.VoiceParticipant, error) {
	if _, err := v.authorize(ctx, user, conversationID); err != nil {
		return nil, nil, err
	}
	session, err := v.Store.SessionByConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, []domain.VoiceParticipant{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	parts, err := v.Store.Participants(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("participants: %w", err)
	}
	return session, parts, nil
}

// authorize returns the other participant of an accepted relationship.
func (v *VoiceManager) authorize(ctx context.Context, user domain.UserID, conversationID string) (domain.UserID, error) {
	rel, err := v.Relations.Relationship(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load relationship: %w", err)
	}
	other, ok := domain.Counterpart(rel, user)
	if !ok || rel.Status() != domain.StatusAccepted {
		return "", fmt.Errorf("%w: no access to this voice channel", domain.ErrForbidden)
	}
	return other, nil
}

// ensureSession returns the conversation's session with an external room attached.
// The provider is called before anything is written; when a concurrent joiner
// stored a different room first, theirs wins and ours is released.
func (v *VoiceManager) ensureSession(ctx context.Context, conversationID string) (*domain.VoiceSession, error) {
	existing, err := v.Store.SessionByConversation(ctx, conversationID)
	if err == nil && existing.ExternalRoomID != "" {
		return existing, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	roomID, err := v.Provider.CreateRoom(ctx, RoomName(conversationID))
	if err != nil {
		return nil, upstream("create room", err)
	}
	session, err := v.Store.UpsertSession(ctx, conversationID, roomID)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	if session.ExternalRoomID != roomID {
		log.Info().
			Str("module", "app.voice").
			Str("conversation_id", conversationID).
			Str("lost_room", roomID).
			Str("room_id", session.ExternalRoomID).
			Msg("lost room creation race, releasing duplicate")
		if err := v.Provider.EndRoom(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("room_id", roomID).Msg("end duplicate room")
		}
	}
	return session, nil
}

// leave removes user from session; caller holds the user's lock.
func (v *VoiceManager) leave(ctx context.Context, user domain.UserID, session *domain.VoiceSession) error {
	remaining, err := v.Store.RemoveParticipant(ctx, session.ID, user)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	if counterpart, err := v.authorize(ctx, user, session.ConversationID); err == nil && v.Notes != nil {
		if _, err := v.Notes.MarkRead(ctx, counterpart, domain.NotifyVoiceCallWaiting, user); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("user_id", user.String()).Msg("clear waiting notifications")
		}
	}

	log.Info().
		Str("module", "app.voice").
		Str("user_id", user.String()).
		Str("conversation_id", session.ConversationID).
		Int("remaining", remaining).
		Msg("left voice session")

	if remaining == 0 {
		return nil
	}
	parts, err := v.Store.Participants(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("participants: %w", err)
	}
	v.Dispatch.ToUsers(others(parts, user), core.Event{
		Type:    core.EvtVoiceLeft,
		Message: "User left voice channel",
		Data: core.VoiceData{
			ConversationID: session.ConversationID,
			UserID:         user,
			Participants:   parts,
		},
	})
	return nil
}

func WaitingKey(recipient domain.UserID, related domain.UserID) string {
	return fmt.Sprintf("notify:%s:%s:%s", recipient, domain.NotifyVoiceCallWaiting, related)
}

// notifyWaiting tells the counterpart someone is alone in their shared room,
// at most once per window for the same (recipient, type, related user).
func (v *VoiceManager) notifyWaiting(ctx context.Context, from, to domain.UserID) {
	if to.Anonymous() || v.Notes == nil {
		return
	}
	if v.Dedup != nil {
		ok, err := v.Dedup.Acquire(ctx, WaitingKey(to, from), v.WaitingWindow)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Msg("waiting dedup unavailable, skipping notification")
			return
		}
		if !ok {
			return
		}
	}
	n := &domain.Notification{
		ID:            uuid.NewString(),
		UserID:        to,
		Type:          domain.NotifyVoiceCallWaiting,
		Title:         "Voice Call Waiting",
		Message:       "A friend is waiting in your personal voice channel",
		RelatedUserID: from,
		ActionURL:     "/connections",
		CreatedAt:     time.Now(),
	}
	if err := v.Notes.CreateNotification(ctx, n); err != nil {
		log.Error().Err(err).Str("module", "app.voice").Str("user_id", to.String()).Msg("create waiting notification")
		return
	}
	v.Dispatch.ToUsers([]domain.UserID{to}, core.Event{Type: core.EvtNewNotification, Message: "New notification", Data: n})
}

func others(parts []domain.VoiceParticipant, self domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(parts))
	for _, p := range parts {
		if p.UserID != self {
			out = append(out, p.UserID)
		}
	}
	return out
}

func upstream(op string, err error) error {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamUnavailable, err)
}
