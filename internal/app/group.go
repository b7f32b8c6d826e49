package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GroupManager owns standing group voice channels. Membership outlives calls;
// activity is the per-call flag.
type GroupManager struct {
	Store    core.GroupStore
	Notes    core.NotificationStore
	Provider core.VoiceProvider
	Dispatch *Dispatcher

	locks *keyedMutex
}

func NewGroupManager(store core.GroupStore, notes core.NotificationStore, provider core.VoiceProvider, dispatch *Dispatcher) *GroupManager {
	return &GroupManager{
		Store:    store,
		Notes:    notes,
		Provider: provider,
		Dispatch: dispatch,
		locks:    newKeyedMutex(),
	}
}

type GroupJoinResult struct {
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
	RoomID    string `json:"roomId"`
}

type InviteResult struct {
	Invited []domain.UserID `json:"invited"`
	Skipped []domain.UserID `json:"skipped"`
}

func GroupRoomName(channelID string) string { return "group-" + channelID }

func newInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (g *GroupManager) Create(ctx context.Context, creator domain.UserID, rawName string) (*domain.GroupVoiceSession, error) {
	name, err := domain.GroupName(rawName)
	if err != nil {
		return nil, err
	}
	ch := &domain.GroupVoiceSession{
		ID:         uuid.NewString(),
		Name:       name,
		CreatorID:  creator,
		InviteCode: newInviteCode(),
		CreatedAt:  time.Now(),
	}
	if err := g.Store.CreateGroup(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	log.Info().Str("module", "app.group").Str("channel_id", ch.ID).Str("user_id", creator.String()).Msg("group channel created")
	return ch, nil
}

func (g *GroupManager) ChannelsOf(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceSession, error) {
	return g.Store.GroupsOf(ctx, user)
}

// Channel is visible to members only.
func (g *GroupManager) Channel(ctx context.Context, user domain.UserID, channelID string) (*domain.GroupVoiceSession, []domain.GroupVoiceMember, error) {
	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("channel: %w", err)
	}
	if err := g.requireMember(ctx, ch.ID, user); err != nil {
		return nil, nil, err
	}
	members, err := g.Store.Members(ctx, ch.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("members: %w", err)
	}
	return ch, members, nil
}

type InvitePreview struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	CreatorID   domain.UserID `json:"creatorId"`
	MemberCount int           `json:"memberCount"`
}

// ByInviteCode is public; only a preview is exposed.
func (g *GroupManager) ByInviteCode(ctx context.Context, code string) (*InvitePreview, error) {
	ch, err := g.Store.GroupByInviteCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("invite link: %w", err)
	}
	members, err := g.Store.Members(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	return &InvitePreview{ID: ch.ID, Name: ch.Name, CreatorID: ch.CreatorID, MemberCount: len(members)}, nil
}

// AcceptInviteLink makes user a standing member through the public code.
func (g *GroupManager) AcceptInviteLink(ctx context.Context, user domain.UserID, code string) (*domain.GroupVoiceSession, error) {
	ch, err := g.Store.GroupByInviteCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("invite link: %w", err)
	}
	unlock := g.locks.Lock(ch.ID)
	defer unlock()
	if _, err := g.Store.AddMember(ctx, ch.ID, user); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return ch, nil
}

// Join enters the call. channelID requires standing membership; an invite code
// grants it.
func (g *GroupManager) Join(ctx context.Context, user domain.UserID, channelID, inviteCode string) (res *GroupJoinResult, err error) {
	defer func() { metrics.RecordVoiceOp("group_join", err) }()
	if !g.Provider.Configured() {
		return nil, fmt.Errorf("%w: voice service not configured", domain.ErrUpstreamUnavailable)
	}

	var ch *domain.GroupVoiceSession
	switch {
	case channelID != "":
		ch, err = g.Store.Group(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("channel: %w", err)
		}
		if err := g.requireMember(ctx, ch.ID, user); err != nil {
			return nil, err
		}
	case inviteCode != "":
		ch, err = g.Store.GroupByInviteCode(ctx, inviteCode)
		if err != nil {
			return nil, fmt.Errorf("invite link: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: channel id or invite code required", domain.ErrInvalidArgument)
	}

	// Membership changes hold the channel lock so Exit sees a stable member set.
	unlock := g.locks.Lock(ch.ID)
	defer unlock()
	ch, err = g.ensureRoom(ctx, ch)
	if err != nil {
		return nil, err
	}

	token, err := g.Provider.MintToken(ctx, ch.ExternalRoomID, user, core.RoleSpeaker)
	if err != nil {
		return nil, upstream("mint token", err)
	}
	if _, err := g.Store.AddMember(ctx, ch.ID, user); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	if err := g.Store.SetMemberActive(ctx, ch.ID, user, true); err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	g.broadcast(ctx, ch.ID, user, core.EvtVoiceJoined, nil)

	log.Info().Str("module", "app.group").Str("channel_id", ch.ID).Str("user_id", user.String()).Msg("joined group call")
	return &GroupJoinResult{Token: token, ChannelID: ch.ID, RoomID: ch.ExternalRoomID}, nil
}

// ensureRoom lazily attaches an external room; caller holds the channel lock.
func (g *GroupManager) ensureRoom(ctx context.Context, ch *domain.GroupVoiceSession) (*domain.GroupVoiceSession, error) {
	if ch.ExternalRoomID != "" {
		return ch, nil
	}
	fresh, err := g.Store.Group(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if fresh.ExternalRoomID != "" {
		return fresh, nil
	}
	roomID, err := g.Provider.CreateRoom(ctx, GroupRoomName(ch.ID))
	if err != nil {
		return nil, upstream("create room", err)
	}
	return g.Store.SetGroupRoom(ctx, ch.ID, roomID)
}

// Leave ends the call for user but keeps the membership.
func (g *GroupManager) Leave(ctx context.Context, user domain.UserID, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("%w: channel id required", domain.ErrInvalidArgument)
	}
	if err := g.Store.SetMemberActive(ctx, channelID, user, false); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: not a member of this channel", domain.ErrForbidden)
		}
		return fmt.Errorf("set inactive: %w", err)
	}
	g.broadcast(ctx, channelID, user, core.EvtVoiceLeft, nil)
	return nil
}

func (g *GroupManager) SetMuted(ctx context.Context, user domain.UserID, channelID string, muted bool) error {
	if err := g.Store.SetMemberMuted(ctx, channelID, user, muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	g.broadcast(ctx, channelID, user, core.EvtVoiceMuted, &muted)
	return nil
}

// Exit drops the standing membership. The last member out deletes the channel
// and its external room. It reports whether the channel was deleted.
func (g *GroupManager) Exit(ctx context.Context, user domain.UserID, channelID string) (deleted bool, err error) {
	defer func() { metrics.RecordVoiceOp("group_exit", err) }()
	if channelID == "" {
		return false, fmt.Errorf("%w: channel id required", domain.ErrInvalidArgument)
	}
	unlock := g.locks.Lock(channelID)
	defer unlock()

	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("channel: %w", err)
	}
	members, err := g.Store.Members(ctx, ch.ID)
	if err != nil {
		return false, fmt.Errorf("members: %w", err)
	}
	if !hasMember(members, user) {
		return false, fmt.Errorf("remove member: %w", domain.ErrNotFound)
	}
	if len(members) > 1 {
		if _, err := g.Store.RemoveMember(ctx, ch.ID, user); err != nil {
			return false, fmt.Errorf("remove member: %w", err)
		}
		g.broadcast(ctx, ch.ID, user, core.EvtVoiceLeft, nil)
		return false, nil
	}
	// Last member out. The external room ends before any local row goes.
	if err := g.destroy(ctx, ch); err != nil {
		return false, err
	}
	log.Info().Str("module", "app.group").Str("channel_id", ch.ID).Msg("channel deleted, no members remaining")
	return true, nil
}

// Delete is reserved to the creator.
func (g *GroupManager) Delete(ctx context.Context, user domain.UserID, channelID string) error {
	unlock := g.locks.Lock(channelID)
	defer unlock()

	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if ch.CreatorID != user {
		return fmt.Errorf("%w: only the creator can delete the channel", domain.ErrForbidden)
	}
	members, err := g.Store.Members(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("members: %w", err)
	}
	if err := g.destroy(ctx, ch); err != nil {
		return err
	}
	ids := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		if m.UserID != user {
			ids = append(ids, m.UserID)
		}
	}
	g.Dispatch.ToUsers(ids, core.Event{
		Type:    core.EvtGroupVoiceUpdated,
		Message: "Channel deleted",
		Data:    core.VoiceData{ChannelID: ch.ID, UserID: user},
	})
	return nil
}

// destroy ends the external room before dropping local rows.
func (g *GroupManager) destroy(ctx context.Context, ch *domain.GroupVoiceSession) error {
	if ch.ExternalRoomID != "" && g.Provider.Configured() {
		if err := g.Provider.EndRoom(ctx, ch.ExternalRoomID); err != nil {
			return upstream("end room", err)
		}
	}
	if err := g.Store.DeleteGroup(ctx, ch.ID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

func hasMember(members []domain.GroupVoiceMember, user domain.UserID) bool {
	for _, m := range members {
		if m.UserID == user {
			return true
		}
	}
	return false
}

// RemoveMember is reserved to the creator, who cannot remove themselves this way.
func (g *GroupManager) RemoveMember(ctx context.Context, actor domain.UserID, channelID string, target domain.UserID) error {
	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if ch.CreatorID != actor {
		return fmt.Errorf("%w: only the creator can remove members", domain.ErrForbidden)
	}
	if target == actor {
		return fmt.Errorf("%w: creator must exit instead", domain.ErrInvalidArgument)
	}
	unlock := g.locks.Lock(ch.ID)
	defer unlock()
	if _, err := g.Store.RemoveMember(ctx, ch.ID, target); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	g.broadcast(ctx, ch.ID, target, core.EvtVoiceLeft, nil)
	g.Dispatch.ToUsers([]domain.UserID{target}, core.Event{
		Type:    core.EvtGroupVoiceUpdated,
		Message: "Removed from channel",
		Data:    core.VoiceData{ChannelID: ch.ID, UserID: target},
	})
	return nil
}

// Members reconciles local active flags with the provider's peer list and writes
// corrections back. Provider failures fall back to local state.
func (g *GroupManager) Members(ctx context.Context, user domain.UserID, channelID string) ([]domain.GroupVoiceMember, error) {
	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if err := g.requireMember(ctx, ch.ID, user); err != nil {
		return nil, err
	}
	members, err := g.Store.Members(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	if ch.ExternalRoomID == "" || !g.Provider.Configured() {
		return members, nil
	}
	peers, err := g.Provider.ActivePeers(ctx, ch.ExternalRoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.group").Str("channel_id", ch.ID).Msg("active peers unavailable, using local state")
		return members, nil
	}
	live := make(map[domain.UserID]struct{}, len(peers))
	for _, p := range peers {
		live[p] = struct{}{}
	}
	drift := false
	active := make([]domain.UserID, 0, len(peers))
	for i := range members {
		_, on := live[members[i].UserID]
		if members[i].IsActive != on {
			drift = true
			members[i].IsActive = on
		}
		if on {
			active = append(active, members[i].UserID)
		}
	}
	if drift {
		if err := g.Store.SyncActive(ctx, ch.ID, active); err != nil {
			log.Warn().Err(err).Str("module", "app.group").Str("channel_id", ch.ID).Msg("write back active flags")
		}
	}
	return members, nil
}

// Invite skips users who already hold a pending invite for the channel.
func (g *GroupManager) Invite(ctx context.Context, inviter domain.UserID, channelID string, invitees []domain.UserID) (*InviteResult, error) {
	if channelID == "" || len(invitees) == 0 {
		return nil, fmt.Errorf("%w: channel id and user ids required", domain.ErrInvalidArgument)
	}
	ch, err := g.Store.Group(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if err := g.requireMember(ctx, ch.ID, inviter); err != nil {
		return nil, err
	}
	res := &InviteResult{Invited: []domain.UserID{}, Skipped: []domain.UserID{}}
	for _, u := range invitees {
		if u.Anonymous() || u == inviter {
			res.Skipped = append(res.Skipped, u)
			continue
		}
		inv := &domain.GroupVoiceInvite{
			ID:        uuid.NewString(),
			ChannelID: ch.ID,
			InviterID: inviter,
			InviteeID: u,
			Status:    domain.InvitePending,
			CreatedAt: time.Now(),
		}
		err := g.Store.CreateInvite(ctx, inv)
		if errors.Is(err, domain.ErrConflict) {
			res.Skipped = append(res.Skipped, u)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create invite: %w", err)
		}
		res.Invited = append(res.Invited, u)
		g.notify(ctx, u, inviter, domain.NotifyVoiceChannelInvite, "Voice Channel Invite",
			fmt.Sprintf("You were invited to join %q", ch.Name))
	}
	return res, nil
}

// Invites lists pending invites the user received followed by those they sent.
func (g *GroupManager) Invites(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	received, err := g.Store.InvitesReceived(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("received invites: %w", err)
	}
	sent, err := g.Store.InvitesSent(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("sent invites: %w", err)
	}
	return append(received, sent...), nil
}

func (g *GroupManager) CancelInvite(ctx context.Context, user domain.UserID, inviteID string) error {
	inv, err := g.Store.Invite(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("invite: %w", err)
	}
	if inv.InviterID != user {
		return fmt.Errorf("%w: only the inviter can cancel", domain.ErrForbidden)
	}
	return g.Store.DeleteInvite(ctx, inv.ID)
}

// RespondInvite accepts or declines a pending invite; accepting adds a standing
// membership. The inviter is notified either way.
func (g *GroupManager) RespondInvite(ctx context.Context, user domain.UserID, inviteID string, accept bool) (*domain.GroupVoiceInvite, error) {
	inv, err := g.Store.Invite(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("invite: %w", err)
	}
	if inv.InviteeID != user {
		return nil, fmt.Errorf("%w: invite belongs to another user", domain.ErrForbidden)
	}
	if inv.Status != domain.InvitePending {
		return nil, fmt.Errorf("%w: invite already %s", domain.ErrConflict, inv.Status)
	}
	ch, err := g.Store.Group(ctx, inv.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}

	status, kind, title, verb := domain.InviteDeclined, domain.NotifyVoiceInviteDeclined, "Invite Declined", "declined"
	if accept {
		status, kind, title, verb = domain.InviteAccepted, domain.NotifyVoiceInviteAccepted, "Invite Accepted", "accepted"
		unlock := g.locks.Lock(ch.ID)
		_, err := g.Store.AddMember(ctx, ch.ID, user)
		unlock()
		if err != nil {
			return nil, fmt.Errorf("add member: %w", err)
		}
	}
	inv, err = g.Store.SetInviteStatus(ctx, inv.ID, status)
	if err != nil {
		return nil, fmt.Errorf("update invite: %w", err)
	}
	g.notify(ctx, inv.InviterID, user, kind, title, fmt.Sprintf("Your invite to %q was %s", ch.Name, verb))
	return inv, nil
}

func (g *GroupManager) requireMember(ctx context.Context, channelID string, user domain.UserID) error {
	_, err := g.Store.Member(ctx, channelID, user)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: not a member of this channel", domain.ErrForbidden)
	}
	if err != nil {
		return fmt.Errorf("member: %w", err)
	}
	return nil
}

// broadcast tells the channel's other members about a call change.
func (g *GroupManager) broadcast(ctx context.Context, channelID string, user domain.UserID, typ string, muted *bool) {
	members, err := g.Store.Members(ctx, channelID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.group").Str("channel_id", channelID).Msg("members for broadcast")
		return
	}
	ids := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		if m.UserID != user {
			ids = append(ids, m.UserID)
		}
	}
	g.Dispatch.ToUsers(ids, core.Event{
		Type: typ,
		Data: core.VoiceData{ChannelID: channelID, UserID: user, IsMuted: muted, Members: members},
	})
}

func (g *GroupManager) notify(ctx context.Context, to, related domain.UserID, kind domain.NotificationType, title, msg string) {
	if g.Notes == nil {
		return
	}
	n := &domain.Notification{
		ID:            uuid.NewString(),
		UserID:        to,
		Type:          kind,
		Title:         title,
		Message:       msg,
		RelatedUserID: related,
		ActionURL:     "/voice-channels",
		CreatedAt:     time.Now(),
	}
	if err := g.Notes.CreateNotification(ctx, n); err != nil {
		log.Error().Err(err).Str("module", "app.group").Str("user_id", to.String()).Msg("create notification")
		return
	}
	g.Dispatch.ToUsers([]domain.UserID{to}, core.Event{Type: core.EvtNewNotification, Message: "New notification", Data: n})
}
