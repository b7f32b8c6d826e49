package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceConcurrentJoinsShareOneSession(t *testing.T) {
	for _, idempotent := range []bool{true, false} {
		name := "provider reuses rooms by name"
		if !idempotent {
			name = "provider creates a room per call"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, accepted("c1", "alice", "bob"))
			h.prov.idempotent = idempotent
			h.prov.gate = make(chan struct{})
			h.prov.arrived = make(chan struct{}, 2)

			var wg sync.WaitGroup
			results := make([]*JoinResult, 2)
			errs := make([]error, 2)
			for i, u := range []domain.UserID{"alice", "bob"} {
				wg.Add(1)
				go func(i int, u domain.UserID) {
					defer wg.Done()
					results[i], errs[i] = h.voice.Join(context.Background(), u, "c1")
				}(i, u)
			}
			// both joiners missed the row and are inside CreateRoom
			<-h.prov.arrived
			<-h.prov.arrived
			close(h.prov.gate)
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.Equal(t, 1, h.vstore.sessionCount())
			assert.Equal(t, results[0].RoomID, results[1].RoomID)
			assert.Equal(t, results[0].Session.ID, results[1].Session.ID)

			parts, err := h.vstore.Participants(context.Background(), results[0].Session.ID)
			require.NoError(t, err)
			assert.Len(t, parts, 2)

			if idempotent {
				assert.Equal(t, 1, h.prov.createdCount())
				assert.Empty(t, h.prov.ended)
			} else {
				assert.Equal(t, 2, h.prov.createdCount())
				require.Len(t, h.prov.ended, 1)
				assert.NotEqual(t, results[0].RoomID, h.prov.ended[0], "the losing room is released")
			}
		})
	}
}

func TestVoiceEmptySessionIsDeleted(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()

	first := h.mustJoin(t, "alice", "c1")
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))

	_, err := h.vstore.SessionByConversation(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	second := h.mustJoin(t, "alice", "c1")
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.RoomID, second.RoomID, "provider reuses the room by name")

	// leaving twice is fine
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))
}

func TestVoiceJoinHangsUpPreviousCall(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"), accepted("c2", "alice", "carol"))
	ctx := context.Background()
	h.connect("alice")
	_, bob := h.connect("bob")

	s1 := h.mustJoin(t, "alice", "c1")
	h.mustJoin(t, "bob", "c1")
	h.mustJoin(t, "alice", "c2")

	parts, err := h.vstore.Participants(ctx, s1.Session.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, domain.UserID("bob"), parts[0].UserID)

	left := bob.ofType(core.EvtVoiceLeft)
	require.Len(t, left, 1)

	cur, err := h.vstore.SessionOfUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "c2", cur.ConversationID)
}

func TestVoiceJoinRequiresAcceptedRelationship(t *testing.T) {
	h := newHarness(t,
		accepted("c1", "alice", "bob"),
		domain.ConnectionRequest{RequestID: "c2", SenderID: "alice", ReceiverID: "carol", State: domain.StatusPending},
	)
	ctx := context.Background()

	_, err := h.voice.Join(ctx, "mallory", "c1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.voice.Join(ctx, "alice", "c2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.voice.Join(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.voice.Join(ctx, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, 0, h.vstore.sessionCount())
}

func TestVoiceUpstreamFailureLeavesNoPartialState(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()

	h.prov.configured = false
	_, err := h.voice.Join(ctx, "alice", "c1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	h.prov.configured = true
	h.prov.createErr = errors.New("502 bad gateway")
	_, err = h.voice.Join(ctx, "alice", "c1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 0, h.vstore.sessionCount())

	h.prov.createErr = nil
	h.prov.tokenErr = errors.New("timeout")
	_, err = h.voice.Join(ctx, "alice", "c1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	_, err = h.vstore.SessionOfUser(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound, "no participant row without a token")
}

func TestVoiceMuteBroadcastsToOthers(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()
	_, alice := h.connect("alice")
	_, bob := h.connect("bob")
	h.mustJoin(t, "alice", "c1")
	h.mustJoin(t, "bob", "c1")

	p, all, err := h.voice.SetMuted(ctx, "alice", "c1", true)
	require.NoError(t, err)
	assert.True(t, p.IsMuted)
	assert.Len(t, all, 2)
	assert.Len(t, bob.ofType(core.EvtVoiceMuted), 1)
	assert.Empty(t, alice.ofType(core.EvtVoiceMuted))

	_, _, err = h.voice.SetMuted(ctx, "alice", "nope", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVoiceChannelRead(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()

	s, parts, err := h.voice.Channel(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, parts)

	h.mustJoin(t, "alice", "c1")
	s, parts, err = h.voice.Channel(ctx, "bob", "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, parts, 1)

	_, _, err = h.voice.Channel(ctx, "mallory", "c1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// alice waits, bob is notified once, bob joins, alice's app dies, bob leaves last.
func TestVoiceWaitingAndUngracefulDisconnect(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()
	aliceID, alice := h.connect("alice")
	bobID, bob := h.connect("bob")

	res := h.mustJoin(t, "alice", "c1")
	assert.Len(t, res.Participants, 1)
	assert.Empty(t, bob.ofType(core.EvtVoiceJoined))
	assert.Len(t, bob.ofType(core.EvtNewNotification), 1)
	assert.Len(t, h.notes.of("bob", domain.NotifyVoiceCallWaiting), 1)

	// leave and rejoin within the window: no second notification
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))
	waiting := h.notes.of("bob", domain.NotifyVoiceCallWaiting)
	require.Len(t, waiting, 1)
	assert.True(t, waiting[0].IsRead, "leaving clears the waiting notice")
	h.clock.Advance(time.Minute)
	h.gw.Touch(aliceID)
	h.gw.Touch(bobID)
	h.mustJoin(t, "alice", "c1")
	assert.Len(t, bob.ofType(core.EvtNewNotification), 1)

	h.mustJoin(t, "bob", "c1")
	assert.Len(t, alice.ofType(core.EvtVoiceJoined), 1)

	// alice stops answering probes
	h.clock.Advance(30 * time.Second)
	h.gw.Touch(bobID)
	h.hb.Sweep(ctx)
	h.clock.Advance(11 * time.Second)
	h.gw.Touch(bobID)
	assert.Equal(t, 1, h.hb.Sweep(ctx))
	_, ok := h.reg.Conn(aliceID)
	assert.False(t, ok)
	require.Len(t, bob.ofType(core.EvtVoiceLeft), 1)

	require.NoError(t, h.voice.Leave(ctx, "bob", "c1"))
	_, err := h.vstore.SessionByConversation(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVoiceWaitingNotificationAfterWindow(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	ctx := context.Background()

	h.mustJoin(t, "alice", "c1")
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))
	h.clock.Advance(DefaultWaitingWindow + time.Second)
	h.mustJoin(t, "alice", "c1")

	assert.Len(t, h.notes.of("bob", domain.NotifyVoiceCallWaiting), 2)
}

func TestVoiceZeroWaitingWindowNotifiesEveryTime(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	h.voice.WaitingWindow = 0
	ctx := context.Background()

	h.mustJoin(t, "alice", "c1")
	require.NoError(t, h.voice.Leave(ctx, "alice", "c1"))
	h.mustJoin(t, "alice", "c1")

	assert.Len(t, h.notes.of("bob", domain.NotifyVoiceCallWaiting), 2)
}

func TestVoiceJoinTokenMatchesRecreatedRoom(t *testing.T) {
	h := newHarness(t, accepted("c1", "alice", "bob"))
	h.prov.idempotent = false
	ctx := context.Background()

	first, err := h.voice.ensureSession(ctx, "c1")
	require.NoError(t, err)
	// The session disappears between the upsert and the participant insert.
	h.vstore.beforeAdd = func() { h.vstore.drop("c1") }

	res := h.mustJoin(t, "alice", "c1")
	assert.NotEqual(t, first.ExternalRoomID, res.RoomID)
	assert.Equal(t, "tok:"+res.RoomID+":alice:speaker", res.Token)
	require.Len(t, res.Participants, 1)
	assert.Equal(t, domain.UserID("alice"), res.Participants[0].UserID)
}
