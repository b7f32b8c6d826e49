package core

import (
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/goccy/go-json"
)

// Server → client event types.
const (
	EvtWelcome     = "welcome"
	EvtAuthSuccess = "auth_success"
	EvtAuthFailed  = "auth_failed"
	EvtPong        = "pong"
	EvtError       = "error"
	EvtWebRTCError = "webrtc_error"

	EvtUserOnline  = "user_online"
	EvtUserOffline = "user_offline"

	EvtNewMessage      = "new_message"
	EvtNewNotification = "new_notification"

	EvtVoiceJoined = "voice_participant_joined"
	EvtVoiceLeft   = "voice_participant_left"
	EvtVoiceMuted  = "voice_participant_muted"

	EvtGroupVoiceUpdated = "group_voice_updated"
)

// Client → server message types. Signaling types are echoed back to the target as-is.
const (
	MsgPing            = "ping"
	MsgWebRTCOffer     = "webrtc_offer"
	MsgWebRTCAnswer    = "webrtc_answer"
	MsgWebRTCCandidate = "webrtc_ice_candidate"
	MsgVoiceReady      = "voice_channel_ready"
	MsgVoiceLeft       = "voice_channel_left"
)

// IsSignaling reports whether t is relayed peer to peer.
func IsSignaling(t string) bool {
	switch t {
	case MsgWebRTCOffer, MsgWebRTCAnswer, MsgWebRTCCandidate, MsgVoiceReady, MsgVoiceLeft:
		return true
	}
	return false
}

// Event is the single server → client envelope.
type Event struct {
	Type    string        `json:"type"`
	Message string        `json:"message,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	UserID  domain.UserID `json:"userId,omitempty"`
	Data    any           `json:"data,omitempty"`
}

// VoiceData is carried by voice_participant_* events.
type VoiceData struct {
	ConversationID string                    `json:"conversationId,omitempty"`
	ChannelID      string                    `json:"channelId,omitempty"`
	UserID         domain.UserID             `json:"userId"`
	IsMuted        *bool                     `json:"isMuted,omitempty"`
	Participants   []domain.VoiceParticipant `json:"participants,omitempty"`
	Members        []domain.GroupVoiceMember `json:"members,omitempty"`
}

// SignalData is what a relay target receives.
type SignalData struct {
	ConversationID string          `json:"conversationId"`
	FromUserID     domain.UserID   `json:"fromUserId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a client → server message.
type Inbound struct {
	Type           string          `json:"type"`
	TargetUserID   domain.UserID   `json:"targetUserId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func Encode(e Event) (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

func Decode(data []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(data, &in)
	return in, err
}

// ErrorEvent builds the sender-facing error notice.
func ErrorEvent(typ, message string) Event {
	return Event{Type: typ, Message: message}
}
