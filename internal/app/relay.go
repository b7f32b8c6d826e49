package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// SignalRelay forwards call-setup messages between the two participants of an
// accepted relationship. Authorization is re-derived from the store on every message.
type SignalRelay struct {
	Relations core.RelationshipStore
	Dispatch  *Dispatcher
}

// Relay returns the number of target connections that received the message.
// Errors are meant for the sender only.
func (r *SignalRelay) Relay(ctx context.Context, from domain.UserID, in core.Inbound) (int, error) {
	n, err := r.relay(ctx, from, in)
	metrics.SignalsRelayed.WithLabelValues(in.Type, outcome(err)).Inc()
	return n, err
}

func (r *SignalRelay) relay(ctx context.Context, from domain.UserID, in core.Inbound) (int, error) {
	if from.Anonymous() {
		return 0, fmt.Errorf("%w: authentication required for signaling", domain.ErrUnauthorized)
	}
	if !core.IsSignaling(in.Type) {
		return 0, fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidArgument, in.Type)
	}
	if in.TargetUserID.Anonymous() || in.ConversationID == "" {
		return 0, fmt.Errorf("%w: target user id and conversation id required", domain.ErrInvalidArgument)
	}
	if err := validatePayload(in.Type, in.Payload); err != nil {
		return 0, err
	}

	rel, err := r.Relations.Relationship(ctx, in.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("%w: connection not found or you are not authorized", domain.ErrForbidden)
	}
	if err != nil {
		return 0, fmt.Errorf("load relationship: %w", err)
	}
	other, ok := domain.Counterpart(rel, from)
	if !ok {
		return 0, fmt.Errorf("%w: connection not found or you are not authorized", domain.ErrForbidden)
	}
	if other != in.TargetUserID {
		return 0, fmt.Errorf("%w: target user is not a participant in this connection", domain.ErrForbidden)
	}
	if rel.Status() != domain.StatusAccepted {
		return 0, fmt.Errorf("%w: connection must be accepted before initiating voice", domain.ErrForbidden)
	}

	sent := r.Dispatch.ToUsers([]domain.UserID{in.TargetUserID}, core.Event{
		Type: in.Type,
		Data: core.SignalData{
			ConversationID: in.ConversationID,
			FromUserID:     from,
			Payload:        in.Payload,
		},
	})
	log.Debug().
		Str("module", "app.relay").
		Str("type", in.Type).
		Str("from", from.String()).
		Str("to", in.TargetUserID.String()).
		Int("delivered", sent).
		Msg("signal relayed")
	if sent == 0 {
		return 0, domain.ErrTargetUnreachable
	}
	return sent, nil
}

// validatePayload checks the shape of offers, answers and candidates so garbage
// never reaches the other peer. Control messages carry no required payload.
func validatePayload(typ string, payload json.RawMessage) error {
	switch typ {
	case core.MsgWebRTCOffer, core.MsgWebRTCAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return fmt.Errorf("%w: bad session description: %v", domain.ErrInvalidArgument, err)
		}
		if typ == core.MsgWebRTCOffer && desc.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: expected offer, got %s", domain.ErrInvalidArgument, desc.Type)
		}
		if typ == core.MsgWebRTCAnswer && desc.Type != webrtc.SDPTypeAnswer && desc.Type != webrtc.SDPTypePranswer {
			return fmt.Errorf("%w: expected answer, got %s", domain.ErrInvalidArgument, desc.Type)
		}
		parsed, err := desc.Unmarshal()
		if err != nil {
			return fmt.Errorf("%w: bad sdp: %v", domain.ErrInvalidArgument, err)
		}
		return requireMedia(parsed)
	case core.MsgWebRTCCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &cand); err != nil {
			return fmt.Errorf("%w: bad ice candidate: %v", domain.ErrInvalidArgument, err)
		}
	}
	return nil
}

func requireMedia(desc *sdp.SessionDescription) error {
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: session description has no media sections", domain.ErrInvalidArgument)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTargetUnreachable):
		return "unreachable"
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUnauthorized):
		return "rejected"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
