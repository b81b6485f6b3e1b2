package chatgate

import "github.com/meguriba/meguriba-backend/internal/model"

// Reason tells the client why sending is currently blocked so it can
// render the right state instead of a generic error.
type Reason string

const (
	ReasonNotParticipant    Reason = "not-participant"
	ReasonAwaitingAccept    Reason = "awaiting-mutual-acceptance"
	ReasonDeclined          Reason = "declined"
	ReasonHandoffConfirmed  Reason = "handoff-already-confirmed"
	ReasonConversationState Reason = "conversation-not-active"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

// DeniedError carries a denial reason across layer boundaries so transports
// can report it to the sender alone.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "message blocked: " + string(e.Reason)
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

// CanSend decides whether sender may append a message to the conversation
// right now. req is the gating negotiation request, nil for ad-hoc contact
// conversations. The decision is pure: callers re-evaluate it at send time,
// never cache it across state changes.
func CanSend(conv *model.Conversation, req *model.NegotiationRequest, senderUID string) Decision {
	if conv == nil || !conv.HasParticipant(senderUID) {
		return deny(ReasonNotParticipant)
	}

	if !conv.Gated() || req == nil {
		switch conv.Status {
		case model.ConversationStatusActive:
			return allow()
		case model.ConversationStatusDeclined:
			return deny(ReasonDeclined)
		default:
			return deny(ReasonConversationState)
		}
	}

	if conv.Status == model.ConversationStatusDeclined || req.Status == model.NegotiationStatusRejected {
		return deny(ReasonDeclined)
	}
	if conv.HandoffConfirmed || req.Status == model.NegotiationStatusCompleted {
		return deny(ReasonHandoffConfirmed)
	}
	if conv.Status != model.ConversationStatusActive || !req.OwnerAccepted || !req.RequesterAccepted {
		return deny(ReasonAwaitingAccept)
	}
	return allow()
}
