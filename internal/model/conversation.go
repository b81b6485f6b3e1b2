package model

import "time"

type ConversationStatus string

const (
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusDeclined ConversationStatus = "declined"
)

type Conversation struct {
	ID                   uint64             `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatorUID           string             `gorm:"column:creator_uid;size:128;index" json:"creatorUid"`
	ParticipantUID       string             `gorm:"column:participant_uid;size:128;index" json:"participantUid"`
	ItemID               *uint64            `gorm:"column:item_id;index" json:"itemId,omitempty"`
	NegotiationRequestID *uint64            `gorm:"column:negotiation_request_id;uniqueIndex" json:"negotiationRequestId,omitempty"`
	Status               ConversationStatus `gorm:"column:status;size:16;not null;default:pending" json:"status"`
	OwnerAccepted        bool               `gorm:"column:owner_accepted;not null;default:false" json:"ownerAccepted"`
	RequesterAccepted    bool               `gorm:"column:requester_accepted;not null;default:false" json:"requesterAccepted"`
	HandoffToken         *string            `gorm:"column:handoff_token;size:16;index" json:"-"`
	HandoffConfirmed     bool               `gorm:"column:handoff_confirmed;not null;default:false" json:"handoffConfirmed"`
	HandoffConfirmedAt   *time.Time         `gorm:"column:handoff_confirmed_at" json:"handoffConfirmedAt,omitempty"`
	CreatedAt            time.Time          `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time          `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Gated reports whether messaging on this conversation is controlled
// by a negotiation request.
func (c *Conversation) Gated() bool {
	return c.NegotiationRequestID != nil
}

// HasParticipant reports whether uid is one of the two parties.
func (c *Conversation) HasParticipant(uid string) bool {
	return uid != "" && (c.CreatorUID == uid || c.ParticipantUID == uid)
}

// Counterpart returns the other party relative to uid.
func (c *Conversation) Counterpart(uid string) string {
	if c.CreatorUID == uid {
		return c.ParticipantUID
	}
	return c.CreatorUID
}
