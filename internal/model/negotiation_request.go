package model

import "time"

type NegotiationType string

const (
	NegotiationTypeExchange NegotiationType = "exchange"
	NegotiationTypeDonation NegotiationType = "donation"
)

type NegotiationStatus string

const (
	NegotiationStatusPending   NegotiationStatus = "pending"
	NegotiationStatusActive    NegotiationStatus = "active"
	NegotiationStatusCompleted NegotiationStatus = "completed"
	NegotiationStatusRejected  NegotiationStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s NegotiationStatus) IsTerminal() bool {
	return s == NegotiationStatusCompleted || s == NegotiationStatusRejected
}

type NegotiationRequest struct {
	ID                uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID            uint64            `gorm:"column:item_id;index:idx_item_requester" json:"itemId"`
	OwnerUID          string            `gorm:"column:owner_uid;size:128;index" json:"ownerUid"`
	RequesterUID      string            `gorm:"column:requester_uid;size:128;index:idx_item_requester" json:"requesterUid"`
	Type              NegotiationType   `gorm:"column:type;size:16;not null" json:"type"`
	Status            NegotiationStatus `gorm:"column:status;size:16;not null;default:pending" json:"status"`
	OwnerAccepted     bool              `gorm:"column:owner_accepted;not null;default:false" json:"ownerAccepted"`
	RequesterAccepted bool              `gorm:"column:requester_accepted;not null;default:false" json:"requesterAccepted"`
	Message           string            `gorm:"type:text" json:"message,omitempty"`
	RecipientName     string            `gorm:"column:recipient_name;size:120" json:"recipientName,omitempty"`
	RecipientContact  string            `gorm:"column:recipient_contact;size:255" json:"recipientContact,omitempty"`
	ConversationID    uint64            `gorm:"column:conversation_id;index" json:"conversationId"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (NegotiationRequest) TableName() string {
	return "negotiation_requests"
}
