package model

import "time"

type ItemStatus string

const (
	ItemStatusActive     ItemStatus = "active"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusExchanged  ItemStatus = "exchanged"
	ItemStatusDonated    ItemStatus = "donated"
)

type Item struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerUID    string     `gorm:"column:owner_uid;size:128;index;not null" json:"ownerUid"`
	Title       string     `gorm:"size:120;not null" json:"title"`
	Description string     `gorm:"type:text;not null" json:"description"`
	Status      ItemStatus `gorm:"column:status;size:32;not null;default:active" json:"status"`
	ImageURL    *string    `gorm:"size:512" json:"imageUrl,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Item) TableName() string {
	return "items"
}
