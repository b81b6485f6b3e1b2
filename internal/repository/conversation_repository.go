package repository

import (
	"context"
	"errors"
	"time"

	"github.com/meguriba/meguriba-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTokenCollision = errors.New("handoff token already in use")

type ConversationRepository interface {
	FindByID(ctx context.Context, id uint64) (*model.Conversation, error)
	FindByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	// FindOrCreateContact returns the ungated contact conversation between
	// the two users for an item, creating it active if absent.
	FindOrCreateContact(ctx context.Context, itemID uint64, creatorUID, participantUID string) (*model.Conversation, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, convID uint64) ([]model.Message, error)
	// MarkMessagesRead stamps read_at on the counterpart's unread messages.
	MarkMessagesRead(ctx context.Context, convID uint64, readerUID string) (int64, error)
	CountUnread(ctx context.Context, convID uint64, readerUID string) (int64, error)
	// AssignHandoffToken stores code on the conversation unless one is
	// already present, in which case the existing code is returned. A code
	// colliding with any other unconfirmed token is refused.
	AssignHandoffToken(ctx context.Context, convID uint64, code string) (string, error)
	SetDB(db *gorm.DB)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) SetDB(db *gorm.DB) {
	r.db = db
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).First(&cv, id).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Conversation
	if err := r.db.WithContext(ctx).
		Where("creator_uid = ? OR participant_uid = ?", uid, uid).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *conversationRepository) FindOrCreateContact(ctx context.Context, itemID uint64, creatorUID, participantUID string) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	cv := model.Conversation{
		ItemID:         &itemID,
		CreatorUID:     creatorUID,
		ParticipantUID: participantUID,
		Status:         model.ConversationStatusActive,
	}
	if err := r.db.WithContext(ctx).
		Where("item_id = ? AND creator_uid = ? AND negotiation_request_id IS NULL", itemID, creatorUID).
		FirstOrCreate(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) CreateMessage(ctx context.Context, msg *model.Message) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *conversationRepository) ListMessages(ctx context.Context, convID uint64) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msgs []model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *conversationRepository) MarkMessagesRead(ctx context.Context, convID uint64, readerUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND sender_uid <> ? AND read_at IS NULL", convID, readerUID).
		Update("read_at", now)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *conversationRepository) CountUnread(ctx context.Context, convID uint64, readerUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND sender_uid <> ? AND read_at IS NULL", convID, readerUID).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

func (r *conversationRepository) AssignHandoffToken(ctx context.Context, convID uint64, code string) (string, error) {
	if r.db == nil {
		return "", ErrDBNotReady
	}
	var assigned string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cv model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cv, convID).Error; err != nil {
			return err
		}
		if cv.HandoffToken != nil && *cv.HandoffToken != "" {
			assigned = *cv.HandoffToken
			return nil
		}
		var cnt int64
		if err := tx.Model(&model.Conversation{}).
			Where("handoff_token = ? AND handoff_confirmed = ?", code, false).
			Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			return ErrTokenCollision
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", convID).
			Update("handoff_token", code).Error; err != nil {
			return err
		}
		assigned = code
		return nil
	})
	if err != nil {
		return "", err
	}
	return assigned, nil
}
