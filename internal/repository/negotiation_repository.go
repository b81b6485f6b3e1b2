package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/meguriba/meguriba-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcceptRole names which side of the negotiation is accepting.
type AcceptRole string

const (
	RoleOwner     AcceptRole = "owner"
	RoleRequester AcceptRole = "requester"
)

var (
	ErrNotPending    = errors.New("request is not pending")
	ErrNotActive     = errors.New("request is not active")
	ErrTerminalState = errors.New("request is in a terminal state")
)

// DuplicateOpenError reports that the requester already has an open request
// on the item; detected under the insert's row locks so two concurrent
// creates cannot both slip past the pre-check.
type DuplicateOpenError struct {
	ExistingID uint64
}

func (e *DuplicateOpenError) Error() string {
	return fmt.Sprintf("open request %d already exists for this item and requester", e.ExistingID)
}

type NegotiationRepository interface {
	// CreateWithConversation persists the request and its paired
	// conversation in one transaction and cross-links the two rows.
	CreateWithConversation(ctx context.Context, req *model.NegotiationRequest, conv *model.Conversation) error
	FindByID(ctx context.Context, id uint64) (*model.NegotiationRequest, error)
	FindOpenByItemAndRequester(ctx context.Context, itemID uint64, requesterUID string) (*model.NegotiationRequest, error)
	HasOpenByItem(ctx context.Context, itemID uint64) (bool, error)
	ListForUser(ctx context.Context, uid string) ([]model.NegotiationRequest, error)
	// Accept sets one acceptance flag under a row lock and, when both
	// flags become true in the same transaction, transitions the request
	// and its conversation to active. becameActive is true only for the
	// call that performed that transition.
	Accept(ctx context.Context, id uint64, role AcceptRole) (req *model.NegotiationRequest, becameActive bool, err error)
	// Reject moves a non-terminal request to rejected and declines its
	// conversation.
	Reject(ctx context.Context, id uint64) (*model.NegotiationRequest, error)
	// ConfirmHandoff flips the conversation's handoff_confirmed and moves
	// the request to completed in one transaction. The request must still
	// be active under the row lock: ErrNotActive for rejected or pending,
	// rows==0 when the handoff was already confirmed.
	ConfirmHandoff(ctx context.Context, id uint64) (int64, error)
	SetDB(db *gorm.DB)
}

type negotiationRepository struct {
	db *gorm.DB
}

func NewNegotiationRepository(db *gorm.DB) NegotiationRepository {
	return &negotiationRepository{db: db}
}

func (r *negotiationRepository) CreateWithConversation(ctx context.Context, req *model.NegotiationRequest, conv *model.Conversation) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check the open-request uniqueness under the transaction's
		// locks; the caller's pre-check can race a concurrent create.
		var dup model.NegotiationRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_id = ? AND requester_uid = ? AND status IN ?",
				req.ItemID, req.RequesterUID,
				[]model.NegotiationStatus{model.NegotiationStatusPending, model.NegotiationStatusActive}).
			First(&dup).Error
		if err == nil {
			return &DuplicateOpenError{ExistingID: dup.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		conv.NegotiationRequestID = &req.ID
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		req.ConversationID = conv.ID
		return tx.Model(req).Update("conversation_id", conv.ID).Error
	})
}

func (r *negotiationRepository) FindByID(ctx context.Context, id uint64) (*model.NegotiationRequest, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var req model.NegotiationRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *negotiationRepository) FindOpenByItemAndRequester(ctx context.Context, itemID uint64, requesterUID string) (*model.NegotiationRequest, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var req model.NegotiationRequest
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND requester_uid = ? AND status IN ?",
			itemID, requesterUID,
			[]model.NegotiationStatus{model.NegotiationStatusPending, model.NegotiationStatusActive}).
		Order("id DESC").
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *negotiationRepository) HasOpenByItem(ctx context.Context, itemID uint64) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.NegotiationRequest{}).
		Where("item_id = ? AND status IN ?",
			itemID,
			[]model.NegotiationStatus{model.NegotiationStatusPending, model.NegotiationStatusActive}).
		Count(&cnt).Error
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *negotiationRepository) ListForUser(ctx context.Context, uid string) ([]model.NegotiationRequest, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.NegotiationRequest
	if err := r.db.WithContext(ctx).
		Where("owner_uid = ? OR requester_uid = ?", uid, uid).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *negotiationRepository) Accept(ctx context.Context, id uint64, role AcceptRole) (*model.NegotiationRequest, bool, error) {
	if r.db == nil {
		return nil, false, ErrDBNotReady
	}
	var (
		req          model.NegotiationRequest
		becameActive bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, id).Error; err != nil {
			return err
		}
		if req.Status != model.NegotiationStatusPending {
			return ErrNotPending
		}
		switch role {
		case RoleOwner:
			req.OwnerAccepted = true
		case RoleRequester:
			req.RequesterAccepted = true
		}
		updates := map[string]interface{}{
			"owner_accepted":     req.OwnerAccepted,
			"requester_accepted": req.RequesterAccepted,
		}
		if req.OwnerAccepted && req.RequesterAccepted {
			req.Status = model.NegotiationStatusActive
			updates["status"] = model.NegotiationStatusActive
			becameActive = true
		}
		if err := tx.Model(&model.NegotiationRequest{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return err
		}
		convUpdates := map[string]interface{}{
			"owner_accepted":     req.OwnerAccepted,
			"requester_accepted": req.RequesterAccepted,
		}
		if becameActive {
			convUpdates["status"] = model.ConversationStatusActive
		}
		return tx.Model(&model.Conversation{}).
			Where("negotiation_request_id = ?", id).
			Updates(convUpdates).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &req, becameActive, nil
}

func (r *negotiationRepository) Reject(ctx context.Context, id uint64) (*model.NegotiationRequest, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var req model.NegotiationRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, id).Error; err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return ErrTerminalState
		}
		req.Status = model.NegotiationStatusRejected
		if err := tx.Model(&model.NegotiationRequest{}).
			Where("id = ?", id).
			Update("status", model.NegotiationStatusRejected).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("negotiation_request_id = ?", id).
			Update("status", model.ConversationStatusDeclined).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *negotiationRepository) ConfirmHandoff(ctx context.Context, id uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var rows int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.NegotiationRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, id).Error; err != nil {
			return err
		}
		switch req.Status {
		case model.NegotiationStatusActive:
		case model.NegotiationStatusCompleted:
			// A concurrent redemption already won; rows stays 0.
			return nil
		default:
			return ErrNotActive
		}
		res := tx.Model(&model.Conversation{}).
			Where("negotiation_request_id = ? AND handoff_confirmed = ?", id, false).
			Updates(map[string]interface{}{
				"handoff_confirmed":    true,
				"handoff_confirmed_at": tx.NowFunc(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		rows = res.RowsAffected
		return tx.Model(&model.NegotiationRequest{}).
			Where("id = ?", id).
			Update("status", model.NegotiationStatusCompleted).Error
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (r *negotiationRepository) SetDB(db *gorm.DB) {
	r.db = db
}
