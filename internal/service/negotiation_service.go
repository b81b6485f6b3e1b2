package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/meguriba/meguriba-backend/internal/handoff"
	"github.com/meguriba/meguriba-backend/internal/identity"
	"github.com/meguriba/meguriba-backend/internal/mailer"
	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/realtime"
	"github.com/meguriba/meguriba-backend/internal/repository"
	"gorm.io/gorm"
)

// RequestRole is the caller's relation to a request, computed per query
// user, never stored.
type RequestRole string

const (
	RequestRoleOwner     RequestRole = "owner"
	RequestRoleRequester RequestRole = "requester"
)

type RequestWithRole struct {
	Request model.NegotiationRequest
	Role    RequestRole
}

// HandoffCode is the dual-channel rendering of the proof-of-handoff token:
// plain text for manual entry and a QR image URL for scanning.
type HandoffCode struct {
	Code  string `json:"code"`
	QRURL string `json:"qrUrl"`
}

type CreateRequestInput struct {
	ItemID           uint64
	RequesterUID     string
	Type             model.NegotiationType
	Message          string
	RecipientName    string
	RecipientContact string
}

// NegotiationService drives the request state machine and keeps the ledger,
// conversation, handoff token, catalog item, notifications and realtime
// fabric consistent. State transitions commit first; every downstream side
// effect is best-effort and only logged on failure.
type NegotiationService interface {
	Create(ctx context.Context, in CreateRequestInput) (*model.NegotiationRequest, error)
	AcceptByOwner(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error)
	AcceptByRequester(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error)
	Reject(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error)
	ListForUser(ctx context.Context, uid string) ([]RequestWithRole, error)
	Get(ctx context.Context, requestID uint64, uid string) (*RequestWithRole, error)
	// OwnerCode returns the code the owner shows at the meetup.
	OwnerCode(ctx context.Context, requestID uint64, actingUID string) (*HandoffCode, error)
	// Redeem consumes the handoff code, completing the negotiation.
	Redeem(ctx context.Context, conversationID uint64, submittedCode, actingUID string) (*model.Conversation, error)
}

type negotiationService struct {
	negRepo  repository.NegotiationRepository
	convRepo repository.ConversationRepository
	itemRepo repository.ItemRepository
	notify   NotificationService
	pub      realtime.Publisher
	mail     mailer.Mailer
	dir      identity.Directory
}

func NewNegotiationService(
	negRepo repository.NegotiationRepository,
	convRepo repository.ConversationRepository,
	itemRepo repository.ItemRepository,
	notify NotificationService,
	pub realtime.Publisher,
	mail mailer.Mailer,
	dir identity.Directory,
) NegotiationService {
	return &negotiationService{
		negRepo:  negRepo,
		convRepo: convRepo,
		itemRepo: itemRepo,
		notify:   notify,
		pub:      pub,
		mail:     mail,
		dir:      dir,
	}
}

func (s *negotiationService) Create(ctx context.Context, in CreateRequestInput) (*model.NegotiationRequest, error) {
	if in.RequesterUID == "" {
		return nil, errors.New("requester is required")
	}
	if in.Type != model.NegotiationTypeExchange && in.Type != model.NegotiationTypeDonation {
		return nil, errors.New("invalid negotiation type")
	}
	item, err := s.itemRepo.FindByID(ctx, in.ItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if item.OwnerUID == "" {
		return nil, errors.New("item has no owner")
	}
	if item.OwnerUID == in.RequesterUID {
		return nil, ErrForbidden
	}
	if item.Status != model.ItemStatusActive {
		return nil, ErrInvalidState
	}
	if existing, err := s.negRepo.FindOpenByItemAndRequester(ctx, in.ItemID, in.RequesterUID); err == nil && existing != nil {
		return existing, &ConflictError{ExistingID: existing.ID}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := &model.NegotiationRequest{
		ItemID:           in.ItemID,
		OwnerUID:         item.OwnerUID,
		RequesterUID:     in.RequesterUID,
		Type:             in.Type,
		Status:           model.NegotiationStatusPending,
		Message:          strings.TrimSpace(in.Message),
		RecipientName:    strings.TrimSpace(in.RecipientName),
		RecipientContact: strings.TrimSpace(in.RecipientContact),
	}
	conv := &model.Conversation{
		CreatorUID:     in.RequesterUID,
		ParticipantUID: item.OwnerUID,
		ItemID:         &in.ItemID,
		Status:         model.ConversationStatusPending,
	}
	if err := s.negRepo.CreateWithConversation(ctx, req, conv); err != nil {
		var dup *repository.DuplicateOpenError
		if errors.As(err, &dup) {
			return nil, &ConflictError{ExistingID: dup.ExistingID}
		}
		return nil, err
	}

	s.pub.PublishToUser(item.OwnerUID, realtime.EventNegotiationCreated, req)
	s.notify.Notify(ctx, item.OwnerUID, "negotiation_created",
		"新しいリクエスト",
		fmt.Sprintf("「%s」に%sリクエストが届きました。", item.Title, typeLabel(req.Type)),
		NotificationRef{ItemID: &item.ID, ConversationID: &conv.ID, NegotiationRequestID: &req.ID})
	return req, nil
}

func (s *negotiationService) AcceptByOwner(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error) {
	return s.accept(ctx, requestID, actingUID, repository.RoleOwner)
}

func (s *negotiationService) AcceptByRequester(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error) {
	return s.accept(ctx, requestID, actingUID, repository.RoleRequester)
}

func (s *negotiationService) accept(ctx context.Context, requestID uint64, actingUID string, role repository.AcceptRole) (*model.NegotiationRequest, error) {
	req, err := s.negRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	switch role {
	case repository.RoleOwner:
		if req.OwnerUID != actingUID {
			return nil, ErrForbidden
		}
	case repository.RoleRequester:
		if req.RequesterUID != actingUID {
			return nil, ErrForbidden
		}
	}
	req, becameActive, err := s.negRepo.Accept(ctx, requestID, role)
	if err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, ErrInvalidState
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if becameActive {
		s.onMutualAcceptance(ctx, req)
	}
	return req, nil
}

// onMutualAcceptance runs the post-commit hooks of the pending -> active
// transition in a fixed order: token issuance, catalog status, realtime
// fan-out, notification rows. The transition itself has committed; a hook
// failure is logged, never propagated.
func (s *negotiationService) onMutualAcceptance(ctx context.Context, req *model.NegotiationRequest) {
	if _, err := s.issueToken(ctx, req); err != nil {
		log.Printf("negotiation %d: issue handoff token: %v", req.ID, err)
	}
	if _, err := s.itemRepo.UpdateStatus(ctx, req.ItemID,
		[]model.ItemStatus{model.ItemStatusActive}, model.ItemStatusInProgress); err != nil {
		log.Printf("negotiation %d: item %d status: %v", req.ID, req.ItemID, err)
	}

	s.pub.PublishToUser(req.OwnerUID, realtime.EventNegotiationAccepted, req)
	s.pub.PublishToUser(req.RequesterUID, realtime.EventNegotiationAccepted, req)
	s.pub.PublishToConversation(req.ConversationID, realtime.EventConversationUpdated, map[string]interface{}{
		"conversationId": req.ConversationID,
		"status":         model.ConversationStatusActive,
	})

	ref := NotificationRef{ItemID: &req.ItemID, ConversationID: &req.ConversationID, NegotiationRequestID: &req.ID}
	body := fmt.Sprintf("%sが成立しました。チャットで受け渡しの相談ができます。", typeLabel(req.Type))
	s.notify.Notify(ctx, req.OwnerUID, "negotiation_accepted", "リクエスト成立", body, ref)
	s.notify.Notify(ctx, req.RequesterUID, "negotiation_accepted", "リクエスト成立", body, ref)
}

// issueToken mints and stores the handoff code for the request's
// conversation. Idempotent: an existing code is returned as-is. Collisions
// with other unconfirmed codes are retried with fresh mints.
func (s *negotiationService) issueToken(ctx context.Context, req *model.NegotiationRequest) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := handoff.Mint(req.Type)
		if err != nil {
			return "", err
		}
		assigned, err := s.convRepo.AssignHandoffToken(ctx, req.ConversationID, code)
		if err == nil {
			return assigned, nil
		}
		if !errors.Is(err, repository.ErrTokenCollision) {
			return "", err
		}
	}
	return "", repository.ErrTokenCollision
}

func (s *negotiationService) Reject(ctx context.Context, requestID uint64, actingUID string) (*model.NegotiationRequest, error) {
	req, err := s.negRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.OwnerUID != actingUID && req.RequesterUID != actingUID {
		return nil, ErrForbidden
	}
	req, err = s.negRepo.Reject(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrTerminalState) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	// Free the item again if acceptance had reserved it.
	if _, err := s.itemRepo.UpdateStatus(ctx, req.ItemID,
		[]model.ItemStatus{model.ItemStatusInProgress}, model.ItemStatusActive); err != nil {
		log.Printf("negotiation %d: item %d status: %v", req.ID, req.ItemID, err)
	}

	other := req.RequesterUID
	if actingUID == req.RequesterUID {
		other = req.OwnerUID
	}
	s.pub.PublishToUser(other, realtime.EventNegotiationRejected, req)
	s.pub.PublishToConversation(req.ConversationID, realtime.EventConversationUpdated, map[string]interface{}{
		"conversationId": req.ConversationID,
		"status":         model.ConversationStatusDeclined,
	})
	s.notify.Notify(ctx, other, "negotiation_rejected", "リクエスト辞退",
		fmt.Sprintf("%sリクエストが辞退されました。", typeLabel(req.Type)),
		NotificationRef{ItemID: &req.ItemID, ConversationID: &req.ConversationID, NegotiationRequestID: &req.ID})
	return req, nil
}

func (s *negotiationService) ListForUser(ctx context.Context, uid string) ([]RequestWithRole, error) {
	list, err := s.negRepo.ListForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]RequestWithRole, 0, len(list))
	for _, req := range list {
		out = append(out, RequestWithRole{Request: req, Role: roleFor(&req, uid)})
	}
	return out, nil
}

func (s *negotiationService) Get(ctx context.Context, requestID uint64, uid string) (*RequestWithRole, error) {
	req, err := s.negRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.OwnerUID != uid && req.RequesterUID != uid {
		return nil, ErrForbidden
	}
	return &RequestWithRole{Request: *req, Role: roleFor(req, uid)}, nil
}

// OwnerCode hands the owner the code to display at the meetup. The
// requester never sees it through the API; they receive it in person.
func (s *negotiationService) OwnerCode(ctx context.Context, requestID uint64, actingUID string) (*HandoffCode, error) {
	req, err := s.negRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.OwnerUID != actingUID {
		return nil, ErrForbidden
	}
	if req.Status != model.NegotiationStatusActive {
		return nil, ErrInvalidState
	}
	cv, err := s.convRepo.FindByID(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if cv.HandoffToken == nil || *cv.HandoffToken == "" {
		// Issuance is idempotent, so a hook failure at acceptance time is
		// repaired here.
		code, err := s.issueToken(ctx, req)
		if err != nil {
			return nil, err
		}
		return &HandoffCode{Code: code, QRURL: handoff.QRURL(code)}, nil
	}
	return &HandoffCode{Code: *cv.HandoffToken, QRURL: handoff.QRURL(*cv.HandoffToken)}, nil
}

func (s *negotiationService) Redeem(ctx context.Context, conversationID uint64, submittedCode, actingUID string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.HasParticipant(actingUID) {
		return nil, ErrForbidden
	}
	if !cv.Gated() {
		return nil, ErrInvalidState
	}
	req, err := s.negRepo.FindByID(ctx, *cv.NegotiationRequestID)
	if err != nil {
		return nil, err
	}
	// The owner's side issued the code; only the receiving party confirms.
	if actingUID != req.RequesterUID {
		return nil, ErrForbidden
	}
	// Completed implies confirmed: the two commit in one transaction.
	if cv.HandoffConfirmed || req.Status == model.NegotiationStatusCompleted {
		return nil, ErrAlreadyConfirmed
	}
	// A leftover token must not revive a rejected negotiation.
	if req.Status != model.NegotiationStatusActive {
		return nil, ErrInvalidState
	}
	if cv.HandoffToken == nil || !handoff.Match(*cv.HandoffToken, submittedCode) {
		return nil, ErrInvalidCode
	}

	// Single winner under concurrent duplicate submissions: the confirm and
	// the completed transition commit together under the request row lock,
	// so a reject landing in between loses cleanly.
	rows, err := s.negRepo.ConfirmHandoff(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	if rows == 0 {
		return nil, ErrAlreadyConfirmed
	}

	s.onHandoffConfirmed(ctx, req)

	cv, err = s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return cv, nil
}

// onHandoffConfirmed runs the completion hooks after the confirm+complete
// transaction committed: catalog item to its final status, realtime fan-out,
// notification rows, completion mail.
func (s *negotiationService) onHandoffConfirmed(ctx context.Context, req *model.NegotiationRequest) {
	req.Status = model.NegotiationStatusCompleted

	final := model.ItemStatusExchanged
	if req.Type == model.NegotiationTypeDonation {
		final = model.ItemStatusDonated
	}
	if _, err := s.itemRepo.UpdateStatus(ctx, req.ItemID,
		[]model.ItemStatus{model.ItemStatusInProgress, model.ItemStatusActive}, final); err != nil {
		log.Printf("negotiation %d: item %d status: %v", req.ID, req.ItemID, err)
	}

	s.pub.PublishToUser(req.OwnerUID, realtime.EventNegotiationCompleted, req)
	s.pub.PublishToUser(req.RequesterUID, realtime.EventNegotiationCompleted, req)
	s.pub.PublishToConversation(req.ConversationID, realtime.EventConversationUpdated, map[string]interface{}{
		"conversationId":   req.ConversationID,
		"handoffConfirmed": true,
	})

	ref := NotificationRef{ItemID: &req.ItemID, ConversationID: &req.ConversationID, NegotiationRequestID: &req.ID}
	body := fmt.Sprintf("%sが完了しました。ご利用ありがとうございました。", typeLabel(req.Type))
	s.notify.Notify(ctx, req.OwnerUID, "negotiation_completed", "受け渡し完了", body, ref)
	s.notify.Notify(ctx, req.RequesterUID, "negotiation_completed", "受け渡し完了", body, ref)

	for _, uid := range []string{req.OwnerUID, req.RequesterUID} {
		email, err := s.dir.Email(ctx, uid)
		if err != nil || email == "" {
			continue
		}
		if err := s.mail.Send(email, "受け渡し完了のお知らせ", body); err != nil {
			log.Printf("negotiation %d: completion mail to %s: %v", req.ID, uid, err)
		}
	}
}

func roleFor(req *model.NegotiationRequest, uid string) RequestRole {
	if req.OwnerUID == uid {
		return RequestRoleOwner
	}
	return RequestRoleRequester
}

func typeLabel(t model.NegotiationType) string {
	if t == model.NegotiationTypeDonation {
		return "おゆずり"
	}
	return "交換"
}
