package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/meguriba/meguriba-backend/internal/chatgate"
	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/realtime"
	"github.com/meguriba/meguriba-backend/internal/repository"
	"gorm.io/gorm"
)

type ConversationWithUnread struct {
	Conversation model.Conversation
	UnreadCount  int64
}

type ConversationService interface {
	// CreateContact opens (or returns) the ungated contact conversation
	// between the caller and the item's owner.
	CreateContact(ctx context.Context, itemID uint64, creatorUID string) (*model.Conversation, error)
	ListByUser(ctx context.Context, uid string) ([]ConversationWithUnread, error)
	Get(ctx context.Context, convID uint64, uid string) (*model.Conversation, error)
	ListMessages(ctx context.Context, convID uint64, uid string) ([]model.Message, error)

	// The three methods below also back the realtime fabric
	// (realtime.Backend); authorization is re-checked on every call.
	AuthorizeJoin(ctx context.Context, convID uint64, uid string) error
	Send(ctx context.Context, convID uint64, senderUID, body string) error
	MarkRead(ctx context.Context, convID uint64, uid string) error
}

type conversationService struct {
	convRepo repository.ConversationRepository
	negRepo  repository.NegotiationRepository
	itemRepo repository.ItemRepository
	notify   NotificationService
	pub      realtime.Publisher

	sendMu    sync.Mutex
	sendLocks map[uint64]*sync.Mutex
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	negRepo repository.NegotiationRepository,
	itemRepo repository.ItemRepository,
	notify NotificationService,
	pub realtime.Publisher,
) ConversationService {
	return &conversationService{
		convRepo:  convRepo,
		negRepo:   negRepo,
		itemRepo:  itemRepo,
		notify:    notify,
		pub:       pub,
		sendLocks: make(map[uint64]*sync.Mutex),
	}
}

// sendLock returns the mutex serializing sends for one conversation.
func (s *conversationService) sendLock(convID uint64) *sync.Mutex {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	mu, ok := s.sendLocks[convID]
	if !ok {
		mu = &sync.Mutex{}
		s.sendLocks[convID] = mu
	}
	return mu
}

func (s *conversationService) CreateContact(ctx context.Context, itemID uint64, creatorUID string) (*model.Conversation, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if item.OwnerUID == creatorUID {
		return nil, ErrForbidden
	}
	return s.convRepo.FindOrCreateContact(ctx, itemID, creatorUID, item.OwnerUID)
}

func (s *conversationService) ListByUser(ctx context.Context, uid string) ([]ConversationWithUnread, error) {
	convs, err := s.convRepo.FindByUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationWithUnread, 0, len(convs))
	for _, cv := range convs {
		unread, err := s.convRepo.CountUnread(ctx, cv.ID, uid)
		if err != nil {
			unread = 0
		}
		out = append(out, ConversationWithUnread{Conversation: cv, UnreadCount: unread})
	}
	return out, nil
}

func (s *conversationService) Get(ctx context.Context, convID uint64, uid string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.HasParticipant(uid) {
		return nil, ErrForbidden
	}
	return cv, nil
}

func (s *conversationService) ListMessages(ctx context.Context, convID uint64, uid string) ([]model.Message, error) {
	if _, err := s.Get(ctx, convID, uid); err != nil {
		return nil, err
	}
	return s.convRepo.ListMessages(ctx, convID)
}

func (s *conversationService) AuthorizeJoin(ctx context.Context, convID uint64, uid string) error {
	_, err := s.Get(ctx, convID, uid)
	return err
}

// Send appends a message after re-running the gatekeeper at send time;
// conversation state may have changed since the client joined the channel.
func (s *conversationService) Send(ctx context.Context, convID uint64, senderUID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("body is required")
	}
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	var req *model.NegotiationRequest
	if cv.Gated() {
		req, err = s.negRepo.FindByID(ctx, *cv.NegotiationRequestID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	if d := chatgate.CanSend(cv, req, senderUID); !d.Allowed {
		return &chatgate.DeniedError{Reason: d.Reason}
	}

	// Frames must leave in message id order; persist and publish run under
	// a per-conversation lock so concurrent sends cannot invert.
	mu := s.sendLock(convID)
	mu.Lock()
	defer mu.Unlock()

	msg := &model.Message{
		ConversationID: convID,
		SenderUID:      senderUID,
		Body:           body,
	}
	if err := s.convRepo.CreateMessage(ctx, msg); err != nil {
		return err
	}

	recipient := cv.Counterpart(senderUID)
	s.pub.PublishToConversation(convID, realtime.EventMessageNew, msg)
	s.pub.PublishToUser(recipient, realtime.EventMessageNew, msg)
	s.notify.Notify(ctx, recipient, "message", "新着メッセージ", body, NotificationRef{
		ItemID:               cv.ItemID,
		ConversationID:       &cv.ID,
		NegotiationRequestID: cv.NegotiationRequestID,
	})
	return nil
}

func (s *conversationService) MarkRead(ctx context.Context, convID uint64, uid string) error {
	cv, err := s.Get(ctx, convID, uid)
	if err != nil {
		return err
	}
	rows, err := s.convRepo.MarkMessagesRead(ctx, convID, uid)
	if err != nil {
		return err
	}
	if rows > 0 {
		s.pub.PublishToConversation(convID, realtime.EventMessageRead, map[string]interface{}{
			"conversationId": cv.ID,
			"readerUid":      uid,
		})
	}
	return s.notify.MarkByConversation(ctx, uid, convID)
}
