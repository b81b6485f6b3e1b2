package service

import (
	"context"
	"log"

	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/repository"
)

// NotificationRef points a notification back at the rows it is about.
type NotificationRef struct {
	ItemID               *uint64
	ConversationID       *uint64
	NegotiationRequestID *uint64
}

type NotificationService interface {
	Notify(ctx context.Context, userUID, typ, title, body string, ref NotificationRef)
	List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkAllRead(ctx context.Context, userUID string) error
	MarkByConversation(ctx context.Context, userUID string, convID uint64) error
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

// Notify is best-effort; it logs errors but does not return them to avoid
// breaking main flows.
func (s *notificationService) Notify(ctx context.Context, userUID, typ, title, body string, ref NotificationRef) {
	if userUID == "" || typ == "" {
		return
	}
	n := &model.Notification{
		UserUID:              userUID,
		Type:                 typ,
		Title:                title,
		Body:                 body,
		ItemID:               ref.ItemID,
		ConversationID:       ref.ConversationID,
		NegotiationRequestID: ref.NegotiationRequestID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		log.Printf("notify %s (%s): %v", userUID, typ, err)
	}
}

func (s *notificationService) List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userUID == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	cnt, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	return s.repo.MarkAllRead(ctx, userUID)
}

func (s *notificationService) MarkByConversation(ctx context.Context, userUID string, convID uint64) error {
	if userUID == "" || convID == 0 {
		return nil
	}
	return s.repo.MarkByConversation(ctx, userUID, convID)
}
