package service

import (
	"context"
	"errors"
	"strings"

	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/repository"
	"gorm.io/gorm"
)

type ItemService interface {
	Create(ctx context.Context, ownerUID, title, description string, imageURL *string) (*model.Item, error)
	Get(ctx context.Context, id uint64) (*model.Item, error)
	List(ctx context.Context, limit, offset int, status model.ItemStatus) ([]model.Item, int64, error)
	ListMine(ctx context.Context, ownerUID string) ([]model.Item, error)
	Update(ctx context.Context, id uint64, ownerUID, title, description string, imageURL *string) (*model.Item, error)
	Delete(ctx context.Context, id uint64, ownerUID string) error
}

type itemService struct {
	repo    repository.ItemRepository
	negRepo repository.NegotiationRepository
}

func NewItemService(repo repository.ItemRepository, negRepo repository.NegotiationRepository) ItemService {
	return &itemService{repo: repo, negRepo: negRepo}
}

func (s *itemService) Create(ctx context.Context, ownerUID, title, description string, imageURL *string) (*model.Item, error) {
	if ownerUID == "" {
		return nil, errors.New("owner is required")
	}
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || len(title) > 120 {
		return nil, errors.New("invalid title")
	}
	if description == "" {
		return nil, errors.New("invalid description")
	}
	if imageURL != nil && strings.HasPrefix(strings.TrimSpace(*imageURL), "data:") {
		return nil, errors.New("imageUrl must be a URL, not data URI")
	}

	item := &model.Item{
		OwnerUID:    ownerUID,
		Title:       title,
		Description: description,
		Status:      model.ItemStatusActive,
		ImageURL:    imageURL,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *itemService) Get(ctx context.Context, id uint64) (*model.Item, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *itemService) List(ctx context.Context, limit, offset int, status model.ItemStatus) ([]model.Item, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset, status)
}

func (s *itemService) ListMine(ctx context.Context, ownerUID string) ([]model.Item, error) {
	return s.repo.ListByOwner(ctx, ownerUID)
}

// Update refuses edits while a negotiation on the item is open so an agreed
// deal can't change under a party's feet.
func (s *itemService) Update(ctx context.Context, id uint64, ownerUID, title, description string, imageURL *string) (*model.Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerUID != ownerUID {
		return nil, ErrForbidden
	}
	open, err := s.negRepo.HasOpenByItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrOpenNegotiation
	}
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || len(title) > 120 {
		return nil, errors.New("invalid title")
	}
	if description == "" {
		return nil, errors.New("invalid description")
	}
	item.Title = title
	item.Description = description
	item.ImageURL = imageURL
	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *itemService) Delete(ctx context.Context, id uint64, ownerUID string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.OwnerUID != ownerUID {
		return ErrForbidden
	}
	open, err := s.negRepo.HasOpenByItem(ctx, id)
	if err != nil {
		return err
	}
	if open {
		return ErrOpenNegotiation
	}
	return s.repo.Delete(ctx, id)
}
