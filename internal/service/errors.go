package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidCode      = errors.New("invalid code")
	ErrAlreadyConfirmed = errors.New("already confirmed")
	ErrOpenNegotiation  = errors.New("item has open negotiation")
)

// ConflictError is returned when a requester already has an open request on
// an item; it carries the existing id so the client can redirect instead of
// duplicating.
type ConflictError struct {
	ExistingID uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("open request %d already exists", e.ExistingID)
}
