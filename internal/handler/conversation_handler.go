package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/meguriba/meguriba-backend/internal/chatgate"
	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/service"
)

type ConversationHandler struct {
	svc service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type ConversationResponse struct {
	ID                   uint64  `json:"id"`
	CreatorUID           string  `json:"creatorUid"`
	ParticipantUID       string  `json:"participantUid"`
	ItemID               *uint64 `json:"itemId,omitempty"`
	NegotiationRequestID *uint64 `json:"negotiationRequestId,omitempty"`
	Status               string  `json:"status"`
	OwnerAccepted        bool    `json:"ownerAccepted"`
	RequesterAccepted    bool    `json:"requesterAccepted"`
	HandoffConfirmed     bool    `json:"handoffConfirmed"`
	UnreadCount          int64   `json:"unreadCount,omitempty"`
}

func toConversationResponse(cv *model.Conversation, unread int64) ConversationResponse {
	return ConversationResponse{
		ID:                   cv.ID,
		CreatorUID:           cv.CreatorUID,
		ParticipantUID:       cv.ParticipantUID,
		ItemID:               cv.ItemID,
		NegotiationRequestID: cv.NegotiationRequestID,
		Status:               string(cv.Status),
		OwnerAccepted:        cv.OwnerAccepted,
		RequesterAccepted:    cv.RequesterAccepted,
		HandoffConfirmed:     cv.HandoffConfirmed,
		UnreadCount:          unread,
	}
}

type MessageRequest struct {
	Body string `json:"body"`
}

func (h *ConversationHandler) CreateFromItem(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid item id"))
	}
	cv, err := h.svc.CreateContact(c.Request().Context(), itemID, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "item not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "cannot chat with yourself"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to open conversation"))
		}
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv, 0))
}

func (h *ConversationHandler) List(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convs, err := h.svc.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch conversations"))
	}
	resp := make([]ConversationResponse, 0, len(convs))
	for _, cu := range convs {
		cv := cu.Conversation
		resp = append(resp, toConversationResponse(&cv, cu.UnreadCount))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	cv, err := h.svc.Get(c.Request().Context(), convID, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "conversation not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a participant"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch conversation"))
		}
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv, 0))
}

func (h *ConversationHandler) ListMessages(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	msgs, err := h.svc.ListMessages(c.Request().Context(), convID, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "conversation not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a participant"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch messages"))
		}
	}
	return c.JSON(http.StatusOK, msgs)
}

// CreateMessage is the HTTP twin of the realtime send path; both run the
// same gatekeeper check inside the service.
func (h *ConversationHandler) CreateMessage(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := h.svc.Send(c.Request().Context(), convID, uid, req.Body); err != nil {
		var denied *chatgate.DeniedError
		switch {
		case errors.As(err, &denied):
			if denied.Reason == chatgate.ReasonNotParticipant {
				return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a participant"))
			}
			return c.JSON(http.StatusConflict, NewErrorResponse(string(denied.Reason), "messaging is not open"))
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "conversation not found"))
		default:
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
		}
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	if err := h.svc.MarkRead(c.Request().Context(), convID, uid); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "conversation not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a participant"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to mark read"))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
