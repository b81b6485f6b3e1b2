package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/service"
)

type NegotiationHandler struct {
	svc service.NegotiationService
}

func NewNegotiationHandler(svc service.NegotiationService) *NegotiationHandler {
	return &NegotiationHandler{svc: svc}
}

type CreateRequestBody struct {
	Type             string `json:"type"` // exchange | donation
	Message          string `json:"message"`
	RecipientName    string `json:"recipientName"`
	RecipientContact string `json:"recipientContact"`
}

type NegotiationResponse struct {
	ID                uint64 `json:"id"`
	ItemID            uint64 `json:"itemId"`
	OwnerUID          string `json:"ownerUid"`
	RequesterUID      string `json:"requesterUid"`
	Type              string `json:"type"`
	Status            string `json:"status"`
	OwnerAccepted     bool   `json:"ownerAccepted"`
	RequesterAccepted bool   `json:"requesterAccepted"`
	Message           string `json:"message,omitempty"`
	ConversationID    uint64 `json:"conversationId"`
	Role              string `json:"role,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func toNegotiationResponse(req *model.NegotiationRequest, role service.RequestRole) NegotiationResponse {
	return NegotiationResponse{
		ID:                req.ID,
		ItemID:            req.ItemID,
		OwnerUID:          req.OwnerUID,
		RequesterUID:      req.RequesterUID,
		Type:              string(req.Type),
		Status:            string(req.Status),
		OwnerAccepted:     req.OwnerAccepted,
		RequesterAccepted: req.RequesterAccepted,
		Message:           req.Message,
		ConversationID:    req.ConversationID,
		Role:              string(role),
		CreatedAt:         req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         req.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *NegotiationHandler) Create(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid item id"))
	}
	var body CreateRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	req, err := h.svc.Create(c.Request().Context(), service.CreateRequestInput{
		ItemID:           itemID,
		RequesterUID:     uid,
		Type:             model.NegotiationType(body.Type),
		Message:          body.Message,
		RecipientName:    body.RecipientName,
		RecipientContact: body.RecipientContact,
	})
	if err != nil {
		var conflict *service.ConflictError
		switch {
		case errors.As(err, &conflict):
			return c.JSON(http.StatusConflict, NewConflictResponse("open request already exists", conflict.ExistingID))
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "item not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "cannot request your own item"))
		case errors.Is(err, service.ErrInvalidState):
			return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", "item is not available"))
		default:
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
		}
	}
	return c.JSON(http.StatusCreated, toNegotiationResponse(req, service.RequestRoleRequester))
}

func (h *NegotiationHandler) acceptWith(c echo.Context, accept func(c echo.Context, id uint64, uid string) (*model.NegotiationRequest, error)) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request id"))
	}
	req, err := accept(c, id, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "request not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not your side of this request"))
		case errors.Is(err, service.ErrInvalidState):
			return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", "request is not pending"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to accept request"))
		}
	}
	role := service.RequestRoleRequester
	if req.OwnerUID == uid {
		role = service.RequestRoleOwner
	}
	return c.JSON(http.StatusOK, toNegotiationResponse(req, role))
}

func (h *NegotiationHandler) AcceptByOwner(c echo.Context) error {
	return h.acceptWith(c, func(c echo.Context, id uint64, uid string) (*model.NegotiationRequest, error) {
		return h.svc.AcceptByOwner(c.Request().Context(), id, uid)
	})
}

func (h *NegotiationHandler) AcceptByRequester(c echo.Context) error {
	return h.acceptWith(c, func(c echo.Context, id uint64, uid string) (*model.NegotiationRequest, error) {
		return h.svc.AcceptByRequester(c.Request().Context(), id, uid)
	})
}

func (h *NegotiationHandler) Reject(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request id"))
	}
	req, err := h.svc.Reject(c.Request().Context(), id, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "request not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a party of this request"))
		case errors.Is(err, service.ErrInvalidState):
			return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", "request already closed"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to reject request"))
		}
	}
	role := service.RequestRoleRequester
	if req.OwnerUID == uid {
		role = service.RequestRoleOwner
	}
	return c.JSON(http.StatusOK, toNegotiationResponse(req, role))
}

func (h *NegotiationHandler) ListMine(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	list, err := h.svc.ListForUser(c.Request().Context(), uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch requests"))
	}
	resp := make([]NegotiationResponse, 0, len(list))
	for _, r := range list {
		resp = append(resp, toNegotiationResponse(&r.Request, r.Role))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *NegotiationHandler) Get(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request id"))
	}
	r, err := h.svc.Get(c.Request().Context(), id, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "request not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a party of this request"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch request"))
		}
	}
	return c.JSON(http.StatusOK, toNegotiationResponse(&r.Request, r.Role))
}

func (h *NegotiationHandler) OwnerCode(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request id"))
	}
	code, err := h.svc.OwnerCode(c.Request().Context(), id, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "request not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "only the owner sees the code"))
		case errors.Is(err, service.ErrInvalidState):
			return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", "request is not active"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch code"))
		}
	}
	return c.JSON(http.StatusOK, code)
}

type RedeemBody struct {
	Code string `json:"code"`
}

func (h *NegotiationHandler) Redeem(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var body RedeemBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	cv, err := h.svc.Redeem(c.Request().Context(), convID, body.Code, uid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "conversation not found"))
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "you cannot redeem this code"))
		case errors.Is(err, service.ErrInvalidState):
			return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", "conversation has no handoff"))
		case errors.Is(err, service.ErrInvalidCode):
			return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_code", "code does not match"))
		case errors.Is(err, service.ErrAlreadyConfirmed):
			return c.JSON(http.StatusConflict, NewErrorResponse("already_confirmed", "handoff was already confirmed"))
		default:
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to redeem code"))
		}
	}
	return c.JSON(http.StatusOK, cv)
}
