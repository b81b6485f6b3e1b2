package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/meguriba/meguriba-backend/internal/realtime"
)

type WSHandler struct {
	hub     *realtime.Hub
	backend realtime.Backend
}

func NewWSHandler(hub *realtime.Hub, backend realtime.Backend) *WSHandler {
	return &WSHandler{hub: hub, backend: backend}
}

// Connect upgrades the request and blocks for the lifetime of the
// connection. Auth middleware has already populated uid.
func (h *WSHandler) Connect(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	conn, err := realtime.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	realtime.Serve(h.hub, h.backend, conn, uid)
	return nil
}
