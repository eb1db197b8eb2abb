package calendar

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/pkg/apperrors"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/calendar", auth.RequireAuthenticated())
	g.POST("/connect", h.Connect)
	g.POST("/sync", h.Sync)
	g.GET("/status", h.Status)
	g.DELETE("", h.Disconnect)
}

func doctorParam(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("doctor_id")
	if raw == "" {
		return auth.UserUUIDFromContext(c.Request().Context()), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid doctor_id")
	}
	return id, nil
}

func (h *Handler) Connect(c echo.Context) error {
	var req ConnectRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("malformed request body")
	}
	res, err := h.svc.Connect(c.Request().Context(), auth.UserUUIDFromContext(c.Request().Context()), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Sync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("malformed request body")
	}
	res, err := h.svc.Sync(c.Request().Context(), auth.UserUUIDFromContext(c.Request().Context()), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Status(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Status(c.Request().Context(), auth.UserUUIDFromContext(c.Request().Context()), doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Disconnect(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Disconnect(c.Request().Context(), auth.UserUUIDFromContext(c.Request().Context()), doctorID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
