package scheduling

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/pkg/apperrors"
	"github.com/clinic/scheduler/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireAuthenticated())
	g.POST("", h.CreateAppointment)
	g.GET("", h.ListAppointments)
	g.GET("/unassigned", h.ListUnassigned)
	g.POST("/check-availability", h.CheckAvailability)
	g.GET("/:id", h.GetAppointment)
	g.PUT("/:id", h.UpdateAppointment)
	g.POST("/:id/status", h.TransitionStatus)
	g.POST("/:id/cancel", h.CancelAppointment)
	g.PUT("/:id/patient", h.AssignPatient)
}

func actor(c echo.Context) (uuid.UUID, error) {
	id := auth.UserUUIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, apperrors.Unauthorized("authentication required")
	}
	return id, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid id")
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.Validationf("invalid %s", name)
	}
	return &id, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperrors.Validation("malformed request body")
	}
	return nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateAppointment(c.Request().Context(), actorID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetAppointment(c.Request().Context(), actorID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	clinicID, err := queryUUID(c, "clinic_id")
	if err != nil {
		return err
	}
	if clinicID == nil {
		return apperrors.Validation("clinic_id is required")
	}
	f := ListFilter{ClinicID: *clinicID, From: c.QueryParam("from"), To: c.QueryParam("to"), Limit: pg.Limit, Offset: pg.Offset}
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, Status(strings.TrimSpace(s)))
		}
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), actorID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListUnassigned(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	clinicID, err := queryUUID(c, "clinic_id")
	if err != nil {
		return err
	}
	if clinicID == nil {
		return apperrors.Validation("clinic_id is required")
	}
	items, total, err := h.svc.ListUnassigned(c.Request().Context(), actorID, *clinicID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CheckAvailability(c.Request().Context(), actorID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateAppointment(c.Request().Context(), actorID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) TransitionStatus(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.TransitionStatus(c.Request().Context(), actorID, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type cancelRequest struct {
	By     CancelParty `json:"cancelled_by"`
	Reason string      `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	req := cancelRequest{By: CancelByClinic}
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CancelAppointment(c.Request().Context(), actorID, id, req.By, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type assignRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) AssignPatient(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.AssignPatient(c.Request().Context(), actorID, id, req.PatientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
