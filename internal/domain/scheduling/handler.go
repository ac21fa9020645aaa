package scheduling

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/lock"
	"github.com/carebook/carebook/pkg/pagination"
)

// Handler exposes slots and bookings over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling surface on the authenticated API
// group. Role middleware gates the write paths; the service re-checks
// ownership on every call.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:id/slots", h.ListDoctorSlots)
	api.POST("/slots", h.CreateSlot, auth.RequireRole(auth.RoleDoctor))
	api.GET("/slots/:id", h.GetSlot)
	api.DELETE("/slots/:id", h.DeleteSlot, auth.RequireRole(auth.RoleDoctor))

	api.POST("/bookings", h.CreateBooking, auth.RequireRole(auth.RolePatient))
	api.GET("/bookings", h.ListBookings)
	api.GET("/bookings/:id", h.GetBooking)
	api.POST("/bookings/:id/cancel", h.CancelBooking)
	api.POST("/bookings/:id/confirm", h.ConfirmBooking, auth.RequireRole(auth.RoleDoctor))
	api.POST("/bookings/:id/complete", h.CompleteBooking, auth.RequireRole(auth.RoleDoctor))
	api.POST("/bookings/:id/no-show", h.MarkNoShow, auth.RequireRole(auth.RoleDoctor))
}

func (h *Handler) CreateSlot(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	var in CreateSlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), actor, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) ListDoctorSlots(c echo.Context) error {
	doctorID, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	pg := pagination.FromContext(c)
	onlyAvailable := c.QueryParam("available") == "true"
	slots, total, err := h.svc.ListDoctorSlots(c.Request().Context(), doctorID, onlyAvailable, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(slots, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	id, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), actor, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateBooking(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	var in CreateBookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	booking, err := h.svc.CreateBooking(c.Request().Context(), actor, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

func (h *Handler) ListBookings(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	bookings, total, err := h.svc.ListBookings(c.Request().Context(), actor, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bookings, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBooking(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	id, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	booking, err := h.svc.GetBooking(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) CancelBooking(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	id, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	var in cancelRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	booking, err := h.svc.CancelBooking(c.Request().Context(), actor, id, in.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

func (h *Handler) ConfirmBooking(c echo.Context) error {
	return h.transition(c, h.svc.ConfirmBooking)
}

func (h *Handler) CompleteBooking(c echo.Context) error {
	return h.transition(c, h.svc.CompleteBooking)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.transition(c, h.svc.MarkNoShow)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error)) error {
	actor := auth.ActorFromContext(c.Request().Context())
	id, err := parseID(c)
	if err != nil {
		return writeError(c, err)
	}
	booking, err := fn(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, NewValidationError("id", "id must be a valid UUID")
	}
	return id, nil
}

// writeError maps domain errors onto the HTTP taxonomy: field-keyed 400
// for validation, 403 for authorization, 404 for missing records, 409 for
// conflicts with slot or booking state.
func writeError(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": verr.Fields})
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrDuplicateSlot),
		errors.Is(err, ErrDuplicateBooking),
		errors.Is(err, ErrSlotHasBooking),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		return echo.NewHTTPError(http.StatusConflict, "slot is being booked by another request")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
