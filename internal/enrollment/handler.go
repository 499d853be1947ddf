package enrollment

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/platform/auth"
)

type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	events := api.Group("/events", auth.RequireRole(auth.RoleIntegration, auth.RoleAdmin))
	events.POST("/encounter-saved", h.EncounterSaved)
}

// EncounterSaved accepts the host callback. Strategy failures never change
// the response; only malformed payloads are rejected.
func (h *Handler) EncounterSaved(c echo.Context) error {
	var ev SaveEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}
	if err := ev.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ev.ActingUser == "" {
		if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
			ev.ActingUser = uid
		}
	}
	out := h.dispatcher.Handle(c.Request().Context(), ev)
	return c.JSON(http.StatusAccepted, out)
}
