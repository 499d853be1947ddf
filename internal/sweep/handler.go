package sweep

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/luno/jettison/errors"

	"github.com/ehr/careflow/internal/platform/auth"
)

type Handler struct {
	runner Runner
}

func NewHandler(r Runner) *Handler {
	return &Handler{runner: r}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	tasks := api.Group("/tasks", auth.RequireRole(auth.RoleAdmin))
	tasks.POST("/complete-programs", h.CompletePrograms)
}

// CompletePrograms runs the auto-completion sweep once and returns its
// report.
func (h *Handler) CompletePrograms(c echo.Context) error {
	report, err := h.runner.Run(c.Request().Context())
	if errors.Is(err, ErrAlreadyRunning) {
		return echo.NewHTTPError(http.StatusConflict, "sweep already running")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "sweep failed")
	}
	return c.JSON(http.StatusOK, report)
}
