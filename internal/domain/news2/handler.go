package news2

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – doctor, nurse, admin
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	readGroup.GET("/patients/:patientId/news2", h.GetScore)
}

func (h *Handler) GetScore(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.svc.PatientScore(ctx, auth.ActorFromContext(ctx), c.Param("patientId"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
