package interaction

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
	// Prescribing – doctor, admin
	prescribe := api.Group("", auth.RequireRole(auth.RoleDoctor))
	prescribe.POST("/patients/:patientId/interaction-check", h.Check)

	// Read endpoints – doctor, nurse, admin
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	readGroup.GET("/patients/:patientId/interaction-summary", h.Summary)
	readGroup.GET("/interactions", h.Lookup)
}

type checkRequest struct {
	DrugName string `json:"drug_name"`
}

func (h *Handler) Check(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.CheckInteraction(ctx, auth.ActorFromContext(ctx), c.Param("patientId"), req.DrugName)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.svc.InteractionSummary(ctx, auth.ActorFromContext(ctx), c.Param("patientId"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Lookup(c echo.Context) error {
	ctx := c.Request().Context()
	records, err := h.svc.Lookup(auth.ActorFromContext(ctx), c.QueryParam("drug"), c.QueryParam("with"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, records)
}
