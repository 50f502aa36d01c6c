package alert

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Feeds and lifecycle – doctor, nurse, admin
	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinical.GET("/patients/:patientId/alerts", h.ListPatientAlerts)
	clinical.POST("/patients/:patientId/lab-results", h.RecordLabResult)
	clinical.GET("/alerts", h.ListAlerts)
	clinical.GET("/alerts/patient-counts", h.PatientCounts)
	clinical.PATCH("/alerts/:id/acknowledge", h.Acknowledge)
	clinical.PATCH("/alerts/:id/dismiss", h.Dismiss)

	// Dashboard – doctor, admin
	dashboard := api.Group("", auth.RequireRole(auth.RoleDoctor))
	dashboard.GET("/alerts/stats", h.Stats)
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	if s := c.QueryParam("status"); s != "" {
		st, ok := ParseStatus(s)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+s)
		}
		f.Status = st
	}
	if s := c.QueryParam("severity"); s != "" {
		sev, ok := ParseSeverity(s)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid severity: "+s)
		}
		f.Severity = sev
	}
	return f, nil
}

func (h *Handler) ListPatientAlerts(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.PatientAlerts(ctx, auth.ActorFromContext(ctx), c.Param("patientId"), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GlobalAlerts(ctx, auth.ActorFromContext(ctx), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) PatientCounts(c echo.Context) error {
	ctx := c.Request().Context()
	counts, err := h.svc.PatientAlertCounts(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	st, err := h.svc.Stats(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Acknowledge(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Dismiss(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req dismissRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.Dismiss(ctx, auth.ActorFromContext(ctx), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// RecordLabResult accepts a flagged lab value and raises the matching alert, if any.
// Responds 204 when the interpretation needs no alert.
func (h *Handler) RecordLabResult(c echo.Context) error {
	var r LabResult
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.PatientID = c.Param("patientId")
	r.Interpretation = LabInterpretation(strings.ToUpper(strings.TrimSpace(string(r.Interpretation))))
	if strings.TrimSpace(r.TestName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "test_name is required")
	}
	ctx := c.Request().Context()
	a, err := h.svc.RaiseForLabResult(ctx, auth.ActorFromContext(ctx), r)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if a == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, a)
}
