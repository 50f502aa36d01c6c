package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// PatientAccess emits one "phi_access" log line for every /api/v1 request,
// naming the caller, the resource and, when the route is patient scoped, the
// patient. Clinical writes are audited separately by the services.
func PatientAccess(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("resource", resourceOf(path)).
				Str("patient_id", patientOf(path)).
				Str("action", actionOf(req.Method)).
				Str("method", req.Method).
				Str("path", path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("phi_access")

			return err
		}
	}
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf returns the last non-identifier collection segment, so
// /api/v1/patients/P-1/alerts is "alerts" and /api/v1/alerts/<id>/dismiss is "alerts".
func resourceOf(path string) string {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown"
	}
	if segs[0] == "patients" && len(segs) > 2 {
		return segs[2]
	}
	return segs[0]
}

// patientOf extracts the id from /api/v1/patients/<id>/...
func patientOf(path string) string {
	rest, ok := strings.CutPrefix(path, apiPrefix+"patients/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
