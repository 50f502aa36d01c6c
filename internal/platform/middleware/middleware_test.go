package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/cdsengine/internal/platform/auth"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, h echo.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, mw(h)(c)
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var out map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestRequestID(t *testing.T) {
	var seen string
	h := func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusNoContent)
	}

	rec, err := serve(t, RequestID(), h, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set(RequestIDHeader, "ward-7-trace")
	rec, err = serve(t, RequestID(), h, req)
	require.NoError(t, err)
	assert.Equal(t, "ward-7-trace", seen)
	assert.Equal(t, "ward-7-trace", rec.Header().Get(RequestIDHeader))
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), "doc-1", "dr.mensah", []string{"DOCTOR"}))
		_, err := serve(t, Logger(zerolog.New(&buf)), func(c echo.Context) error {
			return c.NoContent(tt.status)
		}, req)
		require.NoError(t, err)

		line := lastLogLine(t, &buf)
		assert.Equal(t, tt.level, line["level"], "status %d", tt.status)
		assert.Equal(t, float64(tt.status), line["status"])
		assert.Equal(t, "doc-1", line["user_id"])
		assert.Equal(t, "/api/v1/alerts", line["path"])
	}
}

func TestLogger_UsesErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	_, err := serve(t, Logger(zerolog.New(&buf)), func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "required role: DOCTOR")
	}, httptest.NewRequest(http.MethodPost, "/api/v1/patients/P-1/drug-check", nil))
	require.Error(t, err)

	line := lastLogLine(t, &buf)
	assert.Equal(t, float64(http.StatusForbidden), line["status"])
	assert.Equal(t, "warn", line["level"])
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	_, err := serve(t, Recovery(zerolog.New(&buf)), func(c echo.Context) error {
		var scores map[string]int
		scores["P-1"]++
		return nil
	}, httptest.NewRequest(http.MethodGet, "/api/v1/patients/P-1/news2", nil))

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.NotContains(t, he.Message, "nil map", "panic detail must not reach the client")

	line := lastLogLine(t, &buf)
	assert.Equal(t, "handler panic", line["message"])
	assert.Contains(t, line["panic"], "nil map")
	assert.NotEmpty(t, line["stack"])
}

func TestRecovery_PassesThrough(t *testing.T) {
	rec, err := serve(t, Recovery(zerolog.Nop()), func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec, err := serve(t, SecurityHeaders(), func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, httptest.NewRequest(http.MethodGet, "/api/v1/patients/P-000001/news2", nil))
	require.NoError(t, err)

	for _, kv := range apiHeaders {
		assert.Equal(t, kv[1], rec.Header().Get(kv[0]), kv[0])
	}
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
