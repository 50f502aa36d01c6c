package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c)
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runJWT(t, "", ok)
	if err == nil {
		t.Fatal("expected error for missing header")
	}
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runJWT(t, tt.header, ok)
			if err == nil {
				t.Fatal("expected error")
			}
			if httpErr, _ := err.(*echo.HTTPError); httpErr == nil || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		Roles: []string{"DOCTOR"},
	}, testSigningKey)

	err := runJWT(t, "Bearer "+tokenStr, ok)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte("some-other-key"))

	if err := runJWT(t, "Bearer "+tokenStr, ok); err == nil {
		t.Fatal("expected error for token signed with a different key")
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-456",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: "dr.osei",
		Roles:    []string{"nurse", "doctor"},
	}, testSigningKey)

	var called bool
	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		called = true
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "user-456" {
			t.Errorf("expected user_id=user-456, got %s", uid)
		}
		if name := UsernameFromContext(ctx); name != "dr.osei" {
			t.Errorf("expected username=dr.osei, got %s", name)
		}
		actor := ActorFromContext(ctx)
		if actor.Role != RoleDoctor {
			t.Errorf("expected DOCTOR to take precedence over NURSE, got %s", actor.Role)
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_UsernameFallsBackToSubject(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-789",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"NURSE"},
	}, testSigningKey)

	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		if name := UsernameFromContext(c.Request().Context()); name != "user-789" {
			t.Errorf("expected username to fall back to subject, got %s", name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor Actor
	h := DevAuthMiddleware()(func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.Role != RoleAdmin || actor.UserID != "dev-user" {
		t.Errorf("expected dev-user ADMIN, got %+v", actor)
	}
}

func TestDevAuthMiddleware_RoleOverride(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-Role", "receptionist")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor Actor
	h := DevAuthMiddleware()(func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.Role != RoleReceptionist {
		t.Errorf("expected RECEPTIONIST, got %s", actor.Role)
	}
}

func validToken(t *testing.T, claims Claims) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	return createTestToken(t, claims, testSigningKey)
}

func TestJWTMiddleware_RealmAccessRoles(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-321"}}
	claims.RealmAccess.Roles = []string{"offline_access", "nurse"}
	tokenStr := validToken(t, claims)

	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		if role := ActorFromContext(c.Request().Context()).Role; role != RoleNurse {
			t.Errorf("expected NURSE from realm_access, got %q", role)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_QueryTokenOnlyForUpgrade(t *testing.T) {
	tokenStr := validToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}, Roles: []string{"DOCTOR"}})
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	e := echo.New()

	plain := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stream?access_token="+tokenStr, nil)
	if err := mw(ok)(e.NewContext(plain, httptest.NewRecorder())); err == nil {
		t.Error("query token must be ignored on ordinary requests")
	}

	upgrade := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stream?access_token="+tokenStr, nil)
	upgrade.Header.Set("Upgrade", "websocket")
	var uid string
	err := mw(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(e.NewContext(upgrade, httptest.NewRecorder()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "user-1" {
		t.Errorf("expected user-1, got %q", uid)
	}
}

func TestIdentity_EmptyContext(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	if UserIDFromContext(ctx) != "" || UsernameFromContext(ctx) != "" || RolesFromContext(ctx) != nil {
		t.Error("expected zero identity on a bare context")
	}
}
