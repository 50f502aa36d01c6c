package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/apperr"
)

// Role is a hospital staff role.
type Role string

const (
	RoleReceptionist Role = "RECEPTIONIST"
	RoleDoctor       Role = "DOCTOR"
	RoleNurse        Role = "NURSE"
	RoleAdmin        Role = "ADMIN"
)

// rolePrecedence picks the acting role when a token carries several.
var rolePrecedence = []Role{RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist}

// ParseRole normalises a role claim. Unknown roles return false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.ToLower(s), "role_"))))
	switch r {
	case RoleReceptionist, RoleDoctor, RoleNurse, RoleAdmin:
		return r, true
	}
	return "", false
}

// Actor is the authenticated caller, passed explicitly into every service operation.
type Actor struct {
	UserID   string
	Username string
	Role     Role
}

// System is the actor used for alerts raised by background processes.
var System = Actor{UserID: "system", Username: "system"}

// Name returns the identifier recorded in audit entries and alert lifecycle fields.
func (a Actor) Name() string {
	if a.Username != "" {
		return a.Username
	}
	if a.UserID != "" {
		return a.UserID
	}
	return "system"
}

// Require returns a Forbidden error unless the actor holds one of roles.
func (a Actor) Require(roles ...Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	if a.Role == "" {
		return apperr.Forbidden("no role assigned to caller")
	}
	return apperr.Forbidden(fmt.Sprintf("role %s may not perform this action", a.Role))
}

// ActorFromContext builds the Actor from the identity stored by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	actor := Actor{
		UserID:   UserIDFromContext(ctx),
		Username: UsernameFromContext(ctx),
	}
	have := make(map[Role]bool)
	for _, s := range RolesFromContext(ctx) {
		if r, ok := ParseRole(s); ok {
			have[r] = true
		}
	}
	for _, r := range rolePrecedence {
		if have[r] {
			actor.Role = r
			break
		}
	}
	return actor
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// Admins pass every check.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, s := range RolesFromContext(c.Request().Context()) {
				has, ok := ParseRole(s)
				if !ok {
					continue
				}
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}
