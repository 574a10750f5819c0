package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds role. Admin holds every role.
func HasRole(ctx context.Context, role string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == role || has == "admin" {
			return true
		}
	}
	return false
}

// ResolveOwner picks the on-call scope a request acts on. Callers act on
// their own scope unless they are admin and name another one.
func ResolveOwner(ctx context.Context, requested string) (string, error) {
	uid := UserIDFromContext(ctx)
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == uid {
		if uid == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
		}
		return uid, nil
	}
	if HasRole(ctx, "admin") {
		return requested, nil
	}
	return "", echo.NewHTTPError(http.StatusForbidden, "cannot act on another user's on-call scope")
}
