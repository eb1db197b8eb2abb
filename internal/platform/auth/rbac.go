package auth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/pkg/apperrors"
)

// RequireAuthenticated rejects requests without a user in context.
func RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserUUIDFromContext(c.Request().Context()) == uuid.Nil {
				return apperrors.Unauthorized("authentication required")
			}
			return next(c)
		}
	}
}

// RequireRole checks the token roles. "admin" satisfies every role.
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
			return apperrors.AccessDenied(fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
