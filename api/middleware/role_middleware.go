package middleware

import (
	"net/http"

	"stockroom/internal/entity"

	"github.com/labstack/echo/v4"
)

// RequireRole admits callers whose role is in allowed. It must run after
// RequireAuth.
func RequireRole(allowed ...entity.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			currentRole, ok := RoleFromContext(c)
			if !ok || !entity.HasRole(currentRole, allowed...) {
				return c.JSON(http.StatusForbidden, map[string]string{"message": "forbidden"})
			}
			return next(c)
		}
	}
}
