package middleware

import (
	"stockroom/internal/entity"
	"stockroom/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	contextUserIDKey   = "auth_user_id"
	contextUsernameKey = "auth_username"
	contextRoleKey     = "auth_role"
	contextRequestID   = "request_id"
)

func SetAuthContext(c echo.Context, claims *service.TokenClaims) {
	c.Set(contextUserIDKey, claims.UserID)
	c.Set(contextUsernameKey, claims.Username)
	c.Set(contextRoleKey, claims.Role)
}

func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	value := c.Get(contextUserIDKey)
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

func RoleFromContext(c echo.Context) (entity.UserRole, bool) {
	value := c.Get(contextRoleKey)
	role, ok := value.(entity.UserRole)
	return role, ok
}

// ActorFromContext returns the authenticated caller set by RequireAuth.
func ActorFromContext(c echo.Context) (service.Actor, bool) {
	userID, ok := UserIDFromContext(c)
	if !ok {
		return service.Actor{}, false
	}
	role, _ := RoleFromContext(c)
	username, _ := c.Get(contextUsernameKey).(string)
	return service.Actor{ID: userID, Username: username, Role: role}, true
}

func RequestMeta(c echo.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func RequestIDFromContext(c echo.Context) string {
	value, _ := c.Get(contextRequestID).(string)
	return value
}
