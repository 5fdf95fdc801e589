package middleware

import (
	"net/http"
	"strings"

	"stockroom/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthMiddleware struct {
	Tokens   *service.TokenIssuer
	Sessions *service.SessionRegistry
	Log      logrus.FieldLogger
}

// RequireAuth accepts a valid bearer access token. Missing, malformed and
// expired tokens all get the same 401.
func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.Tokens == nil {
			return unauthorized(c)
		}
		token := extractBearerToken(c.Request())
		if token == "" {
			return unauthorized(c)
		}
		result := m.Tokens.VerifyAccess(token)
		if !result.Valid() {
			return unauthorized(c)
		}
		SetAuthContext(c, result.Claims)
		if m.Sessions != nil {
			if err := m.Sessions.Touch(c.Request().Context(), result.Claims.UserID); err != nil && m.Log != nil {
				m.Log.WithError(err).Warn("session touch failed")
			}
		}
		return next(c)
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
