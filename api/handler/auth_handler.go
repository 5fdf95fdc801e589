package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"stockroom/api/middleware"
	"stockroom/internal/dto"
	"stockroom/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type AuthHandler struct {
	Service           *service.AuthService
	Validate          *validator.Validate
	Errors            ErrorWriter
	RefreshCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSite          http.SameSite
}

func NewAuthHandler(svc *service.AuthService, validate *validator.Validate, errs ErrorWriter) *AuthHandler {
	return &AuthHandler{
		Service:           svc,
		Validate:          validate,
		Errors:            errs,
		RefreshCookieName: "refresh_token",
		SecureCookies:     true,
		SameSite:          http.SameSiteStrictMode,
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	decodeErr := decodeJSON(c, &req)
	input := service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Meta:     middleware.RequestMeta(c),
	}
	if decodeErr != nil {
		if err := h.Service.RejectRegistration(c.Request().Context(), input); err != nil {
			return h.Errors.write(c, err)
		}
		return writeError(c, http.StatusBadRequest, decodeErr)
	}
	if err := h.validate(req); err != nil {
		if rejectErr := h.Service.RejectRegistration(c.Request().Context(), input); rejectErr != nil {
			return h.Errors.write(c, rejectErr)
		}
		return validationError(c, err)
	}
	if _, err := h.Service.Register(c.Request().Context(), input); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "registration successful"})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req dto.VerifyEmailRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return validationError(c, err)
	}
	if err := h.Service.VerifyEmail(c.Request().Context(), req.Token, middleware.RequestMeta(c)); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "email verified"})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return validationError(c, err)
	}
	input := service.LoginInput{
		Username: req.Username,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
		Meta:     middleware.RequestMeta(c),
	}
	result, err := h.Service.Login(c.Request().Context(), input)
	if err != nil {
		return h.Errors.write(c, err)
	}
	h.setRefreshCookie(c, result.Tokens)
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	token, err := h.refreshToken(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if token == "" {
		return writeError(c, http.StatusUnauthorized, errors.New("missing refresh token"))
	}
	result, err := h.Service.Refresh(c.Request().Context(), token, middleware.RequestMeta(c))
	if err != nil {
		return h.Errors.write(c, err)
	}
	h.setRefreshCookie(c, result.Tokens)
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) CheckSession(c echo.Context) error {
	token, err := h.refreshToken(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.CheckSession(c.Request().Context(), token, middleware.RequestMeta(c))
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			h.clearRefreshCookie(c)
		}
		return h.Errors.write(c, err)
	}
	h.setRefreshCookie(c, result.Tokens)
	return c.JSON(http.StatusOK, dto.CheckSessionResponse{LoginResponse: *mapLoginResponse(result)})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	token, err := h.refreshToken(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.Logout(c.Request().Context(), token, middleware.RequestMeta(c)); err != nil {
		return h.Errors.write(c, err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	user, err := h.Service.Me(c.Request().Context(), userID)
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}

// refreshToken reads the token from the JSON body, falling back to the
// refresh cookie.
func (h *AuthHandler) refreshToken(c echo.Context) (string, error) {
	var req dto.RefreshRequest
	if err := decodeJSON(c, &req); err != nil {
		return "", err
	}
	if token := strings.TrimSpace(req.RefreshToken); token != "" {
		return token, nil
	}
	cookie, err := c.Cookie(h.RefreshCookieName)
	if err != nil {
		return "", nil
	}
	return cookie.Value, nil
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, tokens *service.TokenPair) {
	if tokens == nil || tokens.RefreshToken == "" {
		return
	}
	maxAge := int(time.Until(tokens.RefreshExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     h.RefreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  tokens.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func mapLoginResponse(result *service.LoginResult) *dto.LoginResponse {
	if result == nil || result.Tokens == nil {
		return &dto.LoginResponse{}
	}
	response := &dto.LoginResponse{
		AccessToken:      result.Tokens.AccessToken,
		AccessExpiresAt:  result.Tokens.AccessExpiresAt,
		RefreshToken:     result.Tokens.RefreshToken,
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
	}
	if result.User != nil {
		response.User = dto.UserResponseFromEntity(result.User)
	}
	return response
}
