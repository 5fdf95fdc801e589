package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"stockroom/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// NewValidator returns a validator with the project's custom tags registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return validate
}

// ErrorWriter maps service errors onto HTTP responses. Unexpected errors are
// logged and redacted unless Development is set.
type ErrorWriter struct {
	Log         logrus.FieldLogger
	Development bool
}

func (w ErrorWriter) write(c echo.Context, err error) error {
	var locked *service.LockedError
	var suspended *service.SuspendedError
	var banned *service.BannedError
	var blocked *service.BlockedIPError
	var limited *service.RateLimitError

	switch {
	case errors.As(err, &locked):
		return c.JSON(http.StatusLocked, map[string]any{
			"message":     "account temporarily locked after repeated failed logins",
			"locked":      true,
			"lockedUntil": locked.Until,
		})
	case errors.As(err, &suspended):
		return c.JSON(http.StatusForbidden, map[string]any{
			"message":   "account suspended",
			"suspended": true,
			"reason":    suspended.Reason,
			"expiresAt": suspended.ExpiresAt,
		})
	case errors.As(err, &banned):
		return c.JSON(http.StatusForbidden, map[string]any{
			"message": "account banned",
			"banned":  true,
			"reason":  banned.Reason,
		})
	case errors.As(err, &blocked):
		return c.JSON(http.StatusForbidden, map[string]any{
			"message":      "access from this address is blocked",
			"blocked":      true,
			"reason":       blocked.Reason,
			"blockedUntil": blocked.Until,
		})
	case errors.As(err, &limited):
		seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		return c.JSON(http.StatusTooManyRequests, map[string]any{"message": err.Error(), "retryAfter": seconds})
	case errors.Is(err, service.ErrSessionExpired):
		return c.JSON(http.StatusForbidden, map[string]any{"message": err.Error(), "sessionExpired": true})
	case errors.Is(err, service.ErrEmailNotVerified):
		return c.JSON(http.StatusForbidden, map[string]any{"message": err.Error(), "emailNotVerified": true})
	case errors.Is(err, service.ErrTwoFactorRequired):
		return c.JSON(http.StatusUnauthorized, map[string]any{"message": err.Error(), "twoFactorRequired": true})
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrInvalidTwoFactorCode):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountExists),
		errors.Is(err, service.ErrTwoFactorEnabled):
		status = http.StatusConflict
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrProtectedAccount),
		errors.Is(err, service.ErrSelfAction):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrRegistrationThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrTwoFactorNotPending),
		errors.Is(err, service.ErrTwoFactorNotEnabled):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		if w.Log != nil {
			w.Log.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
		}
		if !w.Development {
			return writeError(c, status, errors.New("internal server error"))
		}
	}
	return writeError(c, status, err)
}

func decodeJSON(c echo.Context, target any) error {
	if c.Request().Body == nil || c.Request().ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func validationError(c echo.Context, err error) error {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		fields := make(map[string]string, len(fieldErrors))
		for _, fieldError := range fieldErrors {
			fields[lowerFirst(fieldError.Field())] = fieldError.Tag()
		}
		return c.JSON(http.StatusBadRequest, map[string]any{"message": "validation failed", "fields": fields})
	}
	return writeError(c, http.StatusBadRequest, err)
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
