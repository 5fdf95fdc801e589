package handler

import (
	"errors"
	"net/http"
	"time"

	"stockroom/api/middleware"
	"stockroom/internal/dto"
	"stockroom/internal/entity"
	"stockroom/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type SecurityHandler struct {
	Status     *service.AccountStatusService
	Gatekeeper *service.IPGatekeeper
	TwoFactor  *service.TwoFactorManager
	Analytics  *service.SecurityAnalyticsService
	Validate   *validator.Validate
	Errors     ErrorWriter
}

func (h *SecurityHandler) TwoFactorSetup(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	setup, err := h.TwoFactor.GenerateSecret(c.Request().Context(), userID)
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorSetupResponse{
		Secret:      setup.Secret,
		OTPAuthURL:  setup.OTPAuthURL,
		QRCode:      setup.QRCode,
		BackupCodes: setup.BackupCodes,
	})
}

func (h *SecurityHandler) TwoFactorVerifySetup(c echo.Context) error {
	var req dto.TwoFactorCodeRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	if err := h.TwoFactor.VerifySetup(c.Request().Context(), actor.ID, middleware.RequestMeta(c), req.Code); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "two-factor authentication enabled", "enabled": true})
}

func (h *SecurityHandler) TwoFactorDisable(c echo.Context) error {
	var req dto.TwoFactorCodeRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	if err := h.TwoFactor.Disable(c.Request().Context(), actor.ID, middleware.RequestMeta(c), req.Code); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "two-factor authentication disabled", "enabled": false})
}

func (h *SecurityHandler) TwoFactorBackupCodes(c echo.Context) error {
	var req dto.TwoFactorCodeRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	codes, err := h.TwoFactor.RegenerateBackupCodes(c.Request().Context(), actor.ID, req.Code)
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.BackupCodesResponse{BackupCodes: codes})
}

func (h *SecurityHandler) TwoFactorStatus(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	status, err := h.TwoFactor.Status(c.Request().Context(), userID)
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorStatusResponse{
		Enabled:              status.Enabled,
		Pending:              status.Pending,
		EnabledAt:            status.EnabledAt,
		BackupCodesRemaining: status.BackupCodesRemaining,
	})
}

func (h *SecurityHandler) ListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Status.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

func (h *SecurityHandler) SuspendUser(c echo.Context) error {
	var req dto.SuspendUserRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	user, err := h.Status.Suspend(c.Request().Context(), actor, middleware.RequestMeta(c), service.SuspendInput{
		UserID:        uuid.MustParse(req.UserID),
		Reason:        req.Reason,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "user suspended", "user": dto.UserResponseFromEntity(user)})
}

func (h *SecurityHandler) UnsuspendUser(c echo.Context) error {
	var req dto.UserTargetRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	user, err := h.Status.Unsuspend(c.Request().Context(), actor, middleware.RequestMeta(c), uuid.MustParse(req.UserID))
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "user unsuspended", "user": dto.UserResponseFromEntity(user)})
}

func (h *SecurityHandler) BanUser(c echo.Context) error {
	var req dto.BanUserRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	user, err := h.Status.Ban(c.Request().Context(), actor, middleware.RequestMeta(c), service.BanInput{
		UserID: uuid.MustParse(req.UserID),
		Reason: req.Reason,
	})
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "user banned", "user": dto.UserResponseFromEntity(user)})
}

func (h *SecurityHandler) UnbanUser(c echo.Context) error {
	var req dto.UserTargetRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	user, err := h.Status.Unban(c.Request().Context(), actor, middleware.RequestMeta(c), uuid.MustParse(req.UserID))
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "user unbanned", "user": dto.UserResponseFromEntity(user)})
}

func (h *SecurityHandler) ChangeRole(c echo.Context) error {
	var req dto.ChangeRoleRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	user, err := h.Status.ChangeRole(c.Request().Context(), actor, middleware.RequestMeta(c), uuid.MustParse(req.UserID), entity.UserRole(req.Role))
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "role updated", "user": dto.UserResponseFromEntity(user)})
}

func (h *SecurityHandler) DeleteUser(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid user id"))
	}
	if err := h.Status.Delete(c.Request().Context(), actor, middleware.RequestMeta(c), userID); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "user deleted"})
}

func (h *SecurityHandler) BlockIP(c echo.Context) error {
	var req dto.BlockIPRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	block, err := h.Gatekeeper.Block(c.Request().Context(), &actor, middleware.RequestMeta(c), service.BlockInput{
		IPAddress:     req.IPAddress,
		Reason:        req.Reason,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "ip blocked", "block": dto.BlockedIPResponseFromEntity(block)})
}

func (h *SecurityHandler) UnblockIP(c echo.Context) error {
	var req dto.UnblockIPRequest
	actor, ok, err := h.bind(c, &req)
	if !ok {
		return err
	}
	if err := h.Gatekeeper.Unblock(c.Request().Context(), actor, middleware.RequestMeta(c), req.IPAddress); err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "ip unblocked"})
}

func (h *SecurityHandler) ListBlockedIPs(c echo.Context) error {
	blocks, err := h.Gatekeeper.ListBlocked(c.Request().Context())
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.BlockedIPResponsesFromEntities(blocks))
}

func (h *SecurityHandler) GetAnalytics(c echo.Context) error {
	analytics, err := h.Analytics.Analytics(c.Request().Context(), parseWindow(c))
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.AnalyticsResponse{
		Since:          analytics.Since,
		EventsByAction: analytics.EventsByAction,
		TopIPs:         analytics.TopIPs,
		ActiveSessions: analytics.ActiveSessions,
		LockedAccounts: analytics.LockedAccounts,
		BlockedIPs:     analytics.BlockedIPs,
	})
}

func (h *SecurityHandler) GetSuspiciousActivity(c echo.Context) error {
	activity, err := h.Analytics.SuspiciousActivity(c.Request().Context(), parseWindow(c))
	if err != nil {
		return h.Errors.write(c, err)
	}
	return c.JSON(http.StatusOK, dto.SuspiciousActivityResponse{
		Since:          activity.Since,
		SuspiciousIPs:  activity.SuspiciousIPs,
		HighRiskEvents: dto.SecurityEventResponsesFromEntities(activity.HighRiskEvents),
	})
}

// bind decodes and validates payload for an authenticated actor. When ok
// is false the response has already been written and err is its result.
func (h *SecurityHandler) bind(c echo.Context, payload any) (service.Actor, bool, error) {
	actor, found := middleware.ActorFromContext(c)
	if !found {
		return service.Actor{}, false, writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := decodeJSON(c, payload); err != nil {
		return service.Actor{}, false, writeError(c, http.StatusBadRequest, err)
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			return service.Actor{}, false, validationError(c, err)
		}
	}
	return actor, true, nil
}

func parseWindow(c echo.Context) time.Duration {
	window, err := time.ParseDuration(c.QueryParam("window"))
	if err != nil || window <= 0 || window > 90*24*time.Hour {
		return service.DefaultAnalyticsWindow
	}
	return window
}
