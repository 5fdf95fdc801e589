package routes

import (
	"time"

	"stockroom/api/handler"
	"stockroom/api/middleware"
	"stockroom/internal/entity"
	"stockroom/internal/service"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	Security       *handler.SecurityHandler
	AuthMiddleware middleware.AuthMiddleware
	Gatekeeper     middleware.Gatekeeper
	// Traffic is observed on every request; its saturation feeds the risk
	// scorer.
	Traffic      *middleware.RateLimiter
	AuthRate     *middleware.RateLimiter
	SecurityRate *middleware.RateLimiter
}

func NewTrafficLimiter() *middleware.RateLimiter {
	return middleware.NewRateLimiter(rate.Limit(10), 30, 10*time.Minute)
}

func NewRouter(
	e *echo.Echo,
	authHandler *handler.AuthHandler,
	securityHandler *handler.SecurityHandler,
	authMiddleware middleware.AuthMiddleware,
	gatekeeper middleware.Gatekeeper,
	traffic *middleware.RateLimiter,
) *Router {
	if traffic == nil {
		traffic = NewTrafficLimiter()
	}
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		Security:       securityHandler,
		AuthMiddleware: authMiddleware,
		Gatekeeper:     gatekeeper,
		Traffic:        traffic,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		SecurityRate:   middleware.NewRateLimiter(rate.Limit(5), 20, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	e.Use(r.Traffic.Observe())

	auth := e.Group("/auth", r.Gatekeeper.BlockList())
	auth.POST("/register", r.Auth.Register, r.Gatekeeper.Throttle(service.RegisterLimit))
	auth.POST("/login", r.Auth.Login, r.Gatekeeper.Throttle(service.LoginLimit))
	auth.POST("/verify-email", r.Auth.VerifyEmail, r.AuthRate.Middleware())
	auth.POST("/refresh", r.Auth.Refresh, r.AuthRate.Middleware())
	auth.POST("/check-session", r.Auth.CheckSession, r.AuthRate.Middleware())
	auth.POST("/logout", r.Auth.Logout)
	auth.GET("/me", r.Auth.Me, r.AuthMiddleware.RequireAuth)

	security := e.Group("/security", r.Gatekeeper.BlockList(), r.AuthMiddleware.RequireAuth, r.SecurityRate.Middleware())
	security.POST("/2fa/setup", r.Security.TwoFactorSetup)
	security.POST("/2fa/verify-setup", r.Security.TwoFactorVerifySetup)
	security.POST("/2fa/disable", r.Security.TwoFactorDisable)
	security.POST("/2fa/backup-codes", r.Security.TwoFactorBackupCodes)
	security.GET("/2fa/status", r.Security.TwoFactorStatus)

	admin := security.Group("", middleware.RequireRole(entity.UserRoleSeniorAdmin))
	admin.GET("/users", r.Security.ListUsers)
	admin.POST("/users/suspend", r.Security.SuspendUser)
	admin.POST("/users/unsuspend", r.Security.UnsuspendUser)
	admin.POST("/users/ban", r.Security.BanUser)
	admin.POST("/users/unban", r.Security.UnbanUser)
	admin.POST("/users/role", r.Security.ChangeRole)
	admin.DELETE("/users/:id", r.Security.DeleteUser)
	admin.GET("/ips", r.Security.ListBlockedIPs)
	admin.POST("/ips/block", r.Security.BlockIP)
	admin.POST("/ips/unblock", r.Security.UnblockIP)
	admin.GET("/analytics", r.Security.GetAnalytics)
	admin.GET("/suspicious-activity", r.Security.GetSuspiciousActivity)
}
