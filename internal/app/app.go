package app

import (
	"errors"
	"net"
	"time"

	"stockroom/api/handler"
	apiMiddleware "stockroom/api/middleware"
	"stockroom/api/routes"
	"stockroom/config"
	"stockroom/internal/jobs"
	"stockroom/internal/ratelimit"
	"stockroom/internal/repository"
	"stockroom/internal/service"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options carries the process-level resources App is assembled from. Clock,
// Hasher, Notifier and Sleep may be left nil to get the production defaults.
type Options struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Log      *logrus.Logger
	Clock    service.Clock
	Hasher   service.PasswordHasher
	Notifier service.Notifier
	Sleep    apiMiddleware.SleepFunc
}

type App struct {
	Echo        *echo.Echo
	Scheduler   *jobs.Scheduler
	Notify      *service.NotificationDispatcher
	Auth        *service.AuthService
	Status      *service.AccountStatusService
	Gatekeeper  *service.IPGatekeeper
	TwoFactor   *service.TwoFactorManager
	Maintenance *service.MaintenanceService
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if opts.DB == nil {
		return nil, errors.New("app: database is required")
	}
	logger := opts.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = service.RealClock{}
	}

	userRepo := repository.NewUserRepository(opts.DB)
	sessionRepo := repository.NewSessionRepository(opts.DB)
	verificationRepo := repository.NewVerificationTokenRepository(opts.DB)
	twoFactorRepo := repository.NewTwoFactorRepository(opts.DB)
	eventRepo := repository.NewSecurityEventRepository(opts.DB)
	blockRepo := repository.NewBlockedIPRepository(opts.DB)
	attemptRepo := repository.NewRegistrationAttemptRepository(opts.DB)

	var shared ratelimit.Limiter
	if opts.Redis != nil {
		shared = ratelimit.NewRedisLimiter(opts.Redis, cfg.Redis.Prefix)
	}
	limiter := ratelimit.NewManager(shared, logger)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = newNotifier(cfg.Mail, logger)
	}
	notify := service.NewNotificationDispatcher(notifier, logger)

	tokens, err := service.NewTokenIssuer(service.TokenConfig{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
	}, clock)
	if err != nil {
		return nil, err
	}

	traffic := routes.NewTrafficLimiter()
	events := service.NewEventLog(eventRepo, blockRepo, traffic, nil, clock, logger)
	sessions := service.NewSessionRegistry(sessionRepo, clock)
	guard := service.NewFailedLoginGuard(userRepo, clock)
	status := service.NewAccountStatusService(userRepo, sessions, events, notify, clock, logger)
	gatekeeper := service.NewIPGatekeeper(blockRepo, attemptRepo, limiter, events, clock)
	twoFactor := service.NewTwoFactorManager(twoFactorRepo, userRepo, events, notify, clock, cfg.Security.TOTPIssuer)
	analytics := service.NewSecurityAnalyticsService(eventRepo, sessions, guard, gatekeeper, clock)
	maintenance := service.NewMaintenanceService(sessions, gatekeeper, analytics, eventRepo, limiter, clock, logger, cfg.Security.AutoBlockSuspicious)

	authService := service.NewAuthService(service.AuthDependencies{
		Users:         userRepo,
		Verifications: verificationRepo,
		History:       eventRepo,
		Hasher:        opts.Hasher,
		Tokens:        tokens,
		Sessions:      sessions,
		Guard:         guard,
		Status:        status,
		Gatekeeper:    gatekeeper,
		TwoFactor:     twoFactor,
		Events:        events,
		Notify:        notify,
		Clock:         clock,
		Log:           logger,
	}, service.AuthConfig{
		VerificationTokenTTL:     24 * time.Hour,
		RequireEmailVerification: cfg.Security.RequireEmailVerification,
		AppBaseURL:               cfg.Mail.AppBaseURL,
	})

	validate := handler.NewValidator()
	errs := handler.ErrorWriter{Log: logger, Development: cfg.IsDevelopment()}

	authHandler := handler.NewAuthHandler(authService, validate, errs)
	authHandler.CookieDomain = cfg.Security.CookieDomain
	authHandler.SecureCookies = cfg.Security.SecureCookies

	securityHandler := &handler.SecurityHandler{
		Status:     status,
		Gatekeeper: gatekeeper,
		TwoFactor:  twoFactor,
		Analytics:  analytics,
		Validate:   validate,
		Errors:     errs,
	}

	proxies, err := cfg.Security.TrustedProxyNets()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(proxies)
	e.Use(echoMiddleware.Recover())
	e.Use(apiMiddleware.RequestID())
	e.Use(requestLogger(logger))

	authMiddleware := apiMiddleware.AuthMiddleware{Tokens: tokens, Sessions: sessions, Log: logger}
	gate := apiMiddleware.Gatekeeper{Gate: gatekeeper, Events: events, Sleep: opts.Sleep, Log: logger}
	router := routes.NewRouter(e, authHandler, securityHandler, authMiddleware, gate, traffic)
	router.RegisterRoutes()

	return &App{
		Echo:        e,
		Scheduler:   jobs.NewScheduler(maintenance, cfg.Security.SweepSchedule, logger),
		Notify:      notify,
		Auth:        authService,
		Status:      status,
		Gatekeeper:  gatekeeper,
		TwoFactor:   twoFactor,
		Maintenance: maintenance,
	}, nil
}

// ipExtractor uses the TCP peer address unless the peer is a configured
// proxy, in which case X-Forwarded-For is walked back to the first untrusted
// hop. X-Real-IP is never consulted.
func ipExtractor(proxies []*net.IPNet) echo.IPExtractor {
	if len(proxies) == 0 {
		return echo.ExtractIPDirect()
	}
	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, network := range proxies {
		options = append(options, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(options...)
}

func newNotifier(mail config.MailConfig, logger *logrus.Logger) service.Notifier {
	if mail.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set, notifications are logged only")
		return service.LogNotifier{Log: logger}
	}
	return service.NewResendNotifier(mail.ResendAPIKey, mail.From)
}

func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":     v.Status,
				"method":     v.Method,
				"uri":        v.URI,
				"ip":         v.RemoteIP,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": apiMiddleware.RequestIDFromContext(c),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	})
}
