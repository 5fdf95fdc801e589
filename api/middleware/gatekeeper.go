package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Gatekeeper puts the IP gatekeeper in front of handlers: block list first,
// then the progressive slow-down, then the fixed-window limit.
type Gatekeeper struct {
	Gate   *service.IPGatekeeper
	Events *service.EventLog
	Sleep  SleepFunc
	Log    logrus.FieldLogger
}

// BlockList rejects requests from blocked addresses with 403.
func (g Gatekeeper) BlockList() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			err := g.Gate.CheckBlocked(c.Request().Context(), ip)
			var blocked *service.BlockedIPError
			if errors.As(err, &blocked) {
				g.logger().WithFields(logrus.Fields{"ip": ip, "uri": c.Request().RequestURI}).Info("blocked ip rejected")
				return c.JSON(http.StatusForbidden, map[string]any{
					"message":      "access from this address is blocked",
					"blocked":      true,
					"reason":       blocked.Reason,
					"blockedUntil": blocked.Until,
				})
			}
			if err != nil {
				g.logger().WithError(err).Error("block list lookup failed")
				return c.JSON(http.StatusInternalServerError, map[string]string{"message": "internal server error"})
			}
			return next(c)
		}
	}
}

// Throttle applies rule's slow-down and fixed-window limit for the client IP.
func (g Gatekeeper) Throttle(rule service.LimitRule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ip := c.RealIP()

			delay, err := g.Gate.SlowDown(ctx, ip, rule)
			if err != nil {
				g.logger().WithError(err).Warn("slow-down counter unavailable")
			}
			if delay > 0 {
				if err := g.sleep(ctx, delay); err != nil {
					return err
				}
			}

			err = g.Gate.Allow(ctx, ip, rule)
			var limited *service.RateLimitError
			if errors.As(err, &limited) {
				seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
				g.Events.Record(ctx, service.Event{
					Meta:    RequestMeta(c),
					Action:  entity.RequestBlocked,
					Details: map[string]any{"reason": "rate_limit", "endpoint": rule.Name, "retryAfter": seconds},
				})
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"message":    "too many requests, try again later",
					"retryAfter": seconds,
				})
			}
			if err != nil {
				g.logger().WithError(err).Warn("rate limit counter unavailable")
			}
			return next(c)
		}
	}
}

func (g Gatekeeper) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	return ContextSleep(ctx, d)
}

func (g Gatekeeper) logger() logrus.FieldLogger {
	if g.Log == nil {
		return logrus.StandardLogger()
	}
	return g.Log
}
