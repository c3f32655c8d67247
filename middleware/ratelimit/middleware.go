package ratelimit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type MiddlewareConfig struct {
	Limiter        *Limiter
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error
}

func Middleware(cfg *MiddlewareConfig) echo.MiddlewareFunc {
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision, err := cfg.Limiter.Allow(c.Request().Context(), cfg.KeyGenerator(c))
			if err != nil && !errors.Is(err, ErrRateLimited) {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Service Unavailable")
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))

			if errors.Is(err, ErrRateLimited) {
				return cfg.OnLimitReached(c)
			}

			return next(c)
		}
	}
}

func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()

	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}

	return realIP
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}
