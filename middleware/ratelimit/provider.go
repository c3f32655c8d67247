package ratelimit

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Limiters carries one limiter per protected route; thresholds come from
// configuration, not code.
type Limiters struct {
	Login          *Limiter
	PasswordChange *Limiter
}

func NewStore(cfg *config.Config) Store {
	switch cfg.RateLimit.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client)
	case "memory":
		fallthrough
	default:
		return NewMemoryStore()
	}
}

func ProvideLimiters(cfg *config.Config) *Limiters {
	store := NewStore(cfg)

	return &Limiters{
		Login:          NewLimiter(store, "login", cfg.RateLimit.LoginMax, cfg.RateLimit.LoginPeriod),
		PasswordChange: NewLimiter(store, "password_change", cfg.RateLimit.PasswordChangeMax, cfg.RateLimit.PasswordChangePeriod),
	}
}

var Module = fx.Options(
	fx.Provide(ProvideLimiters),
)
