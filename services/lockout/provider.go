package lockout

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func NewStore(cfg *config.Config) Store {
	switch cfg.Auth.LockoutStore {
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

func ProvideTracker(cfg *config.Config, logger *logging.Service) *Tracker {
	return NewTracker(NewStore(cfg), cfg, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideTracker),
)
