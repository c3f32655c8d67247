package password

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"go.uber.org/fx"
)

func NewProvider(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger)
}

var Module = fx.Options(
	fx.Provide(NewProvider),
)
