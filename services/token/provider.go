package token

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/userstore"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideTokenService(db *gorm.DB, cfg *config.Config, users userstore.Store, logger *logging.Service) *Service {
	service := NewService(db, cfg, users, logger)

	if cfg.RefreshToken.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}

	return service
}

var Module = fx.Options(
	fx.Provide(ProvideTokenService),
)
