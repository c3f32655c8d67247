package totp

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/userstore"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func NewProvider(cfg *config.Config, db *gorm.DB, users userstore.Store, logger *logging.Service) *Service {
	service := NewService(cfg, db, users, logger)

	if cfg.TOTP.CleanupInterval > 0 {
		service.StartCleanupWorker()
	}

	return service
}

var Module = fx.Options(
	fx.Provide(NewProvider),
)
