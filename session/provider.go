package session

import (
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideService(db *gorm.DB, cfg *config.Config, logger *logging.Service) (*Service, error) {
	store, err := NewStore(cfg, db)
	if err != nil {
		return nil, err
	}

	svc := NewService(db, store, cfg, logger)

	if cfg.Session.CleanupInterval > 0 {
		svc.StartCleanupWorker()
	}

	return svc, nil
}

var Module = fx.Options(
	fx.Provide(ProvideService),
)
