package session

import (
	"fmt"

	"github.com/alexedwards/scs/gormstore"
	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/fleetdeck/authcore/config"
	"gorm.io/gorm"
)

func NewMemoryStore() scs.Store {
	return memstore.New()
}

// NewDatabaseStore keeps payloads in the sessions table managed by
// gormstore. Cleanup interval 0 disables gormstore's own background
// sweeper; the service's cleanup worker handles expiry instead.
func NewDatabaseStore(db *gorm.DB) (scs.Store, error) {
	return gormstore.NewWithCleanupInterval(db, 0)
}

func NewStore(cfg *config.Config, db *gorm.DB) (scs.Store, error) {
	switch cfg.Session.Store {
	case "memory":
		return NewMemoryStore(), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database session store requires database to be enabled")
		}
		store, err := NewDatabaseStore(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create database session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Session.Store)
	}
}
