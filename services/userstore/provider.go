package userstore

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideUserStore(db *gorm.DB) Store {
	return NewService(db)
}

var Module = fx.Options(
	fx.Provide(ProvideUserStore),
)
