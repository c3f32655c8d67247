package authcore

import (
	"github.com/fleetdeck/authcore/app"
	"github.com/fleetdeck/authcore/config"
)

type App = app.App

func New() *app.Builder {
	return app.NewApp()
}

func NewWithConfig(cfg *config.Config) *app.Builder {
	return app.NewApp().WithConfig(cfg)
}
