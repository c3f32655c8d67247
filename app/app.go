package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/auth"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/password"
	"github.com/fleetdeck/authcore/services/token"
	"github.com/fleetdeck/authcore/services/totp"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// App is the assembled auth core. Consuming applications mount its
// services behind their own transport.
type App struct {
	fx        *fx.App
	config    *config.Config
	logger    *logging.Service
	db        *gorm.DB
	users     userstore.Store
	passwords *password.Service
	tokens    *token.Service
	totp      *totp.Service
	sessions  *session.Service
	auth      *auth.Service
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	if a.logger != nil {
		a.logger.Info("Received shutdown signal, stopping gracefully...")
	} else {
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	}

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop application gracefully")
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

func (a *App) StartTest() error {
	return a.fx.Start(context.Background())
}

func (a *App) StopTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop test application")
		} else {
			log.Printf("Failed to stop test application: %v", err)
		}
	}
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Users() userstore.Store {
	return a.users
}

func (a *App) Passwords() *password.Service {
	return a.passwords
}

func (a *App) Tokens() *token.Service {
	return a.tokens
}

func (a *App) TOTP() *totp.Service {
	return a.totp
}

func (a *App) Sessions() *session.Service {
	return a.sessions
}

func (a *App) Auth() *auth.Service {
	return a.auth
}
