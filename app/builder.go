package app

import (
	"fmt"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/database"
	"github.com/fleetdeck/authcore/middleware/ratelimit"
	"github.com/fleetdeck/authcore/services/auth"
	"github.com/fleetdeck/authcore/services/lockout"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/password"
	"github.com/fleetdeck/authcore/services/token"
	"github.com/fleetdeck/authcore/services/totp"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Builder assembles the auth core for a consuming application. The
// default model set covers every table the core owns; consumers add
// their own models for the shared AutoMigrate pass.
type Builder struct {
	config    *config.Config
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *Builder {
	return &Builder{
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *Builder) WithAutoConfig() *Builder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels registers extra gorm models to migrate alongside the auth
// core's own tables.
func (b *Builder) WithModels(models ...any) *Builder {
	b.models = append(b.models, models...)
	return b
}

func (b *Builder) WithFxOptions(opts ...fx.Option) *Builder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *Builder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	app := &App{
		config: b.config,
	}

	options := b.buildFxOptions()
	options = append(options, fx.Invoke(func(
		logger *logging.Service,
		db *gorm.DB,
		users userstore.Store,
		passwords *password.Service,
		tokens *token.Service,
		totpSvc *totp.Service,
		sessions *session.Service,
		authSvc *auth.Service,
	) {
		app.logger = logger
		app.db = db
		app.users = users
		app.passwords = passwords
		app.tokens = tokens
		app.totp = totpSvc
		app.sessions = sessions
		app.auth = authSvc
	}))

	app.fx = fx.New(options...)

	return app, nil
}

func (b *Builder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *Builder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *Builder) buildFxOptions() []fx.Option {
	models := []any{
		&userstore.Account{},
		&token.RefreshToken{},
		&totp.UsedCode{},
		&session.UserSession{},
	}
	models = append(models, b.models...)

	options := []fx.Option{
		config.NewProvider(b.config),
		logging.Module,
		fx.Supply(database.WithModels(models...)),
		fx.NopLogger,
		database.Module,
		userstore.Module,
		password.Module,
		token.Module,
		totp.Module,
		lockout.Module,
		ratelimit.Module,
		session.Module,
		auth.Module,
	}

	options = append(options, b.fxOptions...)

	return options
}
