package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App          AppConfig          `envPrefix:"APP_"`
	Log          LogConfig          `envPrefix:"LOG_"`
	Database     DatabaseConfig     `envPrefix:"DATABASE_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	JWT          JWTConfig          `envPrefix:"JWT_"`
	RefreshToken RefreshTokenConfig `envPrefix:"REFRESH_TOKEN_"`
	TOTP         TOTPConfig         `envPrefix:"TOTP_"`
	Session      SessionConfig      `envPrefix:"SESSION_"`
	RateLimit    RateLimitConfig    `envPrefix:"RATE_LIMIT_"`
	Redis        RedisConfig        `envPrefix:"REDIS_"`
}

type AppConfig struct {
	Name        string `env:"NAME" envDefault:"fleetdeck"`
	Environment string `env:"ENV" envDefault:"development"`
}

func (c AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"fleetdeck.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	BcryptCost     int  `env:"BCRYPT_COST" envDefault:"10"`
	MinLength      int  `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	RequireUpper   bool `env:"PASSWORD_REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"PASSWORD_REQUIRE_LOWER" envDefault:"true"`
	RequireNumber  bool `env:"PASSWORD_REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial bool `env:"PASSWORD_REQUIRE_SPECIAL" envDefault:"false"`

	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
	LockoutStore      string        `env:"LOCKOUT_STORE" envDefault:"memory"`
}

type JWTConfig struct {
	SecretKey    string        `env:"SECRET_KEY"`
	Issuer       string        `env:"ISSUER" envDefault:"fleetdeck"`
	AccessExpiry time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
}

type RefreshTokenConfig struct {
	TokenLength     int           `env:"LENGTH" envDefault:"32"`
	Expiry          time.Duration `env:"EXPIRY" envDefault:"720h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

type TOTPConfig struct {
	Issuer          string        `env:"ISSUER" envDefault:"fleetdeck"`
	Skew            uint          `env:"SKEW" envDefault:"2"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

type SessionConfig struct {
	Store           string        `env:"STORE" envDefault:"memory"`
	TTL             time.Duration `env:"TTL" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

type RateLimitConfig struct {
	Store                string        `env:"STORE" envDefault:"memory"`
	LoginMax             int           `env:"LOGIN_MAX" envDefault:"5"`
	LoginPeriod          time.Duration `env:"LOGIN_PERIOD" envDefault:"15m"`
	PasswordChangeMax    int           `env:"PASSWORD_CHANGE_MAX" envDefault:"3"`
	PasswordChangePeriod time.Duration `env:"PASSWORD_CHANGE_PERIOD" envDefault:"1h"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

const productionMinSecretLength = 32

func LoadConfig(cfg *Config) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	return Validate(cfg)
}

func Validate(cfg *Config) error {
	if err := validateJWTConfig(&cfg.JWT, cfg.App.IsProduction()); err != nil {
		return err
	}
	if err := validateRefreshTokenConfig(&cfg.RefreshToken, cfg.JWT.AccessExpiry); err != nil {
		return err
	}
	return validateLockoutConfig(&cfg.Auth)
}

func validateJWTConfig(cfg *JWTConfig, production bool) error {
	if cfg.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}
	if production && len(cfg.SecretKey) < productionMinSecretLength {
		return fmt.Errorf("JWT secret key must be at least %d characters in production", productionMinSecretLength)
	}
	if cfg.AccessExpiry <= 0 {
		return fmt.Errorf("JWT access expiry must be positive")
	}
	return nil
}

func validateRefreshTokenConfig(cfg *RefreshTokenConfig, accessExpiry time.Duration) error {
	if cfg.TokenLength < 16 {
		return fmt.Errorf("refresh token length must be at least 16 bytes")
	}
	if cfg.Expiry <= 0 {
		return fmt.Errorf("refresh token expiry must be positive")
	}
	if cfg.Expiry <= accessExpiry {
		return fmt.Errorf("refresh token expiry must exceed the access token expiry")
	}
	return nil
}

func validateLockoutConfig(cfg *AuthConfig) error {
	if cfg.MaxFailedAttempts < 1 {
		return fmt.Errorf("max failed attempts must be at least 1")
	}
	if cfg.LockoutDuration <= 0 {
		return fmt.Errorf("lockout duration must be positive")
	}
	return nil
}
