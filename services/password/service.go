package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrPasswordMismatch      = errors.New("password does not match stored hash")
)

// ProductionMinCost is the lowest bcrypt cost accepted when the
// application runs in production mode.
const ProductionMinCost = 12

// dummyHash is a bcrypt hash of a random value no account uses. Comparing
// against it keeps the unknown-account path on the same code path and
// roughly the same timing as a real verification failure.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type Service struct {
	config *config.Config
	logger *logging.Service
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.App.IsProduction() && cfg.Auth.BcryptCost < ProductionMinCost {
		if logger != nil {
			logger.Warn("bcrypt cost below production floor, raising",
				zap.Int("configured_cost", cfg.Auth.BcryptCost),
				zap.Int("floor", ProductionMinCost))
		}
		cfg.Auth.BcryptCost = ProductionMinCost
	}
	return &Service{
		config: cfg,
		logger: logger,
	}
}

func (s *Service) Cost() int {
	return s.config.Auth.BcryptCost
}

func (s *Service) ValidatePassword(password string) error {
	if len(password) < s.config.Auth.MinLength {
		if s.logger != nil {
			s.logger.Warn("password validation failed: insufficient length",
				zap.Int("length", len(password)),
				zap.Int("min_required", s.config.Auth.MinLength))
		}
		return fmt.Errorf("password must be at least %d characters", s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	var missing []string

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		if s.logger != nil {
			s.logger.Warn("password validation failed: missing requirements",
				zap.Strings("missing_requirements", missing))
		}
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}

	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}

	return string(hash), nil
}

func (s *Service) MustHashPassword(password string) string {
	hash, err := s.HashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}

func (s *Service) VerifyPassword(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("password verification failed")
		}
		return ErrPasswordMismatch
	}

	return nil
}

// BurnVerification performs a bcrypt comparison that is guaranteed to
// fail. Called on the unknown-account path so its response timing matches
// a genuine wrong-password verification.
func (s *Service) BurnVerification(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
