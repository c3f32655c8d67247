package totp

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCode     = errors.New("invalid TOTP code")
	ErrAlreadyEnabled  = errors.New("two-factor authentication is already enabled")
	ErrNotEnrolled     = errors.New("no pending two-factor enrollment")
	ErrCodeAlreadyUsed = errors.New("TOTP code has already been used")
)

const codePeriod = 30

type Service struct {
	config *config.Config
	db     *gorm.DB
	users  userstore.Store
	logger *logging.Service
}

func NewService(cfg *config.Config, db *gorm.DB, users userstore.Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing TOTP service",
			zap.String("issuer", cfg.TOTP.Issuer),
			zap.Uint("skew", cfg.TOTP.Skew))
	}

	return &Service{
		config: cfg,
		db:     db,
		users:  users,
		logger: logger,
	}
}

// Enroll generates a fresh secret for the account and stores it pending;
// logins do not require a code until the enrollment is confirmed.
func (s *Service) Enroll(accountID uint) (*Enrollment, error) {
	account, err := s.users.FindByID(accountID)
	if err != nil {
		return nil, err
	}

	if account.TwoFactorEnabled {
		if s.logger != nil {
			s.logger.Warn("two-factor enrollment attempted but already enabled",
				zap.Uint("user_id", accountID))
		}
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer(),
		AccountName: account.Username,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("TOTP key generation failed",
				zap.Error(err),
				zap.Uint("user_id", accountID))
		}
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if err := s.users.UpdateTwoFactorSecret(accountID, key.Secret()); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("two-factor enrollment started", zap.Uint("user_id", accountID))
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// Confirm checks a code against the pending secret and, on success,
// activates the second factor for the account.
func (s *Service) Confirm(accountID uint, code string) error {
	account, err := s.users.FindByID(accountID)
	if err != nil {
		return err
	}

	if account.TwoFactorEnabled {
		return ErrAlreadyEnabled
	}
	if account.TwoFactorSecret == "" {
		return ErrNotEnrolled
	}

	// the confirmation code goes through the replay guard too, so it
	// cannot be reused at the first login
	if err := s.consumeCode(accountID, account.TwoFactorSecret, code); err != nil {
		return err
	}

	if err := s.users.SetTwoFactorEnabled(accountID, true); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("two-factor authentication enabled", zap.Uint("user_id", accountID))
	}

	return nil
}

// Disable clears the secret and the active flag, and drops any replay
// guard rows for the account.
func (s *Service) Disable(accountID uint) error {
	if err := s.users.SetTwoFactorEnabled(accountID, false); err != nil {
		return err
	}

	result := s.db.Where("user_id = ?", accountID).Delete(&UsedCode{})
	if result.Error != nil {
		return fmt.Errorf("failed to clean up used codes: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Info("two-factor authentication disabled",
			zap.Uint("user_id", accountID),
			zap.Int64("used_codes_cleaned", result.RowsAffected))
	}

	return nil
}

// VerifyCode accepts codes from the configured skew window on either side
// of the current time step.
func (s *Service) VerifyCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    codePeriod,
		Skew:      s.config.TOTP.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// VerifyUserCode is the login-time check: skew-window validation plus a
// replay guard so a sniffed code cannot be used twice within its window.
func (s *Service) VerifyUserCode(account *userstore.Account, code string) error {
	if !account.TwoFactorEnabled || account.TwoFactorSecret == "" {
		return ErrNotEnrolled
	}

	return s.consumeCode(account.ID, account.TwoFactorSecret, code)
}

// consumeCode validates a code and records it, rejecting any code already
// seen for the account within the current window.
func (s *Service) consumeCode(accountID uint, secret, code string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		cutoff := time.Now().Unix() - s.replayWindowSeconds()
		var existing UsedCode
		if err := tx.Where("user_id = ? AND code = ? AND used_at > ?", accountID, code, cutoff).First(&existing).Error; err == nil {
			if s.logger != nil {
				s.logger.Warn("TOTP verification failed - code already used",
					zap.Uint("user_id", accountID))
			}
			return ErrCodeAlreadyUsed
		}

		if !s.VerifyCode(secret, code) {
			if s.logger != nil {
				s.logger.Warn("TOTP verification failed - invalid code",
					zap.Uint("user_id", accountID))
			}
			return ErrInvalidCode
		}

		usedCode := &UsedCode{
			UserID: accountID,
			Code:   code,
			UsedAt: time.Now().Unix(),
		}
		if err := tx.Create(usedCode).Error; err != nil {
			return fmt.Errorf("failed to store used code: %w", err)
		}

		return nil
	})
}

func (s *Service) CleanupUsedCodes() error {
	cutoff := time.Now().Unix() - s.replayWindowSeconds()
	result := s.db.Where("used_at < ?", cutoff).Delete(&UsedCode{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup used TOTP codes", zap.Error(result.Error))
		}
		return result.Error
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("TOTP used codes cleanup completed",
			zap.Int64("cleaned_count", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.TOTP.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupUsedCodes(); err != nil && s.logger != nil {
				s.logger.Error("used code cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started used code cleanup worker",
			zap.Duration("interval", s.config.TOTP.CleanupInterval))
	}
}

// A code stays valid for skew steps either side of now, so the replay
// guard must outlive the whole window.
func (s *Service) replayWindowSeconds() int64 {
	return int64(2*s.config.TOTP.Skew+1) * codePeriod
}

func (s *Service) issuer() string {
	if s.config.TOTP.Issuer == "" {
		return s.config.App.Name
	}
	return s.config.TOTP.Issuer
}
