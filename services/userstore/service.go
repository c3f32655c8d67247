package userstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) FindByID(id uint) (*Account, error) {
	var account Account
	if err := s.db.Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &account, nil
}

// FindByLoginKey resolves the identifier users type at the login form.
// Usernames are the primary key for the dashboard; email works too.
func (s *Service) FindByLoginKey(key string) (*Account, error) {
	var account Account
	if err := s.db.Where("username = ? OR email = ?", key, key).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &account, nil
}

func (s *Service) UpdateLastLogin(id uint) error {
	result := s.db.Model(&Account{}).Where("id = ?", id).Update("last_login", time.Now())
	if result.Error != nil {
		return fmt.Errorf("failed to update last login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) UpdateTwoFactorSecret(id uint, secret string) error {
	result := s.db.Model(&Account{}).Where("id = ?", id).Update("two_factor_secret", secret)
	if result.Error != nil {
		return fmt.Errorf("failed to update two-factor secret: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) SetTwoFactorEnabled(id uint, enabled bool) error {
	updates := map[string]any{"two_factor_enabled": enabled}
	if !enabled {
		updates["two_factor_secret"] = ""
	}

	result := s.db.Model(&Account{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update two-factor state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetActive flips the account's active flag. Inactive accounts fail
// authentication and token refresh.
func (s *Service) SetActive(id uint, active bool) error {
	result := s.db.Model(&Account{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update active flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) UpdatePasswordHash(id uint, hash string) error {
	result := s.db.Model(&Account{}).Where("id = ?", id).Update("password_hash", hash)
	if result.Error != nil {
		return fmt.Errorf("failed to update password hash: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
