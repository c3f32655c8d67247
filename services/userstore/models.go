package userstore

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account carries the auth-relevant columns of a dashboard user. The rest
// of the user profile is owned by the consuming application.
type Account struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	Username         string     `json:"username" gorm:"uniqueIndex;size:64;not null"`
	Email            string     `json:"email" gorm:"uniqueIndex;size:120;not null"`
	PasswordHash     string     `json:"-" gorm:"size:255;not null"`
	Role             Role       `json:"role" gorm:"size:16;not null;default:'user'"`
	TwoFactorSecret  string     `json:"-" gorm:"size:64"`
	TwoFactorEnabled bool       `json:"two_factor_enabled" gorm:"not null;default:false"`
	Active           bool       `json:"active" gorm:"not null;default:true"`
	LastLogin        *time.Time `json:"last_login"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "users"
}

// Store is the user-store contract the auth core consumes. The dashboard
// ships the gorm implementation below; deployments with an existing user
// table supply their own.
type Store interface {
	FindByID(id uint) (*Account, error)
	FindByLoginKey(key string) (*Account, error)
	UpdateLastLogin(id uint) error
	UpdateTwoFactorSecret(id uint, secret string) error
	SetTwoFactorEnabled(id uint, enabled bool) error
	UpdatePasswordHash(id uint, hash string) error
}
