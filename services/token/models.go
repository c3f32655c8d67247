package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshToken persists only the sha256 of the issued value. Revoked rows
// are kept until cleanup so that reuse after rotation is detectable.
type RefreshToken struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UserID     uint       `json:"user_id" gorm:"not null;index"`
	TokenHash  string     `json:"-" gorm:"uniqueIndex;size:255;not null"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"not null;index"`
	Revoked    bool       `json:"revoked" gorm:"not null;default:false"`
	RevokedAt  *time.Time `json:"revoked_at"`
	LastUsed   time.Time  `json:"last_used"`
	DeviceInfo string     `json:"device_info" gorm:"size:500"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	JTI    string `json:"jti"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type SessionInfo struct {
	IPAddress  string
	UserAgent  string
	DeviceInfo map[string]any
}
