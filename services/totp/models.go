package totp

import (
	"gorm.io/gorm"
)

// UsedCode guards against replay of a code inside its validity window.
type UsedCode struct {
	gorm.Model
	UserID uint   `gorm:"index:idx_user_code,priority:1;not null"`
	Code   string `gorm:"index:idx_user_code,priority:2;not null"`
	UsedAt int64  `gorm:"index:idx_used_at;not null"`
}

// Enrollment is returned from Enroll; the secret and URI are shown to the
// user once and never persisted outside the account row.
type Enrollment struct {
	Secret string
	URI    string
}
