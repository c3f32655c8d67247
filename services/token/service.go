package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTokenNotFound         = errors.New("refresh token not found")
	ErrTokenExpired          = errors.New("refresh token expired")
	ErrTokenRevoked          = errors.New("refresh token revoked")
	ErrTokenGenerationFailed = errors.New("failed to generate secure token")

	ErrInvalidAccessToken   = errors.New("invalid access token")
	ErrExpiredAccessToken   = errors.New("access token has expired")
	ErrMalformedAccessToken = errors.New("malformed access token")
	ErrInvalidSignature     = errors.New("invalid access token signature")
)

type Service struct {
	db     *gorm.DB
	config *config.Config
	users  userstore.Store
	logger *logging.Service
}

func NewService(db *gorm.DB, cfg *config.Config, users userstore.Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing token service",
			zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
			zap.Duration("refresh_expiry", cfg.RefreshToken.Expiry),
			zap.Int("refresh_token_length", cfg.RefreshToken.TokenLength))
	}

	return &Service{
		db:     db,
		config: cfg,
		users:  users,
		logger: logger,
	}
}

func (s *Service) AccessExpiry() time.Duration {
	return s.config.JWT.AccessExpiry
}

func (s *Service) RefreshExpiry() time.Duration {
	return s.config.RefreshToken.Expiry
}

// Issue mints an access/refresh pair for a fully authenticated account.
// The refresh token value leaves this function exactly once; only its
// hash is persisted.
func (s *Service) Issue(account *userstore.Account, sessionInfo SessionInfo) (*Pair, error) {
	accessToken, accessExpiresAt, err := s.generateAccessToken(account.ID, string(account.Role))
	if err != nil {
		return nil, err
	}

	refreshValue, err := s.generateSecureToken()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate refresh token", zap.Error(err))
		}
		return nil, ErrTokenGenerationFailed
	}

	now := time.Now()
	record := RefreshToken{
		UserID:     account.ID,
		TokenHash:  s.hashToken(refreshValue),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.config.RefreshToken.Expiry),
		LastUsed:   now,
		DeviceInfo: deviceInfoJSON(sessionInfo),
	}

	if err := s.db.Create(&record).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store refresh token", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("token pair issued",
			zap.Uint("user_id", account.ID),
			zap.Uint("refresh_token_id", record.ID),
			zap.Time("refresh_expires_at", record.ExpiresAt))
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshValue,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// ValidateAccessToken checks signature and expiry only; no store lookup.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() == "none" {
			return nil, errors.New("'none' algorithm is not allowed")
		}
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: expected HS256, got %s", t.Method.Alg())
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", t.Header["alg"])
		}
		return []byte(s.config.JWT.SecretKey), nil
	})

	if err != nil {
		if s.logger != nil {
			s.logger.Warn("access token validation failed", zap.Error(err))
		}

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredAccessToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedAccessToken
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidAccessToken
		}
	}

	if claims, ok := parsed.Claims.(*Claims); ok && parsed.Valid {
		return claims, nil
	}

	return nil, ErrInvalidAccessToken
}

// Refresh rotates a presented refresh token. The revocation of the old
// row and the insert of its successor happen in one transaction; the
// conditional update on the revoked flag means exactly one concurrent
// caller can win a rotation.
func (s *Service) Refresh(tokenString string) (*Pair, error) {
	record, err := s.lookup(tokenString)
	if err != nil {
		return nil, err
	}

	account, err := s.users.FindByID(record.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token owner: %w", err)
	}
	if !account.Active {
		if s.logger != nil {
			s.logger.Warn("refresh attempted for inactive account", zap.Uint("user_id", account.ID))
		}
		return nil, ErrTokenRevoked
	}

	accessToken, accessExpiresAt, err := s.generateAccessToken(account.ID, string(account.Role))
	if err != nil {
		return nil, err
	}

	refreshValue, err := s.generateSecureToken()
	if err != nil {
		return nil, ErrTokenGenerationFailed
	}

	now := time.Now()
	successor := RefreshToken{
		UserID:     record.UserID,
		TokenHash:  s.hashToken(refreshValue),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.config.RefreshToken.Expiry),
		LastUsed:   now,
		DeviceInfo: record.DeviceInfo,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RefreshToken{}).
			Where("id = ? AND revoked = ?", record.ID, false).
			Updates(map[string]any{"revoked": true, "revoked_at": now})
		if result.Error != nil {
			return fmt.Errorf("failed to revoke rotated token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost a race with a concurrent rotation of the same token.
			return ErrTokenRevoked
		}

		if err := tx.Create(&successor).Error; err != nil {
			return fmt.Errorf("failed to store rotated token: %w", err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) && s.logger != nil {
			s.logger.Warn("refresh token lost rotation race",
				zap.Uint("user_id", record.UserID),
				zap.Uint("token_id", record.ID))
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("refresh token rotated",
			zap.Uint("user_id", record.UserID),
			zap.Uint("old_token_id", record.ID),
			zap.Uint("new_token_id", successor.ID))
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshValue,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// Revoke marks the matching token revoked; no-op for unknown values so
// logout stays generic.
func (s *Service) Revoke(tokenString string) error {
	now := time.Now()
	result := s.db.Model(&RefreshToken{}).
		Where("token_hash = ? AND revoked = ?", s.hashToken(tokenString), false).
		Updates(map[string]any{"revoked": true, "revoked_at": now})

	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke refresh token", zap.Error(result.Error))
		}
		return fmt.Errorf("failed to revoke refresh token: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Info("refresh token revoked", zap.Int64("affected_rows", result.RowsAffected))
	}

	return nil
}

func (s *Service) RevokeAll(userID uint) error {
	now := time.Now()
	result := s.db.Model(&RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now})

	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke user refresh tokens",
				zap.Error(result.Error),
				zap.Uint("user_id", userID))
		}
		return fmt.Errorf("failed to revoke user refresh tokens: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Info("all user refresh tokens revoked",
			zap.Uint("user_id", userID),
			zap.Int64("count", result.RowsAffected))
	}

	return nil
}

func (s *Service) CleanupExpiredTokens() error {
	result := s.db.Where("expires_at < ?", time.Now()).Delete(&RefreshToken{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup expired refresh tokens", zap.Error(result.Error))
		}
		return fmt.Errorf("failed to cleanup expired tokens: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up expired refresh tokens", zap.Int64("count", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.RefreshToken.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpiredTokens(); err != nil && s.logger != nil {
				s.logger.Error("refresh token cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started refresh token cleanup worker",
			zap.Duration("interval", s.config.RefreshToken.CleanupInterval))
	}
}

func (s *Service) lookup(tokenString string) (*RefreshToken, error) {
	var record RefreshToken
	err := s.db.Where("token_hash = ?", s.hashToken(tokenString)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.logger != nil {
				s.logger.Warn("refresh token not found")
			}
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if record.Revoked {
		// Presenting a rotated token is the reuse signal from the theft
		// model; loud log, quiet rejection.
		if s.logger != nil {
			s.logger.Warn("revoked refresh token presented",
				zap.Uint("user_id", record.UserID),
				zap.Uint("token_id", record.ID))
		}
		return nil, ErrTokenRevoked
	}

	if time.Now().After(record.ExpiresAt) {
		if s.logger != nil {
			s.logger.Warn("expired refresh token presented",
				zap.Uint("user_id", record.UserID),
				zap.Time("expired_at", record.ExpiresAt))
		}
		return nil, ErrTokenExpired
	}

	return &record, nil
}

func (s *Service) generateAccessToken(userID uint, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.JWT.AccessExpiry)
	jti := uuid.New().String()
	claims := Claims{
		UserID: userID,
		Role:   role,
		JTI:    jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.JWT.Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{s.config.JWT.Issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWT.SecretKey))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to sign access token", zap.Error(err))
		}
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

func (s *Service) generateSecureToken() (string, error) {
	tokenBytes := make([]byte, s.config.RefreshToken.TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

func (s *Service) hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// deviceInfoJSON flattens the login metadata into the stored device_info
// column. An explicit map wins; otherwise the user agent is parsed into
// browser, OS and device type alongside the client address.
func deviceInfoJSON(info SessionInfo) string {
	deviceInfo := info.DeviceInfo
	if deviceInfo == nil {
		deviceInfo = make(map[string]any)
		if info.UserAgent != "" {
			device := session.ParseDeviceInfo(info.UserAgent)
			deviceInfo["browser"] = device.Browser
			deviceInfo["os"] = device.OS
			deviceInfo["device_type"] = device.DeviceType
		}
		if info.IPAddress != "" {
			deviceInfo["ip_address"] = info.IPAddress
		}
	}
	if len(deviceInfo) == 0 {
		return ""
	}
	jsonBytes, err := json.Marshal(deviceInfo)
	if err != nil {
		return ""
	}
	return string(jsonBytes)
}
