package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

const sessionIDLength = 32

// Service keeps browser-client sessions. Payloads live in an scs store
// keyed by the hashed identifier; a gorm index row per session carries
// the owning account and expiry so records can be listed, destroyed per
// account, and expired reads distinguished from unknown identifiers.
type Service struct {
	db     *gorm.DB
	store  scs.Store
	config *config.Config
	logger *logging.Service
}

func NewService(db *gorm.DB, store scs.Store, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Create stores the payload under a fresh high-entropy identifier and
// returns it. The identifier is never persisted, only its hash.
func (s *Service) Create(accountID uint, payload map[string]any, ttl time.Duration, meta Metadata) (string, error) {
	if ttl <= 0 {
		ttl = s.config.Session.TTL
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session identifier: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode session payload: %w", err)
	}

	tokenHash := hashSessionID(sessionID)
	now := time.Now()
	expiresAt := now.Add(ttl)

	if err := s.store.Commit(tokenHash, data, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store session payload: %w", err)
	}

	record := UserSession{
		UserID:    accountID,
		TokenHash: tokenHash,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		LastUsed:  now,
		ExpiresAt: expiresAt,
	}

	if err := s.db.Create(&record).Error; err != nil {
		_ = s.store.Delete(tokenHash)
		return "", fmt.Errorf("failed to index session: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("created session",
			zap.Uint("user_id", accountID),
			zap.Time("expires_at", expiresAt))
	}

	return sessionID, nil
}

// Get returns the payload for a live session. Expiry is checked on
// every read, so a session past its expiry is rejected even before the
// cleanup worker removes it.
func (s *Service) Get(sessionID string) (map[string]any, error) {
	record, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	data, found, err := s.store.Find(record.TokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read session payload: %w", err)
	}
	if !found {
		_ = s.db.Delete(record).Error
		return nil, ErrSessionNotFound
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}

	_ = s.db.Model(record).Update("last_used", time.Now()).Error

	return payload, nil
}

// Update replaces the payload of a live session, keeping its expiry.
func (s *Service) Update(sessionID string, payload map[string]any) error {
	record, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode session payload: %w", err)
	}

	if err := s.store.Commit(record.TokenHash, data, record.ExpiresAt); err != nil {
		return fmt.Errorf("failed to store session payload: %w", err)
	}

	return s.db.Model(record).Update("last_used", time.Now()).Error
}

// Extend pushes a live session's expiry out by ttl from now.
func (s *Service) Extend(sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.Session.TTL
	}

	record, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	data, found, err := s.store.Find(record.TokenHash)
	if err != nil {
		return fmt.Errorf("failed to read session payload: %w", err)
	}
	if !found {
		_ = s.db.Delete(record).Error
		return ErrSessionNotFound
	}

	expiresAt := time.Now().Add(ttl)
	if err := s.store.Commit(record.TokenHash, data, expiresAt); err != nil {
		return fmt.Errorf("failed to store session payload: %w", err)
	}

	return s.db.Model(record).Updates(map[string]any{
		"expires_at": expiresAt,
		"last_used":  time.Now(),
	}).Error
}

// Destroy removes a session and its payload. Destroying an unknown
// identifier is not an error.
func (s *Service) Destroy(sessionID string) error {
	tokenHash := hashSessionID(sessionID)

	if err := s.store.Delete(tokenHash); err != nil {
		return fmt.Errorf("failed to delete session payload: %w", err)
	}

	return s.db.Where("token_hash = ?", tokenHash).Delete(&UserSession{}).Error
}

// DestroyAllForAccount removes every session belonging to the account.
func (s *Service) DestroyAllForAccount(accountID uint) error {
	var records []UserSession
	if err := s.db.Where("user_id = ?", accountID).Find(&records).Error; err != nil {
		return err
	}

	for _, record := range records {
		if err := s.store.Delete(record.TokenHash); err != nil {
			return fmt.Errorf("failed to delete session payload: %w", err)
		}
	}

	if err := s.db.Where("user_id = ?", accountID).Delete(&UserSession{}).Error; err != nil {
		return err
	}

	if s.logger != nil && len(records) > 0 {
		s.logger.Info("destroyed all sessions for account",
			zap.Uint("user_id", accountID),
			zap.Int("count", len(records)))
	}

	return nil
}

// ListForAccount returns live sessions for the account, newest activity
// first, with the caller's own session flagged.
func (s *Service) ListForAccount(accountID uint, currentSessionID string) ([]SessionSummary, error) {
	var records []UserSession
	err := s.db.Where("user_id = ? AND expires_at > ?", accountID, time.Now()).
		Order("last_used DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	currentHash := ""
	if currentSessionID != "" {
		currentHash = hashSessionID(currentSessionID)
	}

	summaries := make([]SessionSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, SessionSummary{
			ID:        record.ID,
			IPAddress: record.IPAddress,
			Device:    ParseDeviceInfo(record.UserAgent),
			CreatedAt: record.CreatedAt,
			LastUsed:  record.LastUsed,
			ExpiresAt: record.ExpiresAt,
			Current:   record.TokenHash == currentHash,
		})
	}

	return summaries, nil
}

func (s *Service) CleanupExpiredSessions() error {
	var expired []UserSession
	if err := s.db.Where("expires_at < ?", time.Now()).Find(&expired).Error; err != nil {
		return err
	}

	for _, record := range expired {
		if err := s.store.Delete(record.TokenHash); err != nil {
			return fmt.Errorf("failed to delete session payload: %w", err)
		}
	}

	result := s.db.Where("expires_at < ?", time.Now()).Delete(&UserSession{})
	if result.Error != nil {
		return result.Error
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Debug("cleaned up expired sessions", zap.Int64("count", result.RowsAffected))
	}

	return nil
}

func (s *Service) StartCleanupWorker() {
	go func() {
		ticker := time.NewTicker(s.config.Session.CleanupInterval)
		defer ticker.Stop()

		for range ticker.C {
			if err := s.CleanupExpiredSessions(); err != nil && s.logger != nil {
				s.logger.Error("session cleanup worker failed", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started session cleanup worker",
			zap.Duration("interval", s.config.Session.CleanupInterval))
	}
}

// lookup resolves an identifier to its live index row. Expired rows are
// removed on sight and reported as expired rather than missing.
func (s *Service) lookup(sessionID string) (*UserSession, error) {
	tokenHash := hashSessionID(sessionID)

	var record UserSession
	err := s.db.Where("token_hash = ?", tokenHash).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if time.Now().After(record.ExpiresAt) {
		_ = s.store.Delete(tokenHash)
		_ = s.db.Delete(&record).Error
		return nil, ErrSessionExpired
	}

	return &record, nil
}

func generateSessionID() (string, error) {
	idBytes := make([]byte, sessionIDLength)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(idBytes), nil
}

func hashSessionID(sessionID string) string {
	hash := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(hash[:])
}
