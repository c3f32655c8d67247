package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/middleware/ratelimit"
	"github.com/fleetdeck/authcore/services/lockout"
	"github.com/fleetdeck/authcore/services/logging"
	"github.com/fleetdeck/authcore/services/password"
	"github.com/fleetdeck/authcore/services/token"
	"github.com/fleetdeck/authcore/services/totp"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/session"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account temporarily locked")
	ErrTwoFactorRequired    = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrRateLimited          = errors.New("too many requests")
	ErrInvalidToken         = errors.New("invalid token")
	ErrServiceUnavailable   = errors.New("service temporarily unavailable")
)

type ClientType string

const (
	// ClientTypeAPI callers get a bearer token pair.
	ClientTypeAPI ClientType = "api"
	// ClientTypeBrowser callers get a server-side session instead.
	ClientTypeBrowser ClientType = "browser"
)

// Request carries one authentication attempt. ClientType selects the
// credential form issued on success; IPAddress doubles as the rate-limit
// key.
type Request struct {
	LoginKey      string
	Password      string
	TwoFactorCode string
	ClientType    ClientType
	IPAddress     string
	UserAgent     string
}

type ResultKind string

const (
	ResultTokens  ResultKind = "tokens"
	ResultSession ResultKind = "session"
)

// Result is a tagged variant: exactly one of Tokens or SessionID is set,
// indicated by Kind.
type Result struct {
	Kind      ResultKind
	Account   *userstore.Account
	Tokens    *token.Pair
	SessionID string
}

// Service orchestrates the login flow across the credential, lockout,
// rate-limit, second-factor, token and session services. It owns the
// ordering of the gates and the mapping of internal failures onto the
// generic error taxonomy callers see.
type Service struct {
	config    *config.Config
	users     userstore.Store
	passwords *password.Service
	tokens    *token.Service
	totp      *totp.Service
	sessions  *session.Service
	lockout   *lockout.Tracker
	limiters  *ratelimit.Limiters
	logger    *logging.Service
}

func NewService(
	cfg *config.Config,
	users userstore.Store,
	passwords *password.Service,
	tokens *token.Service,
	totpSvc *totp.Service,
	sessions *session.Service,
	lockoutTracker *lockout.Tracker,
	limiters *ratelimit.Limiters,
	logger *logging.Service,
) *Service {
	return &Service{
		config:    cfg,
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		totp:      totpSvc,
		sessions:  sessions,
		lockout:   lockoutTracker,
		limiters:  limiters,
		logger:    logger,
	}
}

// Authenticate runs the full login flow: rate gate, lockout gate,
// password check, second factor if enrolled, then credential issuance.
// Failures before issuance are reported with generic errors; the
// specific cause is logged server-side with the account key.
func (s *Service) Authenticate(ctx context.Context, req Request) (*Result, error) {
	if s.limiters != nil && s.limiters.Login != nil {
		if _, err := s.limiters.Login.Allow(ctx, req.IPAddress); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return nil, ErrRateLimited
			}
			return nil, s.unavailable("rate limiter store failed", err)
		}
	}

	lockKey := lockoutKey(req.LoginKey)
	if err := s.lockout.Check(ctx, lockKey); err != nil {
		if errors.Is(err, lockout.ErrAccountLocked) {
			return nil, ErrAccountLocked
		}
		return nil, s.unavailable("lockout store failed", err)
	}

	account, err := s.findAccount(req.LoginKey)
	if err != nil {
		if errors.Is(err, userstore.ErrAccountNotFound) {
			// Burn a hash comparison so unknown and known login keys
			// take the same time.
			s.passwords.BurnVerification(req.Password)
			return nil, s.recordFailure(ctx, lockKey, "unknown login key", ErrInvalidCredentials)
		}
		return nil, s.unavailable("account lookup failed", err)
	}

	if !account.Active {
		s.passwords.BurnVerification(req.Password)
		return nil, s.recordFailure(ctx, lockKey, "inactive account", ErrInvalidCredentials)
	}

	if err := s.passwords.VerifyPassword(account.PasswordHash, req.Password); err != nil {
		return nil, s.recordFailure(ctx, lockKey, "password mismatch", ErrInvalidCredentials)
	}

	if account.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			return nil, s.recordFailure(ctx, lockKey, "two-factor code missing", ErrTwoFactorRequired)
		}
		if err := s.totp.VerifyUserCode(account, req.TwoFactorCode); err != nil {
			if errors.Is(err, totp.ErrInvalidCode) || errors.Is(err, totp.ErrCodeAlreadyUsed) {
				return nil, s.recordFailure(ctx, lockKey, "two-factor code rejected", ErrInvalidTwoFactorCode)
			}
			return nil, s.unavailable("two-factor verification failed", err)
		}
	}

	if err := s.lockout.Reset(ctx, lockKey); err != nil {
		return nil, s.unavailable("lockout store failed", err)
	}

	if err := s.users.UpdateLastLogin(account.ID); err != nil {
		return nil, s.unavailable("failed to update last login", err)
	}

	result, err := s.issue(account, req)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("authentication succeeded",
			zap.Uint("user_id", account.ID),
			zap.String("client_type", string(req.ClientType)),
			zap.String("ip", req.IPAddress))
	}

	return result, nil
}

// RefreshTokens validates and rotates a refresh token. All token-level
// failures collapse into the generic invalid-token error; the precise
// cause is logged by the token service.
func (s *Service) RefreshTokens(refreshToken string) (*token.Pair, error) {
	pair, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenNotFound),
			errors.Is(err, token.ErrTokenExpired),
			errors.Is(err, token.ErrTokenRevoked):
			return nil, ErrInvalidToken
		default:
			return nil, s.unavailable("token rotation failed", err)
		}
	}
	return pair, nil
}

// Logout revokes every refresh token for the account and, when a
// session identifier is supplied, destroys that session too.
func (s *Service) Logout(accountID uint, sessionID string) error {
	if err := s.tokens.RevokeAll(accountID); err != nil {
		return s.unavailable("failed to revoke refresh tokens", err)
	}

	if sessionID != "" && s.sessions != nil {
		if err := s.sessions.Destroy(sessionID); err != nil {
			return s.unavailable("failed to destroy session", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("account logged out", zap.Uint("user_id", accountID))
	}

	return nil
}

func (s *Service) EnrollTwoFactor(accountID uint) (*totp.Enrollment, error) {
	return s.totp.Enroll(accountID)
}

func (s *Service) ConfirmTwoFactor(accountID uint, code string) error {
	err := s.totp.Confirm(accountID, code)
	if errors.Is(err, totp.ErrInvalidCode) || errors.Is(err, totp.ErrCodeAlreadyUsed) {
		return ErrInvalidTwoFactorCode
	}
	return err
}

func (s *Service) DisableTwoFactor(accountID uint) error {
	return s.totp.Disable(accountID)
}

// ChangePassword verifies the current password, applies the strength
// policy to the replacement, stores the new hash, and revokes every
// outstanding refresh token so stolen tokens die with the old password.
func (s *Service) ChangePassword(ctx context.Context, accountID uint, currentPassword, newPassword, clientAddr string) error {
	if s.limiters != nil && s.limiters.PasswordChange != nil {
		if _, err := s.limiters.PasswordChange.Allow(ctx, clientAddr); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return ErrRateLimited
			}
			return s.unavailable("rate limiter store failed", err)
		}
	}

	account, err := s.users.FindByID(accountID)
	if err != nil {
		if errors.Is(err, userstore.ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return s.unavailable("account lookup failed", err)
	}

	if err := s.passwords.VerifyPassword(account.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePasswordHash(account.ID, hash); err != nil {
		return s.unavailable("failed to store new password hash", err)
	}

	if err := s.tokens.RevokeAll(account.ID); err != nil {
		return s.unavailable("failed to revoke refresh tokens", err)
	}

	if s.logger != nil {
		s.logger.Info("password changed", zap.Uint("user_id", account.ID))
	}

	return nil
}

// findAccount reads the account, retrying the lookup once on a storage
// error. The read is idempotent, so one retry is safe; writes are never
// blindly retried.
func (s *Service) findAccount(loginKey string) (*userstore.Account, error) {
	account, err := s.users.FindByLoginKey(loginKey)
	if err == nil || errors.Is(err, userstore.ErrAccountNotFound) {
		return account, err
	}

	if s.logger != nil {
		s.logger.Warn("retrying account lookup after storage error", zap.Error(err))
	}

	return s.users.FindByLoginKey(loginKey)
}

func (s *Service) issue(account *userstore.Account, req Request) (*Result, error) {
	switch req.ClientType {
	case ClientTypeBrowser:
		if s.sessions == nil {
			return nil, s.unavailable("session store not configured", nil)
		}
		sessionID, err := s.sessions.Create(account.ID, map[string]any{
			"account_id": account.ID,
			"role":       string(account.Role),
		}, s.config.Session.TTL, session.Metadata{
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			return nil, s.unavailable("session creation failed", err)
		}
		return &Result{Kind: ResultSession, Account: account, SessionID: sessionID}, nil
	default:
		pair, err := s.tokens.Issue(account, token.SessionInfo{
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			return nil, s.unavailable("token issuance failed", err)
		}
		return &Result{Kind: ResultTokens, Account: account, Tokens: pair}, nil
	}
}

// recordFailure counts a failed attempt toward the lockout threshold
// and returns resultErr. When this attempt reaches the threshold the
// caller sees AccountLocked instead.
func (s *Service) recordFailure(ctx context.Context, lockKey, reason string, resultErr error) error {
	if s.logger != nil {
		s.logger.Warn("authentication failed",
			zap.String("account", lockKey),
			zap.String("reason", reason))
	}

	if err := s.lockout.RecordFailure(ctx, lockKey); err != nil {
		if errors.Is(err, lockout.ErrAccountLocked) {
			return ErrAccountLocked
		}
		return s.unavailable("lockout store failed", err)
	}

	return resultErr
}

func (s *Service) unavailable(msg string, err error) error {
	if s.logger != nil {
		s.logger.Error(msg, zap.Error(err))
	}
	return fmt.Errorf("%w: %s", ErrServiceUnavailable, msg)
}

func lockoutKey(loginKey string) string {
	return strings.ToLower(strings.TrimSpace(loginKey))
}
