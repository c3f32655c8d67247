package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/middleware/ratelimit"
	"github.com/fleetdeck/authcore/services/lockout"
	"github.com/fleetdeck/authcore/services/password"
	"github.com/fleetdeck/authcore/services/token"
	"github.com/fleetdeck/authcore/services/totp"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/session"
	"github.com/fleetdeck/authcore/testutils"
	"github.com/pquerna/otp"
	gototp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	svc       *Service
	db        *gorm.DB
	users     *userstore.Service
	tokens    *token.Service
	totp      *totp.Service
	sessions  *session.Service
	passwords *password.Service
	account   *userstore.Account
}

func getTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "fleetdeck", Environment: "development"},
		Auth: config.AuthConfig{
			BcryptCost:        bcrypt.MinCost,
			MinLength:         8,
			RequireUpper:      true,
			RequireLower:      true,
			RequireNumber:     true,
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
		},
		JWT: config.JWTConfig{
			SecretKey:    "test-secret-key-for-auth-tests",
			Issuer:       "fleetdeck-test",
			AccessExpiry: 15 * time.Minute,
		},
		RefreshToken: config.RefreshTokenConfig{
			TokenLength: 32,
			Expiry:      720 * time.Hour,
		},
		TOTP: config.TOTPConfig{Issuer: "fleetdeck-test", Skew: 2},
		Session: config.SessionConfig{
			Store: "memory",
			TTL:   time.Hour,
		},
	}
}

func setupAuthService(t *testing.T, cfg *config.Config, limiters *ratelimit.Limiters) *testEnv {
	db := testutils.SetupTestDB(t,
		&userstore.Account{},
		&token.RefreshToken{},
		&totp.UsedCode{},
		&session.UserSession{},
	)

	users := userstore.NewService(db)
	passwords := password.NewService(cfg, nil)
	tokens := token.NewService(db, cfg, users, nil)
	totpSvc := totp.NewService(cfg, db, users, nil)
	sessions := session.NewService(db, session.NewMemoryStore(), cfg, nil)
	tracker := lockout.NewTracker(lockout.NewMemoryStore(), cfg, nil)

	if limiters == nil {
		limiters = &ratelimit.Limiters{
			Login:          ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "login", 100, 15*time.Minute),
			PasswordChange: ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "password_change", 100, time.Hour),
		}
	}

	account := &userstore.Account{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: passwords.MustHashPassword("P@ssw0rd!"),
		Role:         userstore.RoleUser,
		Active:       true,
	}
	require.NoError(t, db.Create(account).Error)

	return &testEnv{
		svc:       NewService(cfg, users, passwords, tokens, totpSvc, sessions, tracker, limiters, nil),
		db:        db,
		users:     users,
		tokens:    tokens,
		totp:      totpSvc,
		sessions:  sessions,
		passwords: passwords,
		account:   account,
	}
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	code, err := gototp.GenerateCodeCustom(secret, at, gototp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestAuthenticate_Success(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	ctx := context.Background()

	result, err := env.svc.Authenticate(ctx, Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
		IPAddress:  "192.0.2.1",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultTokens, result.Kind)
	require.NotNil(t, result.Tokens)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)
	assert.Empty(t, result.SessionID)

	claims, err := env.tokens.ValidateAccessToken(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, env.account.ID, claims.UserID)

	updated, err := env.users.FindByID(env.account.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastLogin)
	assert.WithinDuration(t, time.Now(), *updated.LastLogin, time.Minute)
}

func TestAuthenticate_RecordsDeviceMetadata(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
		IPAddress:  "192.0.2.1",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	})
	require.NoError(t, err)

	var record token.RefreshToken
	require.NoError(t, env.db.First(&record).Error)
	assert.NotEmpty(t, record.DeviceInfo)
	assert.Contains(t, record.DeviceInfo, "Chrome")
	assert.Contains(t, record.DeviceInfo, "192.0.2.1")
}

func TestAuthenticate_EmailAsLoginKey(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	result, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:   "alice@example.com",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
	})
	require.NoError(t, err)
	assert.Equal(t, env.account.ID, result.Account.ID)
}

func TestAuthenticate_BrowserClientGetsSession(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	result, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeBrowser,
		IPAddress:  "192.0.2.1",
		UserAgent:  "Mozilla/5.0",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSession, result.Kind)
	assert.Nil(t, result.Tokens)
	require.NotEmpty(t, result.SessionID)

	payload, err := env.sessions.Get(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, float64(env.account.ID), payload["account_id"])
	assert.Equal(t, "user", payload["role"])
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey: "alice",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_UnknownAccount(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey: "nobody",
		Password: "P@ssw0rd!",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_InactiveAccount(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	require.NoError(t, env.users.SetActive(env.account.ID, false))

	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey: "alice",
		Password: "P@ssw0rd!",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_LockoutScenario(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// the fifth failure reaches the threshold and reports the lock
	_, err := env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	// the correct password does not help while the lock is in force
	_, err = env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "P@ssw0rd!"})
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestAuthenticate_SuccessResetsFailureCounter(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "P@ssw0rd!"})
	require.NoError(t, err)

	// the counter restarted, so four more failures stay below the
	// threshold of five
	for i := 0; i < 4; i++ {
		_, err := env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestAuthenticate_RateLimited(t *testing.T) {
	limiters := &ratelimit.Limiters{
		Login: ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "login", 2, 15*time.Minute),
	}
	env := setupAuthService(t, getTestConfig(), limiters)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.svc.Authenticate(ctx, Request{
			LoginKey:  "alice",
			Password:  "P@ssw0rd!",
			IPAddress: "192.0.2.1",
		})
		require.NoError(t, err)
	}

	_, err := env.svc.Authenticate(ctx, Request{
		LoginKey:  "alice",
		Password:  "P@ssw0rd!",
		IPAddress: "192.0.2.1",
	})
	assert.ErrorIs(t, err, ErrRateLimited)

	// a different client address is not affected
	_, err = env.svc.Authenticate(ctx, Request{
		LoginKey:  "alice",
		Password:  "P@ssw0rd!",
		IPAddress: "192.0.2.2",
	})
	assert.NoError(t, err)
}

func enableTwoFactor(t *testing.T, env *testEnv) string {
	enrollment, err := env.svc.EnrollTwoFactor(env.account.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.NotEmpty(t, enrollment.URI)

	require.NoError(t, env.svc.ConfirmTwoFactor(env.account.ID, codeAt(t, enrollment.Secret, time.Now())))
	return enrollment.Secret
}

func TestAuthenticate_TwoFactorRequired(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	enableTwoFactor(t, env)
	ctx := context.Background()

	// an incomplete login counts toward lockout like any other failure
	for i := 0; i < 4; i++ {
		_, err := env.svc.Authenticate(ctx, Request{
			LoginKey: "alice",
			Password: "P@ssw0rd!",
		})
		require.ErrorIs(t, err, ErrTwoFactorRequired)
	}

	_, err := env.svc.Authenticate(ctx, Request{
		LoginKey: "alice",
		Password: "P@ssw0rd!",
	})
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestAuthenticate_InvalidTwoFactorCode(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	enableTwoFactor(t, env)

	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:      "alice",
		Password:      "P@ssw0rd!",
		TwoFactorCode: "000000",
	})
	assert.ErrorIs(t, err, ErrInvalidTwoFactorCode)
}

func TestAuthenticate_TwoFactorSuccess(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	secret := enableTwoFactor(t, env)

	// a different time step avoids colliding with the confirmation code
	// in the replay guard
	result, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:      "alice",
		Password:      "P@ssw0rd!",
		TwoFactorCode: codeAt(t, secret, time.Now().Add(60*time.Second)),
		ClientType:    ClientTypeAPI,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultTokens, result.Kind)
}

func TestAuthenticate_TwoFactorFailuresCountTowardLockout(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	enableTwoFactor(t, env)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.svc.Authenticate(ctx, Request{
			LoginKey:      "alice",
			Password:      "P@ssw0rd!",
			TwoFactorCode: "000000",
		})
		require.ErrorIs(t, err, ErrInvalidTwoFactorCode)
	}

	_, err := env.svc.Authenticate(ctx, Request{
		LoginKey:      "alice",
		Password:      "P@ssw0rd!",
		TwoFactorCode: "000000",
	})
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestRefreshTokens(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	result, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
	})
	require.NoError(t, err)

	pair, err := env.svc.RefreshTokens(result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.Tokens.RefreshToken, pair.RefreshToken)

	// rotation invalidates the previous token
	_, err = env.svc.RefreshTokens(result.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// the successor works exactly once before its own rotation
	_, err = env.svc.RefreshTokens(pair.RefreshToken)
	require.NoError(t, err)
	_, err = env.svc.RefreshTokens(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokens_UnknownToken(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	_, err := env.svc.RefreshTokens("not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	ctx := context.Background()

	apiResult, err := env.svc.Authenticate(ctx, Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
	})
	require.NoError(t, err)

	browserResult, err := env.svc.Authenticate(ctx, Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeBrowser,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(env.account.ID, browserResult.SessionID))

	_, err = env.svc.RefreshTokens(apiResult.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.sessions.Get(browserResult.SessionID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestChangePassword(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	ctx := context.Background()

	result, err := env.svc.Authenticate(ctx, Request{
		LoginKey:   "alice",
		Password:   "P@ssw0rd!",
		ClientType: ClientTypeAPI,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.ChangePassword(ctx, env.account.ID, "P@ssw0rd!", "N3wS3cret!", "192.0.2.1"))

	// old refresh tokens die with the old password
	_, err = env.svc.RefreshTokens(result.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "P@ssw0rd!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Authenticate(ctx, Request{LoginKey: "alice", Password: "N3wS3cret!"})
	assert.NoError(t, err)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	err := env.svc.ChangePassword(context.Background(), env.account.ID, "wrong", "N3wS3cret!", "192.0.2.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_WeakReplacement(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	err := env.svc.ChangePassword(context.Background(), env.account.ID, "P@ssw0rd!", "short", "192.0.2.1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_RateLimited(t *testing.T) {
	limiters := &ratelimit.Limiters{
		PasswordChange: ratelimit.NewLimiter(ratelimit.NewMemoryStore(), "password_change", 1, time.Hour),
	}
	env := setupAuthService(t, getTestConfig(), limiters)
	ctx := context.Background()

	require.NoError(t, env.svc.ChangePassword(ctx, env.account.ID, "P@ssw0rd!", "N3wS3cret!", "192.0.2.1"))

	err := env.svc.ChangePassword(ctx, env.account.ID, "N3wS3cret!", "An0ther0ne!", "192.0.2.1")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestConfirmTwoFactor_InvalidCode(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)

	_, err := env.svc.EnrollTwoFactor(env.account.ID)
	require.NoError(t, err)

	err = env.svc.ConfirmTwoFactor(env.account.ID, "000000")
	assert.ErrorIs(t, err, ErrInvalidTwoFactorCode)
}

func TestDisableTwoFactor(t *testing.T) {
	env := setupAuthService(t, getTestConfig(), nil)
	enableTwoFactor(t, env)

	require.NoError(t, env.svc.DisableTwoFactor(env.account.ID))

	// password alone is enough again
	_, err := env.svc.Authenticate(context.Background(), Request{
		LoginKey: "alice",
		Password: "P@ssw0rd!",
	})
	assert.NoError(t, err)
}

// failingUserStore simulates a user store whose backend is down.
type failingUserStore struct {
	err     error
	lookups int
}

func (f *failingUserStore) FindByID(uint) (*userstore.Account, error) { return nil, f.err }
func (f *failingUserStore) FindByLoginKey(string) (*userstore.Account, error) {
	f.lookups++
	return nil, f.err
}
func (f *failingUserStore) UpdateLastLogin(uint) error               { return f.err }
func (f *failingUserStore) UpdateTwoFactorSecret(uint, string) error { return f.err }
func (f *failingUserStore) SetTwoFactorEnabled(uint, bool) error     { return f.err }
func (f *failingUserStore) UpdatePasswordHash(uint, string) error    { return f.err }

func TestAuthenticate_StorageFailure(t *testing.T) {
	cfg := getTestConfig()
	env := setupAuthService(t, cfg, nil)
	store := &failingUserStore{err: errors.New("connection refused")}
	tracker := lockout.NewTracker(lockout.NewMemoryStore(), cfg, nil)
	svc := NewService(cfg, store, env.passwords, env.tokens, env.totp, env.sessions, tracker, nil, nil)

	_, err := svc.Authenticate(context.Background(), Request{
		LoginKey: "alice",
		Password: "P@ssw0rd!",
	})

	// a broken store must never look like bad credentials
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	// the idempotent read is retried exactly once
	assert.Equal(t, 2, store.lookups)
}
