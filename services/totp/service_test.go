package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/userstore"
	"github.com/fleetdeck/authcore/testutils"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestTOTPConfig() *config.Config {
	return &config.Config{
		App:  config.AppConfig{Name: "fleetdeck"},
		TOTP: config.TOTPConfig{Issuer: "fleetdeck-test", Skew: 2},
	}
}

func setupTOTPService(t *testing.T) (*Service, *userstore.Service, *userstore.Account) {
	db := testutils.SetupTestDB(t, &userstore.Account{}, &UsedCode{})
	users := userstore.NewService(db)

	account := &userstore.Account{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$irrelevant",
		Active:       true,
	}
	require.NoError(t, db.Create(account).Error)

	return NewService(getTestTOTPConfig(), db, users, nil), users, account
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    codePeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestEnroll(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	enrollment, err := svc.Enroll(account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.URI, "otpauth://totp/"))
	assert.Contains(t, enrollment.URI, "fleetdeck-test")

	stored, err := users.FindByID(account.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, stored.TwoFactorSecret)
	assert.False(t, stored.TwoFactorEnabled, "secret must stay inactive until confirmed")
}

func TestEnroll_AlreadyEnabled(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	require.NoError(t, users.UpdateTwoFactorSecret(account.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, users.SetTwoFactorEnabled(account.ID, true))

	_, err := svc.Enroll(account.ID)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestConfirm(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	enrollment, err := svc.Enroll(account.ID)
	require.NoError(t, err)

	t.Run("invalid code leaves enrollment pending", func(t *testing.T) {
		err := svc.Confirm(account.ID, "000000")
		assert.ErrorIs(t, err, ErrInvalidCode)

		stored, err := users.FindByID(account.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
	})

	t.Run("valid code activates the second factor", func(t *testing.T) {
		err := svc.Confirm(account.ID, codeAt(t, enrollment.Secret, time.Now()))
		require.NoError(t, err)

		stored, err := users.FindByID(account.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
	})

	t.Run("second confirmation rejected", func(t *testing.T) {
		err := svc.Confirm(account.ID, codeAt(t, enrollment.Secret, time.Now()))
		assert.ErrorIs(t, err, ErrAlreadyEnabled)
	})
}

func TestConfirm_NotEnrolled(t *testing.T) {
	svc, _, account := setupTOTPService(t)

	err := svc.Confirm(account.ID, "123456")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestConfirm_CodeNotReplayableAtLogin(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	enrollment, err := svc.Enroll(account.ID)
	require.NoError(t, err)

	code := codeAt(t, enrollment.Secret, time.Now())
	require.NoError(t, svc.Confirm(account.ID, code))

	stored, err := users.FindByID(account.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.VerifyUserCode(stored, code), ErrCodeAlreadyUsed)
}

func TestVerifyCode_SkewWindow(t *testing.T) {
	svc, _, _ := setupTOTPService(t)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "t", AccountName: "a"})
	require.NoError(t, err)
	secret := key.Secret()
	step := codePeriod * time.Second

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"one step behind", -step, true},
		{"one step ahead", step, true},
		{"two steps behind", -2 * step, true},
		{"two steps ahead", 2 * step, true},
		{"five steps behind", -5 * step, false},
		{"five steps ahead", 5 * step, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := codeAt(t, secret, time.Now().Add(tt.offset))
			assert.Equal(t, tt.want, svc.VerifyCode(secret, code))
		})
	}
}

func TestVerifyUserCode_ReplayGuard(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	enrollment, err := svc.Enroll(account.ID)
	require.NoError(t, err)
	require.NoError(t, users.SetTwoFactorEnabled(account.ID, true))

	stored, err := users.FindByID(account.ID)
	require.NoError(t, err)

	code := codeAt(t, enrollment.Secret, time.Now())

	require.NoError(t, svc.VerifyUserCode(stored, code))
	assert.ErrorIs(t, svc.VerifyUserCode(stored, code), ErrCodeAlreadyUsed)
}

func TestVerifyUserCode_NotEnrolled(t *testing.T) {
	svc, _, account := setupTOTPService(t)

	err := svc.VerifyUserCode(account, "123456")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestDisable(t *testing.T) {
	svc, users, account := setupTOTPService(t)

	enrollment, err := svc.Enroll(account.ID)
	require.NoError(t, err)
	require.NoError(t, users.SetTwoFactorEnabled(account.ID, true))

	stored, err := users.FindByID(account.ID)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyUserCode(stored, codeAt(t, enrollment.Secret, time.Now())))

	require.NoError(t, svc.Disable(account.ID))

	stored, err = users.FindByID(account.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Empty(t, stored.TwoFactorSecret)

	var count int64
	require.NoError(t, svc.db.Model(&UsedCode{}).Where("user_id = ?", account.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCleanupUsedCodes(t *testing.T) {
	svc, _, account := setupTOTPService(t)

	old := &UsedCode{UserID: account.ID, Code: "123456", UsedAt: time.Now().Unix() - 1000}
	recent := &UsedCode{UserID: account.ID, Code: "654321", UsedAt: time.Now().Unix()}
	require.NoError(t, svc.db.Create(old).Error)
	require.NoError(t, svc.db.Create(recent).Error)

	require.NoError(t, svc.CleanupUsedCodes())

	var count int64
	require.NoError(t, svc.db.Model(&UsedCode{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
