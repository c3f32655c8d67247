package password

import (
	"testing"

	"github.com/fleetdeck/authcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func getTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "development"},
		Auth: config.AuthConfig{
			BcryptCost:    bcrypt.MinCost,
			MinLength:     8,
			RequireUpper:  true,
			RequireLower:  true,
			RequireNumber: true,
		},
	}
}

func TestNewService_CostBounds(t *testing.T) {
	cfg := getTestConfig()
	cfg.Auth.BcryptCost = 99

	svc := NewService(cfg, nil)
	assert.Equal(t, bcrypt.DefaultCost, svc.Cost())
}

func TestNewService_ProductionFloor(t *testing.T) {
	cfg := getTestConfig()
	cfg.App.Environment = "production"
	cfg.Auth.BcryptCost = bcrypt.MinCost

	svc := NewService(cfg, nil)
	assert.Equal(t, ProductionMinCost, svc.Cost())
}

func TestHashAndVerifyPassword(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	hash, err := svc.HashPassword("P@ssw0rd!")
	require.NoError(t, err)
	assert.NotEqual(t, "P@ssw0rd!", hash)

	assert.NoError(t, svc.VerifyPassword(hash, "P@ssw0rd!"))
	assert.ErrorIs(t, svc.VerifyPassword(hash, "P@ssw0rd?"), ErrPasswordMismatch)
	assert.ErrorIs(t, svc.VerifyPassword(hash, ""), ErrPasswordMismatch)
}

func TestVerifyPassword_SingleCharacterMutation(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	original := "Sup3rSecret"
	hash, err := svc.HashPassword(original)
	require.NoError(t, err)

	mutated := []byte(original)
	for i := range mutated {
		flipped := append([]byte(nil), mutated...)
		flipped[i] ^= 0x01
		assert.Error(t, svc.VerifyPassword(hash, string(flipped)))
	}
}

func TestValidatePassword(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Abcdef12", false},
		{"too short", "Ab1", true},
		{"missing upper", "abcdef12", true},
		{"missing lower", "ABCDEF12", true},
		{"missing number", "Abcdefgh", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashPassword_RejectsWeakPassword(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	hash, err := svc.HashPassword("short")
	assert.Error(t, err)
	assert.Empty(t, hash)
}

func TestMustHashPassword_PanicsOnInvalid(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	assert.Panics(t, func() {
		svc.MustHashPassword("x")
	})
}

func TestBurnVerification(t *testing.T) {
	svc := NewService(getTestConfig(), nil)

	assert.NotPanics(t, func() {
		svc.BurnVerification("anything")
	})
}
