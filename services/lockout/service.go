package lockout

import (
	"context"
	"errors"
	"time"

	"github.com/fleetdeck/authcore/config"
	"github.com/fleetdeck/authcore/services/logging"
	"go.uber.org/zap"
)

var ErrAccountLocked = errors.New("account temporarily locked")

// Tracker walks each account through Unlocked -> Unlocked(count+1) ->
// Locked(until). While locked, attempts fail without touching the
// counter; the lock expires on its own and a full success clears
// everything.
type Tracker struct {
	store  Store
	config *config.Config
	logger *logging.Service
}

func NewTracker(store Store, cfg *config.Config, logger *logging.Service) *Tracker {
	if logger != nil {
		logger.Info("initializing lockout tracker",
			zap.Int("max_failed_attempts", cfg.Auth.MaxFailedAttempts),
			zap.Duration("lockout_duration", cfg.Auth.LockoutDuration))
	}

	return &Tracker{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Check rejects with ErrAccountLocked while a lock is in force.
func (t *Tracker) Check(ctx context.Context, accountKey string) error {
	until, locked, err := t.store.LockedUntil(ctx, accountKey)
	if err != nil {
		return err
	}

	if locked {
		if t.logger != nil {
			t.logger.Warn("authentication attempt on locked account",
				zap.String("account", accountKey),
				zap.Time("locked_until", until))
		}
		return ErrAccountLocked
	}

	return nil
}

// RecordFailure counts one failed attempt and locks the account once the
// threshold is reached. Returns ErrAccountLocked when this attempt
// triggered (or met) the lock.
func (t *Tracker) RecordFailure(ctx context.Context, accountKey string) error {
	count, err := t.store.Fail(ctx, accountKey, t.config.Auth.LockoutDuration)
	if err != nil {
		return err
	}

	if count < t.config.Auth.MaxFailedAttempts {
		if t.logger != nil {
			t.logger.Warn("failed authentication attempt recorded",
				zap.String("account", accountKey),
				zap.Int("failed_count", count),
				zap.Int("threshold", t.config.Auth.MaxFailedAttempts))
		}
		return nil
	}

	until := time.Now().Add(t.config.Auth.LockoutDuration)
	if err := t.store.Lock(ctx, accountKey, until); err != nil {
		return err
	}

	if t.logger != nil {
		t.logger.Warn("account locked after repeated failures",
			zap.String("account", accountKey),
			zap.Int("failed_count", count),
			zap.Time("locked_until", until))
	}

	return ErrAccountLocked
}

// Reset clears the failure counter after a full successful
// authentication.
func (t *Tracker) Reset(ctx context.Context, accountKey string) error {
	return t.store.Clear(ctx, accountKey)
}
