package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

// Limiter enforces a per-key cap for one route. It is transport
// agnostic: the auth orchestrator calls Allow directly and the echo
// middleware wraps it for HTTP handlers.
type Limiter struct {
	store  Store
	route  string
	max    int
	period time.Duration
}

type Decision struct {
	Limit     int
	Remaining int
	ResetTime time.Time
}

func NewLimiter(store Store, route string, max int, period time.Duration) *Limiter {
	if max <= 0 {
		max = 10
	}
	if period <= 0 {
		period = time.Minute
	}

	return &Limiter{
		store:  store,
		route:  route,
		max:    max,
		period: period,
	}
}

// Allow counts the request and returns ErrRateLimited once the cap is
// exceeded. Rejection happens before any account-specific work, so a
// limited caller learns nothing about the account it tried.
func (l *Limiter) Allow(ctx context.Context, clientAddr string) (*Decision, error) {
	count, resetTime, err := l.store.Increment(ctx, l.key(clientAddr), l.period)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Limit:     l.max,
		Remaining: max(l.max-count, 0),
		ResetTime: resetTime,
	}

	if count > l.max {
		return decision, ErrRateLimited
	}

	return decision, nil
}

func (l *Limiter) Reset(ctx context.Context, clientAddr string) error {
	return l.store.Reset(ctx, l.key(clientAddr))
}

func (l *Limiter) key(clientAddr string) string {
	return "rate_limit:" + l.route + ":" + clientAddr
}
