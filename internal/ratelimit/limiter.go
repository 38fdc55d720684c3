// Package ratelimit bounds how often a named action may be attempted within
// a decay window. Counters live in a shared cache.Cache and reset on
// activity: every recorded hit restarts the window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"easycore.dev/internal/cache"
	"easycore.dev/internal/obs"
)

// Policy is the attempt budget for one action.
type Policy struct {
	MaxAttempts int
	Decay       time.Duration
}

var (
	// LoginPolicy gates credential checks per client IP.
	LoginPolicy = Policy{MaxAttempts: 5, Decay: time.Minute}
	// TokenCreationPolicy gates token issuance per subject.
	TokenCreationPolicy = Policy{MaxAttempts: 10, Decay: 60 * time.Minute}
)

// DefaultPolicy is used by New when no policy is given.
var DefaultPolicy = Policy{MaxAttempts: 60, Decay: time.Minute}

// LoginKey returns the counter key for login attempts from ip.
func LoginKey(ip string) string { return "login:" + ip }

// TokenCreationKey returns the counter key for token issuance to subject.
func TokenCreationKey(subject int64) string {
	return "token_creation:" + strconv.FormatInt(subject, 10)
}

// Limiter checks and records attempts against a policy. A Limiter is
// immutable and safe for concurrent use.
type Limiter struct {
	cache  cache.Cache
	policy Policy
	action string
}

// New returns a limiter over c. Zero fields of p fall back to DefaultPolicy.
func New(c cache.Cache, p Policy) *Limiter {
	return &Limiter{cache: c, policy: p.withDefaults(DefaultPolicy), action: "default"}
}

// WithPolicy returns a limiter sharing l's cache but enforcing p.
func (l *Limiter) WithPolicy(action string, p Policy) *Limiter {
	return &Limiter{cache: l.cache, policy: p.withDefaults(l.policy), action: action}
}

// Policy returns the budget this limiter enforces.
func (l *Limiter) Policy() Policy { return l.policy }

func (p Policy) withDefaults(def Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Decay <= 0 {
		p.Decay = def.Decay
	}
	return p
}

// Attempts returns the number of hits currently recorded for key.
func (l *Limiter) Attempts(ctx context.Context, key string) (int64, error) {
	v, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: read %q: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: read %q: corrupt counter", key)
	}
	return n, nil
}

// TooManyAttempts reports whether key has used up its budget.
func (l *Limiter) TooManyAttempts(ctx context.Context, key string) (bool, error) {
	return l.tooMany(ctx, key, l.policy)
}

// TooManyAttemptsFor is TooManyAttempts under p instead of the limiter's
// policy. Zero fields of p fall back to the limiter's policy.
func (l *Limiter) TooManyAttemptsFor(ctx context.Context, key string, p Policy) (bool, error) {
	return l.tooMany(ctx, key, p.withDefaults(l.policy))
}

// Hit records one attempt and restarts the decay window.
func (l *Limiter) Hit(ctx context.Context, key string) (int64, error) {
	return l.hit(ctx, key, l.policy)
}

// Clear forgets every attempt recorded for key.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	if err := l.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("ratelimit: clear %q: %w", key, err)
	}
	return nil
}

// RetriesLeft returns how many attempts key may still make, never negative.
func (l *Limiter) RetriesLeft(ctx context.Context, key string) (int, error) {
	return l.retriesLeft(ctx, key, l.policy)
}

// RetriesLeftFor is RetriesLeft under p.
func (l *Limiter) RetriesLeftFor(ctx context.Context, key string, p Policy) (int, error) {
	return l.retriesLeft(ctx, key, p.withDefaults(l.policy))
}

// Attempt checks and records one attempt under p, which overrides the
// limiter's policy for this call only. It reports false without recording
// when key is already over budget. Concurrent callers that pass the check
// together are still admitted at most MaxAttempts times in total.
func (l *Limiter) Attempt(ctx context.Context, key string, p Policy) (bool, error) {
	p = p.withDefaults(l.policy)
	over, err := l.tooMany(ctx, key, p)
	if err != nil {
		return false, err
	}
	if over {
		obs.RecordRateLimited(l.action)
		return false, nil
	}
	n, err := l.hit(ctx, key, p)
	if err != nil {
		return false, err
	}
	if n > int64(p.MaxAttempts) {
		obs.RecordRateLimited(l.action)
		return false, nil
	}
	return true, nil
}

func (l *Limiter) tooMany(ctx context.Context, key string, p Policy) (bool, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return n >= int64(p.MaxAttempts), nil
}

func (l *Limiter) retriesLeft(ctx context.Context, key string, p Policy) (int, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return 0, err
	}
	left := int64(p.MaxAttempts) - n
	if left < 0 {
		left = 0
	}
	return int(left), nil
}

func (l *Limiter) hit(ctx context.Context, key string, p Policy) (int64, error) {
	n, err := l.cache.Increment(ctx, key, p.Decay)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: hit %q: %w", key, err)
	}
	return n, nil
}
