package ratelimit

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/util"
)

// Scope separates independent rate-limit budgets. Each scope has its own
// window policy and, for login scopes, a failed-attempt lockout.
type Scope string

const (
	ScopeUserLogin  Scope = "user-login"
	ScopeAdminLogin Scope = "admin-login"
	ScopeAPI        Scope = "api"
)

// Decision is the outcome of one rate-limit check. LockedOut distinguishes
// a failed-attempt lockout from ordinary window exhaustion.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	LockedOut  bool
}

// Repository stores and evaluates per-client rate-limit state. The
// in-memory implementation is the default; the Redis one shares state
// across gateway instances.
type Repository interface {
	// CheckAndRecord evaluates the client against the scope's policy and
	// mutates window state. When failed is true the client's consecutive
	// failure count is bumped regardless of the allow/deny outcome.
	CheckAndRecord(ctx context.Context, scope Scope, clientID string, failed bool) (Decision, error)

	// RecordFailure registers a failed authentication attempt without
	// consuming a window slot. Failures are only ever recorded on an
	// explicit signal from the caller.
	RecordFailure(ctx context.Context, scope Scope, clientID string) error

	// ResetFailures clears the client's consecutive failure count after a
	// successful authentication. Window counters are untouched.
	ResetFailures(ctx context.Context, scope Scope, clientID string) error

	// Sweep drops entries whose window has lapsed. Entries with an active
	// lockout are kept even when their window has passed.
	Sweep(ctx context.Context) (int, error)
}

// Limiter derives client identifiers and delegates to a Repository.
type Limiter struct {
	repo   Repository
	logger *zap.Logger
}

func NewLimiter(repo Repository, logger *zap.Logger) *Limiter {
	return &Limiter{repo: repo, logger: logger}
}

// ClientID builds the rate-limit key for a client. It is a cheap encoding
// of ip:userAgent, not a secret; collisions only make limiting slightly
// coarser.
func ClientID(ip, userAgent string) string {
	return base64.StdEncoding.EncodeToString([]byte(ip + ":" + userAgent))
}

func (l *Limiter) CheckAndRecord(ctx context.Context, scope Scope, ip, userAgent string, failed bool) (Decision, error) {
	decision, err := l.repo.CheckAndRecord(ctx, scope, ClientID(ip, userAgent), failed)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !decision.Allowed {
		l.logger.Warn("request rate limited",
			util.String("scope", string(scope)),
			util.String("ip", ip),
			util.Bool("locked_out", decision.LockedOut),
			util.Duration("retry_after", decision.RetryAfter),
		)
	}
	return decision, nil
}

func (l *Limiter) RecordFailure(ctx context.Context, scope Scope, ip, userAgent string) error {
	if err := l.repo.RecordFailure(ctx, scope, ClientID(ip, userAgent)); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

func (l *Limiter) ResetFailures(ctx context.Context, scope Scope, ip, userAgent string) error {
	if err := l.repo.ResetFailures(ctx, scope, ClientID(ip, userAgent)); err != nil {
		return fmt.Errorf("failed to reset failure count: %w", err)
	}
	return nil
}

func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.repo.Sweep(ctx)
}

// FormatRetryAfter renders a human-readable wait for 429 responses.
func FormatRetryAfter(d time.Duration) string {
	if d < time.Minute {
		secs := int(d.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("try again in %d seconds", secs)
	}
	mins := int(d.Round(time.Minute).Minutes())
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("try again in %d minutes", mins)
}
