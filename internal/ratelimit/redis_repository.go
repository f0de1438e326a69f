package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/client"
	"admin-gateway/internal/config"
	"admin-gateway/internal/util"
)

const (
	windowPrefix = "rate_limit:"
	failedPrefix = "failed_attempts:"
	lockPrefix   = "temp_lock:"
)

// RedisRepository shares rate-limit state across gateway instances.
// Windows are INCR counters whose TTL is set on creation; lockouts are
// SETNX keys whose TTL is the lockout duration, so expiry is handled by
// Redis and Sweep is a no-op.
type RedisRepository struct {
	client   *client.RedisClient
	policies map[Scope]config.ScopePolicy
	logger   *zap.Logger
}

func NewRedisRepository(redisClient *client.RedisClient, cfg config.RateLimitConfig, logger *zap.Logger) *RedisRepository {
	return &RedisRepository{
		client: redisClient,
		policies: map[Scope]config.ScopePolicy{
			ScopeUserLogin:  cfg.UserLogin,
			ScopeAdminLogin: cfg.AdminLogin,
			ScopeAPI:        cfg.API,
		},
		logger: logger,
	}
}

func (r *RedisRepository) key(prefix string, scope Scope, clientID string) string {
	return prefix + string(scope) + ":" + clientID
}

func (r *RedisRepository) CheckAndRecord(ctx context.Context, scope Scope, clientID string, failed bool) (Decision, error) {
	pol, ok := r.policies[scope]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	decision, err := r.evaluate(ctx, scope, clientID, pol)
	if err != nil {
		return Decision{}, err
	}

	if failed {
		if recErr := r.RecordFailure(ctx, scope, clientID); recErr != nil {
			return Decision{}, recErr
		}
	}

	return decision, nil
}

func (r *RedisRepository) evaluate(ctx context.Context, scope Scope, clientID string, pol config.ScopePolicy) (Decision, error) {
	if pol.MaxFailed > 0 {
		lockKey := r.key(lockPrefix, scope, clientID)
		locked, err := r.client.Exists(ctx, lockKey)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to check lockout: %w", err)
		}
		if locked {
			ttl, err := r.client.TTL(ctx, lockKey)
			if err != nil {
				ttl = pol.Lockout
			}
			return Decision{Allowed: false, RetryAfter: ttl, LockedOut: true}, nil
		}
	}

	windowKey := r.key(windowPrefix, scope, clientID)
	count, err := r.client.IncrWithExpire(ctx, windowKey, pol.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count > int64(pol.MaxRequests) {
		ttl, err := r.client.TTL(ctx, windowKey)
		if err != nil || ttl < 0 {
			ttl = pol.Window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true}, nil
}

func (r *RedisRepository) RecordFailure(ctx context.Context, scope Scope, clientID string) error {
	pol, ok := r.policies[scope]
	if !ok || pol.MaxFailed <= 0 {
		return nil
	}

	failedKey := r.key(failedPrefix, scope, clientID)
	count, err := r.client.IncrWithExpire(ctx, failedKey, pol.Lockout)
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if count >= int64(pol.MaxFailed) {
		lockKey := r.key(lockPrefix, scope, clientID)
		if _, err := r.client.SetNX(ctx, lockKey, strconv.FormatInt(time.Now().Unix(), 10), pol.Lockout); err != nil {
			return fmt.Errorf("failed to set lockout: %w", err)
		}
		r.logger.Warn("client locked out",
			util.String("scope", string(scope)),
			util.Int("failed_attempts", int(count)),
			util.Duration("lockout", pol.Lockout),
		)
	}

	return nil
}

// ResetFailures deletes the failure counter so the streak restarts from
// zero. An already-set lockout key is left alone; it expires on its own
// and a locked-out client cannot reach the upstream to succeed anyway.
func (r *RedisRepository) ResetFailures(ctx context.Context, scope Scope, clientID string) error {
	if err := r.client.Del(ctx, r.key(failedPrefix, scope, clientID)); err != nil {
		return fmt.Errorf("failed to reset failure count: %w", err)
	}
	return nil
}

// Sweep is a no-op for Redis; key TTLs expire window and lockout state.
func (r *RedisRepository) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
