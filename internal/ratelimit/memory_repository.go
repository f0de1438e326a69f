package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"admin-gateway/internal/config"
)

// entry is one client's request/failure history within a scope.
type entry struct {
	scope          Scope
	count          int
	resetTime      time.Time
	failedAttempts int
	lastFailed     time.Time
}

// lockoutActive reports whether the entry is inside a failed-attempt
// lockout under the given policy.
func (e *entry) lockoutActive(pol config.ScopePolicy, now time.Time) bool {
	if pol.MaxFailed <= 0 {
		return false
	}
	return e.failedAttempts >= pol.MaxFailed && now.Before(e.lastFailed.Add(pol.Lockout))
}

const memoryShards = 16

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryRepository is the in-process rate-limit store: fixed-window
// counters striped across murmur3-hashed shards. State does not survive
// restart and is per-instance, which is an accepted scope decision for
// single-process deployments; use the Redis repository otherwise.
type MemoryRepository struct {
	shards   [memoryShards]*memoryShard
	policies map[Scope]config.ScopePolicy
	now      func() time.Time
}

func NewMemoryRepository(cfg config.RateLimitConfig) *MemoryRepository {
	r := &MemoryRepository{
		policies: map[Scope]config.ScopePolicy{
			ScopeUserLogin:  cfg.UserLogin,
			ScopeAdminLogin: cfg.AdminLogin,
			ScopeAPI:        cfg.API,
		},
		now: time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &memoryShard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *MemoryRepository) shardFor(key string) *memoryShard {
	return r.shards[murmur3.Sum32([]byte(key))%memoryShards]
}

func entryKey(scope Scope, clientID string) string {
	return string(scope) + ":" + clientID
}

func (r *MemoryRepository) CheckAndRecord(_ context.Context, scope Scope, clientID string, failed bool) (Decision, error) {
	pol, ok := r.policies[scope]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	now := r.now()
	key := entryKey(scope, clientID)
	shard := r.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, exists := shard.entries[key]
	if !exists {
		e = &entry{scope: scope}
		shard.entries[key] = e
	}

	decision := r.evaluate(e, pol, now)

	// Failure recording is independent of the allow/deny outcome above
	if failed {
		e.failedAttempts++
		e.lastFailed = now
	}

	return decision, nil
}

func (r *MemoryRepository) evaluate(e *entry, pol config.ScopePolicy, now time.Time) Decision {
	if e.lockoutActive(pol, now) {
		return Decision{
			Allowed:    false,
			RetryAfter: e.lastFailed.Add(pol.Lockout).Sub(now),
			LockedOut:  true,
		}
	}

	// A lapsed lockout clears the failure streak only; the window count
	// keeps throttling independently
	if pol.MaxFailed > 0 && e.failedAttempts >= pol.MaxFailed {
		e.failedAttempts = 0
	}

	if now.Before(e.resetTime) {
		if e.count >= pol.MaxRequests {
			return Decision{
				Allowed:    false,
				RetryAfter: e.resetTime.Sub(now),
			}
		}
		e.count++
		return Decision{Allowed: true}
	}

	// Window rolled over
	e.count = 1
	e.resetTime = now.Add(pol.Window)
	return Decision{Allowed: true}
}

func (r *MemoryRepository) RecordFailure(_ context.Context, scope Scope, clientID string) error {
	now := r.now()
	key := entryKey(scope, clientID)
	shard := r.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, exists := shard.entries[key]
	if !exists {
		e = &entry{scope: scope}
		shard.entries[key] = e
	}
	e.failedAttempts++
	e.lastFailed = now
	return nil
}

// ResetFailures ends a failure streak. The streak tracks consecutive
// failed attempts, so a successful authentication clears it; the window
// counter keeps throttling on its own.
func (r *MemoryRepository) ResetFailures(_ context.Context, scope Scope, clientID string) error {
	key := entryKey(scope, clientID)
	shard := r.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if e, ok := shard.entries[key]; ok {
		e.failedAttempts = 0
	}
	return nil
}

// Sweep removes entries whose window has lapsed, keeping any entry whose
// failed-attempt lockout is still running so a lockout can never be erased
// by the cleanup cycle.
func (r *MemoryRepository) Sweep(_ context.Context) (int, error) {
	now := r.now()
	removed := 0

	for _, shard := range r.shards {
		shard.mu.Lock()
		for key, e := range shard.entries {
			pol, ok := r.policies[e.scope]
			if ok && e.lockoutActive(pol, now) {
				continue
			}
			if now.After(e.resetTime) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	return removed, nil
}
