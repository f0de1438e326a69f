package ratelimit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		UserLogin: config.ScopePolicy{
			MaxRequests: 10, Window: 5 * time.Minute,
			MaxFailed: 3, Lockout: 30 * time.Minute,
		},
		AdminLogin: config.ScopePolicy{
			MaxRequests: 5, Window: 15 * time.Minute,
			MaxFailed: 3, Lockout: 60 * time.Minute,
		},
		API: config.ScopePolicy{
			MaxRequests: 120, Window: time.Minute,
		},
	}
}

func newTestRepo(t *testing.T) (*MemoryRepository, *time.Time) {
	t.Helper()
	repo := NewMemoryRepository(testConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestWindowExhaustion(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th request in window should be rejected")
	}
	if d.LockedOut {
		t.Fatal("window exhaustion must not report a lockout")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d.RetryAfter)
	}
}

func TestWindowRollsOver(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	}
	if d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false); d.Allowed {
		t.Fatal("expected rejection before window rollover")
	}

	*now = now.Add(16 * time.Minute)
	d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if !d.Allowed {
		t.Fatal("expected allowance after window rollover")
	}
}

func TestLockoutAfterFailures(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should still be allowed through the window", i+1)
		}
	}

	// 4th attempt hits the lockout even though the window is not exhausted
	d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if d.Allowed {
		t.Fatal("expected lockout rejection")
	}
	if !d.LockedOut {
		t.Fatal("expected LockedOut=true for a failure lockout")
	}
	if d.RetryAfter <= 55*time.Minute || d.RetryAfter > 60*time.Minute {
		t.Fatalf("expected roughly 60 minutes remaining, got %v", d.RetryAfter)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	// Two failures, then a successful login ends the streak
	for i := 0; i < 2; i++ {
		if _, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := repo.ResetFailures(ctx, ScopeAdminLogin, "client-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A third failure after the reset is a streak of one, not three
	if _, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if !d.Allowed || d.LockedOut {
		t.Fatalf("non-consecutive failures must not lock out: %+v", d)
	}

	// Two more consecutive failures complete a fresh streak of three
	for i := 0; i < 2; i++ {
		if _, err := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	d, _ = repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if d.Allowed || !d.LockedOut {
		t.Fatalf("expected lockout after three consecutive failures: %+v", d)
	}
}

func TestLockoutExpiryKeepsWindowCount(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	// Exhaust most of the window while failing into a lockout
	for i := 0; i < 3; i++ {
		repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true)
	}

	// Jump past the 60-minute lockout; the 15-minute window has also
	// lapsed by then, so only the failure reset is observable here
	*now = now.Add(61 * time.Minute)
	d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if !d.Allowed {
		t.Fatal("expected allowance after lockout expiry")
	}

	// Failure streak must have been cleared: two more failures should not
	// re-trigger a lockout on their own
	repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true)
	d, _ = repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if !d.Allowed || d.LockedOut {
		t.Fatal("failure streak should have reset after lockout expiry")
	}
}

func TestFailureResetDoesNotResetWindow(t *testing.T) {
	cfg := testConfig()
	// Short lockout so it lapses inside the request window
	cfg.UserLogin.Lockout = time.Minute
	repo := NewMemoryRepository(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	// Burn 8 of 10 window slots, 3 of them failures (lockout engaged)
	for i := 0; i < 5; i++ {
		repo.CheckAndRecord(ctx, ScopeUserLogin, "c", false)
	}
	for i := 0; i < 3; i++ {
		repo.CheckAndRecord(ctx, ScopeUserLogin, "c", true)
	}

	// Past the lockout, inside the 5-minute window
	now = now.Add(90 * time.Second)
	for i := 0; i < 2; i++ {
		if d, _ := repo.CheckAndRecord(ctx, ScopeUserLogin, "c", false); !d.Allowed {
			t.Fatalf("slot %d of the surviving window should be allowed", i+1)
		}
	}

	// Window count persisted through the failure reset: budget now spent
	d, _ := repo.CheckAndRecord(ctx, ScopeUserLogin, "c", false)
	if d.Allowed {
		t.Fatal("window count should survive the failedAttempts reset")
	}
	if d.LockedOut {
		t.Fatal("this rejection is window exhaustion, not a lockout")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	}
	if d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false); d.Allowed {
		t.Fatal("admin-login should be exhausted")
	}
	if d, _ := repo.CheckAndRecord(ctx, ScopeAPI, "client-1", false); !d.Allowed {
		t.Fatal("api scope should be unaffected")
	}
	if d, _ := repo.CheckAndRecord(ctx, ScopeUserLogin, "client-1", false); !d.Allowed {
		t.Fatal("user-login scope should be unaffected")
	}
}

func TestSweepRemovesLapsedWindows(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	repo.CheckAndRecord(ctx, ScopeAPI, "a", false)
	repo.CheckAndRecord(ctx, ScopeAPI, "b", false)

	*now = now.Add(2 * time.Minute)
	removed, err := repo.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries swept, got %d", removed)
	}
}

func TestSweepKeepsActiveLockout(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", true)
	}

	// Window (15m) has lapsed but the lockout (60m) is still running
	*now = now.Add(20 * time.Minute)
	if _, err := repo.Sweep(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := repo.CheckAndRecord(ctx, ScopeAdminLogin, "client-1", false)
	if d.Allowed || !d.LockedOut {
		t.Fatal("lockout must survive the sweep while still active")
	}
}

func TestClientIDDerivation(t *testing.T) {
	a := ClientID("203.0.113.7", "agent-a")
	b := ClientID("203.0.113.7", "agent-a")
	c := ClientID("203.0.113.8", "agent-a")
	if a != b {
		t.Fatal("same ip/agent should map to same client id")
	}
	if a == c {
		t.Fatal("different ip should map to a different client id")
	}
}

func TestLimiterDelegates(t *testing.T) {
	repo, _ := newTestRepo(t)
	limiter := NewLimiter(repo, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.CheckAndRecord(ctx, ScopeAdminLogin, "1.2.3.4", "ua", false)
	}
	d, err := limiter.CheckAndRecord(ctx, ScopeAdminLogin, "1.2.3.4", "ua", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected limiter to reject the 6th admin login")
	}
}

func TestFormatRetryAfter(t *testing.T) {
	if got := FormatRetryAfter(42 * time.Second); got != "try again in 42 seconds" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := FormatRetryAfter(59 * time.Minute); got != "try again in 59 minutes" {
		t.Fatalf("unexpected message: %q", got)
	}
}
