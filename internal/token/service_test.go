package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/model"
)

// makeToken builds an unsigned JWT carrying the given claims. The
// gateway never checks signatures, so a placeholder signature is enough.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

type fakeBackend struct {
	verifyClaims *model.Claims
	verifyErr    error
	rotatePair   *model.TokenPair
	rotateErr    error
	rotateCalls  int
}

func (f *fakeBackend) Verify(_ context.Context, _ string) (*model.Claims, error) {
	return f.verifyClaims, f.verifyErr
}

func (f *fakeBackend) Rotate(_ context.Context, _ string) (*model.TokenPair, error) {
	f.rotateCalls++
	return f.rotatePair, f.rotateErr
}

func newTestService(backend Backend) (*Service, *audit.Log) {
	log := audit.NewLog(100, zap.NewNop())
	return NewService(backend, log, zap.NewNop()), log
}

func TestVerifyDelegatesUpstream(t *testing.T) {
	backend := &fakeBackend{verifyClaims: &model.Claims{UserID: "u-1", Role: "admin"}}
	svc, _ := newTestService(backend)

	claims, err := svc.Verify(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "u-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsBlacklisted(t *testing.T) {
	backend := &fakeBackend{verifyClaims: &model.Claims{UserID: "u-1"}}
	svc, _ := newTestService(backend)

	svc.Revoke("access-1", "refresh-1")
	if _, err := svc.Verify(context.Background(), "access-1"); !errors.Is(err, model.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for revoked token, got %v", err)
	}
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	old := makeToken(t, map[string]any{"id": "u-1", "exp": time.Now().Add(time.Hour).Unix()})
	backend := &fakeBackend{rotatePair: &model.TokenPair{Token: "access-2", RefreshToken: "refresh-2"}}
	svc, log := newTestService(backend)

	pair, err := svc.RefreshWithRotation(context.Background(), old, RequestMeta{IP: "203.0.113.7", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Token != "access-2" || pair.RefreshToken != "refresh-2" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !svc.IsBlacklisted(old) {
		t.Fatal("expected old refresh token to be revoked")
	}

	events := log.Query("u-1", 10)
	if len(events) != 1 || events[0].Type != model.EventTokenRefresh {
		t.Fatalf("expected one TOKEN_REFRESH event for u-1, got %+v", events)
	}
}

func TestRefreshReplayRejectedLocally(t *testing.T) {
	old := makeToken(t, map[string]any{"id": "u-1", "exp": time.Now().Add(time.Hour).Unix()})
	backend := &fakeBackend{rotatePair: &model.TokenPair{Token: "access-2", RefreshToken: "refresh-2"}}
	svc, _ := newTestService(backend)

	if _, err := svc.RefreshWithRotation(context.Background(), old, RequestMeta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Replaying the spent token must not reach the backend again
	_, err := svc.RefreshWithRotation(context.Background(), old, RequestMeta{})
	if !errors.Is(err, model.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on replay, got %v", err)
	}
	if backend.rotateCalls != 1 {
		t.Fatalf("expected 1 backend rotation call, got %d", backend.rotateCalls)
	}
}

func TestRefreshRevokesOnBackendRejection(t *testing.T) {
	backend := &fakeBackend{rotateErr: model.ErrTokenInvalid}
	svc, _ := newTestService(backend)

	_, err := svc.RefreshWithRotation(context.Background(), "rejected-refresh", RequestMeta{})
	if !errors.Is(err, model.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if !svc.IsBlacklisted("rejected-refresh") {
		t.Fatal("backend-rejected token should be revoked")
	}
}

func TestRefreshKeepsTokenOnBackendOutage(t *testing.T) {
	backend := &fakeBackend{rotateErr: model.ErrUpstreamUnavailable}
	svc, _ := newTestService(backend)

	_, err := svc.RefreshWithRotation(context.Background(), "refresh-1", RequestMeta{})
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if svc.IsBlacklisted("refresh-1") {
		t.Fatal("token must not be revoked when the exchange may not have happened")
	}
}

func TestBlacklistIdempotentAdd(t *testing.T) {
	bl := NewBlacklist()
	bl.Add("tok")
	bl.Add("tok")
	if bl.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", bl.Len())
	}
}

func TestBlacklistPruneUsesExpClaim(t *testing.T) {
	bl := NewBlacklist()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bl.now = func() time.Time { return now }

	expired := makeToken(t, map[string]any{"id": "u-1", "exp": now.Add(-time.Minute).Unix()})
	live := makeToken(t, map[string]any{"id": "u-2", "exp": now.Add(time.Hour).Unix()})
	opaque := "not-a-jwt"

	bl.Add(expired)
	bl.Add(live)
	bl.Add(opaque)

	if removed := bl.PruneExpired(); removed != 1 {
		t.Fatalf("expected 1 entry pruned, got %d", removed)
	}
	if bl.Contains(expired) {
		t.Fatal("expired entry should be gone")
	}
	if !bl.Contains(live) || !bl.Contains(opaque) {
		t.Fatal("live and opaque entries should survive")
	}

	// Opaque tokens fall out after the default retention
	now = now.Add(defaultRetention + time.Hour)
	bl.PruneExpired()
	if bl.Contains(opaque) {
		t.Fatal("opaque entry should be pruned after retention")
	}
}
