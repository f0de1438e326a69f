package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	neturl "net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/config"
	"admin-gateway/internal/ratelimit"
	"admin-gateway/internal/session"
	"admin-gateway/internal/token"
	"admin-gateway/internal/upstream"
)

// identityStub fakes the upstream identity backend: one admin account,
// opaque tokens, single-use refresh tokens.
type identityStub struct {
	mu           sync.Mutex
	counter      int
	validAccess  map[string]bool
	validRefresh map[string]bool
}

func newIdentityStub() *identityStub {
	return &identityStub{
		validAccess:  make(map[string]bool),
		validRefresh: make(map[string]bool),
	}
}

func (s *identityStub) issuePair() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	access := fmt.Sprintf("access-%d", s.counter)
	refresh := fmt.Sprintf("refresh-%d", s.counter)
	s.validAccess[access] = true
	s.validRefresh[refresh] = true
	return access, refresh
}

func (s *identityStub) expireAccess(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.validAccess, tok)
}

func (s *identityStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/local", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["identifier"] != "admin@example.com" || body["password"] != "hunter2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		access, refresh := s.issuePair()
		json.NewEncoder(w).Encode(map[string]any{
			"token":        access,
			"refreshToken": refresh,
			"user": map[string]string{
				"id": "u-1", "username": "admin", "email": "admin@example.com", "role": "superadmin",
			},
		})
	})
	mux.HandleFunc("GET /auth/verify", func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.validAccess[tok]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "u-1", "username": "admin", "email": "admin@example.com", "role": "superadmin",
		})
	})
	mux.HandleFunc("POST /auth/regenerate-token", func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.validRefresh[tok]
		if ok {
			delete(s.validRefresh, tok)
		}
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		access, refresh := s.issuePair()
		json.NewEncoder(w).Encode(map[string]string{
			"token": access, "refreshToken": refresh,
		})
	})
	return mux
}

func gatewayConfig(upstreamURL string) *config.Config {
	cfg := &config.Config{Environment: "development"}
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.Timeout = 2 * time.Second
	cfg.Upstream.AdminAppURL = "http://localhost:3000"
	cfg.Auth = config.AuthConfig{
		AccessCookie:  "admin_token",
		RefreshCookie: "admin_refresh_token",
		SessionCookie: "admin_session_id",
		LoginPath:     "/admin/login",
		PublicPaths:   []string{"/admin/login", "/admin/forgot-password", "/api/v1/admin/login"},
		AccessMaxAge:  7 * 24 * time.Hour,
		RefreshMaxAge: 30 * 24 * time.Hour,
	}
	cfg.RateLimit = config.RateLimitConfig{
		UserLogin:  config.ScopePolicy{MaxRequests: 10, Window: 5 * time.Minute, MaxFailed: 3, Lockout: 30 * time.Minute},
		AdminLogin: config.ScopePolicy{MaxRequests: 5, Window: 15 * time.Minute, MaxFailed: 3, Lockout: 60 * time.Minute},
		API:        config.ScopePolicy{MaxRequests: 120, Window: time.Minute},
	}
	cfg.Session = config.SessionConfig{MaxPerUser: 5, TTL: 7 * 24 * time.Hour}
	cfg.Audit = config.AuditConfig{BufferSize: 100}
	return cfg
}

type testGateway struct {
	srv      *httptest.Server
	stub     *identityStub
	tokens   *token.Service
	sessions *session.Store
	log      *audit.Log
	cfg      *config.Config
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	stub := newIdentityStub()
	idSrv := httptest.NewServer(stub.handler())
	t.Cleanup(idSrv.Close)

	cfg := gatewayConfig(idSrv.URL)
	logger := zap.NewNop()

	log := audit.NewLog(cfg.Audit.BufferSize, logger)
	upstreamClient := upstream.NewClient(cfg, logger)
	tokens := token.NewService(upstreamClient, log, logger)
	sessions := session.NewStore(session.NewMemoryRepository(), log, cfg.Session, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryRepository(cfg.RateLimit), logger)

	gate := NewGate(tokens, sessions, cfg, logger)
	authHandler := NewAuthHandler(upstreamClient, tokens, sessions, limiter, log, nil, cfg, logger)

	adminApp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "admin app")
	})

	router := NewRouter(authHandler, gate, limiter, adminApp, cfg, logger)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testGateway{srv: srv, stub: stub, tokens: tokens, sessions: sessions, log: log, cfg: cfg}
}

func (g *testGateway) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (g *testGateway) login(t *testing.T, client *http.Client) {
	t.Helper()
	body := bytes.NewBufferString(`{"identifier":"admin@example.com","password":"hunter2"}`)
	resp, err := client.Post(g.srv.URL+"/api/v1/admin/login", "application/json", body)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login returned %d: %s", resp.StatusCode, raw)
	}
}

func TestLoginThenAdminAccess(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	g.login(t, client)

	resp, err := client.Get(g.srv.URL + "/admin/dashboard")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from gated admin app, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != "admin app" {
		t.Fatalf("unexpected body: %s", raw)
	}

	// A valid access token passes through untouched
	if sc := resp.Header.Values("Set-Cookie"); len(sc) != 0 {
		t.Fatalf("expected no Set-Cookie on pass-through, got %v", sc)
	}
}

func TestUnauthenticatedBrowserRedirects(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	resp, err := client.Get(g.srv.URL + "/admin/dashboard")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location != "/admin/login?from=%2Fadmin%2Fdashboard" {
		t.Fatalf("unexpected redirect target: %q", location)
	}

	// Stale cookies are cleared on the way out
	cleared := map[string]bool{}
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	for _, name := range []string{"admin_token", "admin_refresh_token", "admin_session_id"} {
		if !cleared[name] {
			t.Errorf("expected cookie %s to be cleared", name)
		}
	}
}

func TestUnauthenticatedAPIClientGets401(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/admin/dashboard", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for JSON client, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected JSON response, got %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"requiresAuth":true`) || !strings.Contains(string(raw), `"type":"AUTH"`) {
		t.Fatalf("expected auth challenge body, got %s", raw)
	}
}

func TestPublicPathBypassesGate(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	resp, err := client.Get(g.srv.URL + "/admin/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on public path, got %d", resp.StatusCode)
	}
}

func TestExpiredAccessTokenRotates(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	g.login(t, client)

	// Invalidate the access token upstream; the refresh token still works
	g.stub.expireAccess("access-1")

	resp, err := client.Get(g.srv.URL + "/admin/dashboard")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected transparent rotation to succeed, got %d", resp.StatusCode)
	}

	// The spent refresh token is now revoked locally
	if !g.tokens.IsBlacklisted("refresh-1") {
		t.Fatal("expected rotated-out refresh token on the blacklist")
	}

	// And the cookie jar carries the new pair
	found := false
	for _, c := range client.Jar.Cookies(mustParse(t, g.srv.URL)) {
		if c.Name == "admin_refresh_token" && c.Value == "refresh-2" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected rotated refresh token in cookies")
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	g.login(t, client)

	resp, err := client.Post(g.srv.URL+"/api/v1/admin/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", resp.StatusCode)
	}

	if !g.tokens.IsBlacklisted("access-1") || !g.tokens.IsBlacklisted("refresh-1") {
		t.Fatal("expected both tokens revoked on logout")
	}
}

func TestFailedLoginsEscalateToLockout(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	badLogin := func() *http.Response {
		body := bytes.NewBufferString(`{"identifier":"admin@example.com","password":"wrong"}`)
		resp, err := client.Post(g.srv.URL+"/api/v1/admin/login", "application/json", body)
		if err != nil {
			t.Fatalf("login request failed: %v", err)
		}
		return resp
	}

	for i := 0; i < 3; i++ {
		resp := badLogin()
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	// Locked out now, even with correct credentials
	body := bytes.NewBufferString(`{"identifier":"admin@example.com","password":"hunter2"}`)
	resp, err := client.Post(g.srv.URL+"/api/v1/admin/login", "application/json", body)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after lockout, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"type":"RATE_LIMIT"`) || !strings.Contains(string(raw), "try again in") {
		t.Fatalf("unexpected lockout body: %s", raw)
	}
}

func TestSuccessfulLoginEndsFailureStreak(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	login := func(password string) *http.Response {
		body := bytes.NewBufferString(`{"identifier":"admin@example.com","password":"` + password + `"}`)
		resp, err := client.Post(g.srv.URL+"/api/v1/admin/login", "application/json", body)
		if err != nil {
			t.Fatalf("login request failed: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	// Two failures, then a success, then one more failure. The streak is
	// consecutive, so this never reaches the lockout threshold.
	for i := 0; i < 2; i++ {
		if resp := login("wrong"); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	if resp := login("hunter2"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on valid credentials, got %d", resp.StatusCode)
	}
	if resp := login("wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on a fresh streak, got %d", resp.StatusCode)
	}

	if resp := login("hunter2"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login to stay available, got %d", resp.StatusCode)
	}
}

func TestGateFailsClosedWhenBackendDown(t *testing.T) {
	stub := newIdentityStub()
	idSrv := httptest.NewServer(stub.handler())

	cfg := gatewayConfig(idSrv.URL)
	logger := zap.NewNop()
	log := audit.NewLog(cfg.Audit.BufferSize, logger)
	upstreamClient := upstream.NewClient(cfg, logger)
	tokens := token.NewService(upstreamClient, log, logger)
	sessions := session.NewStore(session.NewMemoryRepository(), log, cfg.Session, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryRepository(cfg.RateLimit), logger)
	gate := NewGate(tokens, sessions, cfg, logger)
	authHandler := NewAuthHandler(upstreamClient, tokens, sessions, limiter, log, nil, cfg, logger)
	router := NewRouter(authHandler, gate, limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg, logger)
	srv := httptest.NewServer(router)
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	body := bytes.NewBufferString(`{"identifier":"admin@example.com","password":"hunter2"}`)
	resp, err := client.Post(srv.URL+"/api/v1/admin/login", "application/json", body)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d", resp.StatusCode)
	}

	// Identity backend goes away; valid-looking cookies must not pass.
	// A browser is sent to the login page
	idSrv.Close()

	resp, err = client.Get(srv.URL + "/admin/dashboard")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected fail-closed redirect, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/admin/login?from=%2Fadmin%2Fdashboard" {
		t.Fatalf("unexpected redirect target %q", loc)
	}

	// An API client gets a retryable 503 instead
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/dashboard", nil)
	req.Header.Set("Accept", "application/json")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for JSON client, got %d", resp.StatusCode)
	}
}

func TestLoginRecordsAuditTrail(t *testing.T) {
	g := newTestGateway(t)
	client := g.client(t)

	g.login(t, client)

	events := g.log.Query("u-1", 10)
	if len(events) != 1 || events[0].Type != "LOGIN" {
		t.Fatalf("expected one LOGIN event, got %+v", events)
	}
}

func mustParse(t *testing.T, raw string) *neturl.URL {
	t.Helper()
	u, err := neturl.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}
