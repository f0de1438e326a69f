package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"admin-gateway/internal/config"
	"admin-gateway/internal/fingerprint"
	"admin-gateway/internal/model"
	"admin-gateway/internal/ratelimit"
	"admin-gateway/internal/session"
	"admin-gateway/internal/token"
	"admin-gateway/internal/util"
)

type contextKey string

const claimsKey contextKey = "admin_claims"

// ClaimsFromContext returns the identity the auth gate attached to the
// request, if any.
func ClaimsFromContext(ctx context.Context) (*model.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*model.Claims)
	return claims, ok
}

// Gate is the authentication middleware in front of every admin surface.
// It verifies the access token, falls back to a single refresh-rotation
// attempt, and fails closed when the identity backend cannot be reached.
type Gate struct {
	tokens   *token.Service
	sessions *session.Store
	auth     config.AuthConfig
	secure   bool
	logger   *zap.Logger
}

func NewGate(tokens *token.Service, sessions *session.Store, cfg *config.Config, logger *zap.Logger) *Gate {
	return &Gate{
		tokens:   tokens,
		sessions: sessions,
		auth:     cfg.Auth,
		secure:   cfg.Auth.SecureCookies,
		logger:   logger,
	}
}

func (g *Gate) isPublicPath(path string) bool {
	for _, p := range g.auth.PublicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// Middleware runs the authentication state machine for one request.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		accessToken := cookieValue(r, g.auth.AccessCookie)
		refreshToken := cookieValue(r, g.auth.RefreshCookie)

		if accessToken == "" && refreshToken == "" {
			g.deny(w, r, "authentication required")
			return
		}

		if accessToken != "" {
			claims, err := g.tokens.Verify(r.Context(), accessToken)
			switch {
			case err == nil:
				g.validateSession(r)
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
				return
			case errors.Is(err, model.ErrUpstreamUnavailable):
				g.unavailable(w, r)
				return
			}
			// Invalid or expired: fall through to the rotation attempt
		}

		if refreshToken == "" {
			g.deny(w, r, "invalid access token")
			return
		}

		pair, err := g.tokens.RefreshWithRotation(r.Context(), refreshToken, token.RequestMeta{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			if errors.Is(err, model.ErrUpstreamUnavailable) {
				g.unavailable(w, r)
				return
			}
			g.deny(w, r, "session expired")
			return
		}

		claims, err := g.tokens.Verify(r.Context(), pair.Token)
		if err != nil {
			if errors.Is(err, model.ErrUpstreamUnavailable) {
				g.unavailable(w, r)
				return
			}
			g.deny(w, r, "session expired")
			return
		}

		setAuthCookies(w, pair, g.auth, g.secure)
		g.validateSession(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// validateSession is opportunistic: a missing or broken session record
// does not block a request that holds a valid token, it only shows up in
// the audit trail.
func (g *Gate) validateSession(r *http.Request) {
	sessionID := cookieValue(r, g.auth.SessionCookie)
	if sessionID == "" {
		return
	}
	fp := fingerprint.Generate(r.Header)
	if _, err := g.sessions.Validate(r.Context(), sessionID, fp); err != nil {
		g.logger.Debug("session validation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, message string) {
	clearAuthCookies(w, g.auth, g.secure)

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"error":{"type":"AUTH","requiresAuth":true,"message":"%s"}}`, message)
		return
	}

	target := g.auth.LoginPath + "?from=" + url.QueryEscape(r.URL.Path)
	http.Redirect(w, r, target, http.StatusFound)
}

// unavailable fails closed when the identity backend cannot be reached.
// Browsers land on the login page with their cookies intact, an outage is
// not a credential failure. API clients get a retryable 503.
func (g *Gate) unavailable(w http.ResponseWriter, r *http.Request) {
	g.logger.Warn("failing closed: identity backend unreachable",
		zap.String("path", r.URL.Path))

	if wantsJSON(r) {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "UPSTREAM_UNAVAILABLE",
			Message: "authentication service is temporarily unavailable",
		})
		return
	}

	target := g.auth.LoginPath + "?from=" + url.QueryEscape(r.URL.Path)
	http.Redirect(w, r, target, http.StatusFound)
}

// RateLimitMiddleware applies one rate-limit scope to every request that
// passes through it. Denials carry the remaining wait time in the body.
func RateLimitMiddleware(limiter *ratelimit.Limiter, scope ratelimit.Scope, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.CheckAndRecord(r.Context(), scope, clientIP(r), r.UserAgent(), false)
			if err != nil {
				// Limiter trouble should not take the service down
				logger.Error("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				writeRateLimited(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, decision ratelimit.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())+1))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":{"type":"RATE_LIMIT","message":"%s"}}`,
		ratelimit.FormatRetryAfter(decision.RetryAfter))
}

// LoggerMiddleware logs every request with its outcome.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

func setAuthCookies(w http.ResponseWriter, pair *model.TokenPair, auth config.AuthConfig, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookie,
		Value:    pair.Token,
		Path:     "/",
		MaxAge:   int(auth.AccessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(auth.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func setSessionCookie(w http.ResponseWriter, sessionID string, auth config.AuthConfig, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearAuthCookies(w http.ResponseWriter, auth config.AuthConfig, secure bool) {
	for _, name := range []string{auth.AccessCookie, auth.RefreshCookie, auth.SessionCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
