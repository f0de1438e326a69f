package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/config"
	"admin-gateway/internal/fingerprint"
	"admin-gateway/internal/model"
	"admin-gateway/internal/ratelimit"
	"admin-gateway/internal/session"
	"admin-gateway/internal/token"
	"admin-gateway/internal/upstream"
)

// LoginBackend is the slice of the upstream client the login flow needs.
type LoginBackend interface {
	Login(ctx context.Context, identifier, password string) (*upstream.LoginResult, error)
}

// AuthHandler serves the admin authentication endpoints.
type AuthHandler struct {
	backend  LoginBackend
	tokens   *token.Service
	sessions *session.Store
	limiter  *ratelimit.Limiter
	auditLog *audit.Log
	searcher audit.Searcher
	config   *config.Config
	logger   *zap.Logger
}

func NewAuthHandler(
	backend LoginBackend,
	tokens *token.Service,
	sessions *session.Store,
	limiter *ratelimit.Limiter,
	auditLog *audit.Log,
	searcher audit.Searcher,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		backend:  backend,
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		auditLog: auditLog,
		searcher: searcher,
		config:   cfg,
		logger:   logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterRoutes mounts the authentication endpoints. The login route is
// public; everything else sits behind the gate installed by the router.
func (h *AuthHandler) RegisterRoutes(r chi.Router, gate *Gate) {
	r.Route("/admin", func(r chi.Router) {
		r.With(RateLimitMiddleware(h.limiter, ratelimit.ScopeAdminLogin, h.logger)).
			Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(gate.Middleware)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/sessions", h.Sessions)
			r.Get("/security-events", h.SecurityEvents)
		})
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Login authenticates against the identity backend and opens a device
// session. Failed attempts feed the rate limiter so repeated failures
// escalate into a lockout.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "BAD_REQUEST",
			Message: "identifier and password are required",
		})
		return
	}

	ip := clientIP(r)
	userAgent := r.UserAgent()
	fp := fingerprint.Generate(r.Header)

	result, err := h.backend.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			if rlErr := h.limiter.RecordFailure(r.Context(), ratelimit.ScopeAdminLogin, ip, userAgent); rlErr != nil {
				h.logger.Warn("failed to record login failure", zap.Error(rlErr))
			}
			h.auditLog.Record(model.SecurityEvent{
				Type:      model.EventFailedLogin,
				IPAddress: ip,
				UserAgent: userAgent,
				Details:   "invalid credentials for " + req.Identifier,
			})
			writeJSON(w, http.StatusUnauthorized, Response{
				Success: false,
				Error:   "INVALID_CREDENTIALS",
				Message: "invalid identifier or password",
			})
		case errors.Is(err, model.ErrUpstreamUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "UPSTREAM_UNAVAILABLE",
				Message: "authentication service is temporarily unavailable",
			})
		default:
			h.logger.Error("login failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Response{
				Success: false,
				Error:   "INTERNAL",
				Message: "login failed",
			})
		}
		return
	}

	// A successful authentication ends the consecutive-failure streak
	if rlErr := h.limiter.ResetFailures(r.Context(), ratelimit.ScopeAdminLogin, ip, userAgent); rlErr != nil {
		h.logger.Warn("failed to reset failure count", zap.Error(rlErr))
	}

	sess, err := h.sessions.Create(r.Context(), result.User.UserID, fp)
	if err != nil {
		if errors.Is(err, model.ErrSessionLimit) {
			writeJSON(w, http.StatusForbidden, Response{
				Success: false,
				Error:   "SESSION_LIMIT",
				Message: "maximum number of active sessions reached",
			})
			return
		}
		h.logger.Error("failed to create session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "INTERNAL",
			Message: "login failed",
		})
		return
	}

	setAuthCookies(w, &result.Tokens, h.config.Auth, h.config.Auth.SecureCookies)
	setSessionCookie(w, sess.ID, h.config.Auth, h.config.Session.TTL, h.config.Auth.SecureCookies)

	h.auditLog.Record(model.SecurityEvent{
		Type:      model.EventLogin,
		UserID:    result.User.UserID,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   "admin login",
	})

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"user":      result.User,
			"sessionId": sess.ID,
		},
		Message: "login successful",
	})
}

// Refresh rotates the refresh token explicitly. The gate already does
// this transparently; this endpoint exists for clients that manage their
// own renewal schedule.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := cookieValue(r, h.config.Auth.RefreshCookie)
	if refreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "UNAUTHORIZED",
			Message: "no refresh token",
		})
		return
	}

	pair, err := h.tokens.RefreshWithRotation(r.Context(), refreshToken, token.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, model.ErrUpstreamUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "UPSTREAM_UNAVAILABLE",
				Message: "authentication service is temporarily unavailable",
			})
			return
		}
		clearAuthCookies(w, h.config.Auth, h.config.Auth.SecureCookies)
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "UNAUTHORIZED",
			Message: "refresh token rejected",
		})
		return
	}

	setAuthCookies(w, pair, h.config.Auth, h.config.Auth.SecureCookies)
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "tokens refreshed"})
}

// Logout revokes the current token pair and closes the device session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	h.tokens.Revoke(
		cookieValue(r, h.config.Auth.AccessCookie),
		cookieValue(r, h.config.Auth.RefreshCookie),
	)

	if sessionID := cookieValue(r, h.config.Auth.SessionCookie); sessionID != "" {
		if err := h.sessions.Invalidate(r.Context(), sessionID); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
			h.logger.Warn("failed to invalidate session on logout",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	clearAuthCookies(w, h.config.Auth, h.config.Auth.SecureCookies)

	event := model.SecurityEvent{
		Type:      model.EventLogout,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Details:   "admin logout",
	}
	if claims != nil {
		event.UserID = claims.UserID
	}
	h.auditLog.Record(event)

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "logged out"})
}

// LogoutAll revokes the current tokens and deactivates every session the
// user has, on any device.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "UNAUTHORIZED",
			Message: "authentication required",
		})
		return
	}

	count, err := h.sessions.InvalidateAllForUser(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to invalidate sessions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "INTERNAL",
			Message: "could not close all sessions",
		})
		return
	}

	h.tokens.Revoke(
		cookieValue(r, h.config.Auth.AccessCookie),
		cookieValue(r, h.config.Auth.RefreshCookie),
	)
	clearAuthCookies(w, h.config.Auth, h.config.Auth.SecureCookies)

	h.auditLog.Record(model.SecurityEvent{
		Type:      model.EventLogout,
		UserID:    claims.UserID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Details:   "logout from all devices",
	})

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]int{"invalidated": count},
		Message: "all sessions closed",
	})
}

// Sessions lists the caller's active device sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "UNAUTHORIZED",
			Message: "authentication required",
		})
		return
	}

	sessions, err := h.sessions.ListActive(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "INTERNAL",
			Message: "could not list sessions",
		})
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: sessions})
}

// SecurityEvents returns recent security events, most recent first. With
// Elasticsearch configured the search index answers; otherwise the
// in-memory buffer does.
func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "UNAUTHORIZED",
			Message: "authentication required",
		})
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.UserID
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	if h.searcher != nil {
		events, err := h.searcher.SearchEvents(r.Context(), userID, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, Response{Success: true, Data: events})
			return
		}
		h.logger.Warn("event search failed, falling back to buffer", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.auditLog.Query(userID, limit)})
}
