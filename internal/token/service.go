package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/model"
)

// Backend is the slice of the identity backend the token service needs.
type Backend interface {
	Verify(ctx context.Context, accessToken string) (*model.Claims, error)
	Rotate(ctx context.Context, refreshToken string) (*model.TokenPair, error)
}

// RequestMeta carries the client attributes recorded on audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service layers revocation on top of the upstream token endpoints:
// every verification consults the local blacklist first, and every
// refresh rotates the spent token onto it.
type Service struct {
	backend   Backend
	blacklist *Blacklist
	auditLog  *audit.Log
	logger    *zap.Logger
}

func NewService(backend Backend, auditLog *audit.Log, logger *zap.Logger) *Service {
	return &Service{
		backend:   backend,
		blacklist: NewBlacklist(),
		auditLog:  auditLog,
		logger:    logger,
	}
}

// Verify checks an access token: revoked tokens are rejected locally,
// everything else is delegated upstream.
func (s *Service) Verify(ctx context.Context, accessToken string) (*model.Claims, error) {
	if s.blacklist.Contains(accessToken) {
		return nil, model.ErrTokenInvalid
	}
	return s.backend.Verify(ctx, accessToken)
}

// RefreshWithRotation trades a refresh token for a new pair and revokes
// the old one. The old token is blacklisted both when the exchange
// succeeds and when the backend explicitly rejects it; it is NOT
// blacklisted when the backend is unreachable, because the exchange may
// not have happened and revoking would strand a still-valid session.
func (s *Service) RefreshWithRotation(ctx context.Context, refreshToken string, meta RequestMeta) (*model.TokenPair, error) {
	if s.blacklist.Contains(refreshToken) {
		return nil, model.ErrTokenInvalid
	}

	pair, err := s.backend.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, model.ErrTokenInvalid) {
			s.blacklist.Add(refreshToken)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	s.blacklist.Add(refreshToken)
	s.auditLog.Record(model.SecurityEvent{
		Type:      model.EventTokenRefresh,
		UserID:    subjectOf(refreshToken),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   "refresh token rotated",
	})
	return pair, nil
}

// Revoke blacklists a token pair on logout.
func (s *Service) Revoke(accessToken, refreshToken string) {
	s.blacklist.Add(accessToken)
	s.blacklist.Add(refreshToken)
}

// IsBlacklisted reports whether a token has been revoked.
func (s *Service) IsBlacklisted(tokenString string) bool {
	return s.blacklist.Contains(tokenString)
}

// PruneBlacklist drops blacklist entries for tokens that have expired.
func (s *Service) PruneBlacklist() int {
	removed := s.blacklist.PruneExpired()
	if removed > 0 {
		s.logger.Debug("pruned expired blacklist entries", zap.Int("removed", removed))
	}
	return removed
}

// subjectOf pulls the user id claim out of a token without verifying it,
// for audit attribution only.
func subjectOf(tokenString string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	if id, ok := claims["id"].(string); ok {
		return id
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
