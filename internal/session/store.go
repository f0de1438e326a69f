package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/config"
	"admin-gateway/internal/model"
)

// Store owns the session lifecycle: creation under the per-user cap,
// validation with device-fingerprint comparison, invalidation, and the
// expiry sweep. A fingerprint mismatch on an otherwise valid session is
// recorded as suspicious but does not block the request; legitimate
// browser updates change the fingerprint too, so mismatches feed the
// audit trail instead of locking admins out.
type Store struct {
	repo     Repository
	auditLog *audit.Log
	config   config.SessionConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(repo Repository, auditLog *audit.Log, cfg config.SessionConfig, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		auditLog: auditLog,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Create starts a session for the user, enforcing the active-session
// cap. Callers are expected to check HasCapacity before authenticating
// upstream so a doomed login fails fast.
func (s *Store) Create(ctx context.Context, userID string, fp model.DeviceFingerprint) (*model.Session, error) {
	count, err := s.CountActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= s.config.MaxPerUser {
		return nil, model.ErrSessionLimit
	}

	now := s.now().UTC()
	sess := &model.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Fingerprint:  fp,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.config.TTL),
		IsActive:     true,
	}

	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.Int("active_sessions", count+1))
	return sess, nil
}

// Validate checks a session id against the current request's
// fingerprint. Expiry deactivates the session as a side effect. A hash
// mismatch flags the session but lets the request through.
func (s *Store) Validate(ctx context.Context, sessionID string, fp model.DeviceFingerprint) (*model.Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if sess.Expired(now) {
		if sess.IsActive {
			if err := s.repo.Deactivate(ctx, sess); err != nil {
				s.logger.Warn("failed to deactivate expired session",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		return nil, model.ErrSessionExpired
	}
	if !sess.IsActive {
		return nil, model.ErrSessionInactive
	}

	if sess.Fingerprint.Hash != fp.Hash {
		s.auditLog.Record(model.SecurityEvent{
			Type:      model.EventSuspiciousActivity,
			UserID:    sess.UserID,
			IPAddress: fp.IPAddress,
			UserAgent: fp.UserAgent,
			Details:   fmt.Sprintf("fingerprint mismatch on session %s", sess.ID),
		})
	}

	sess.LastActivity = now
	if err := s.repo.Touch(ctx, sess); err != nil {
		s.logger.Warn("failed to update session activity",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return sess, nil
}

// Invalidate flips the session inactive. The record stays until the
// sweep removes it.
func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsActive {
		return nil
	}
	if err := s.repo.Deactivate(ctx, sess); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	s.logger.Info("session invalidated", zap.String("session_id", sessionID))
	return nil
}

// InvalidateAllForUser deactivates every active session the user has and
// returns how many were affected.
func (s *Store) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	sessions, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	invalidated := 0
	for _, sess := range sessions {
		if !sess.IsActive {
			continue
		}
		if err := s.repo.Deactivate(ctx, sess); err != nil {
			return invalidated, fmt.Errorf("failed to invalidate session %s: %w", sess.ID, err)
		}
		invalidated++
	}

	s.logger.Info("invalidated all sessions for user",
		zap.String("user_id", userID),
		zap.Int("count", invalidated))
	return invalidated, nil
}

// CountActive returns the number of live, unexpired sessions for a user.
func (s *Store) CountActive(ctx context.Context, userID string) (int, error) {
	sessions, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}

	now := s.now().UTC()
	count := 0
	for _, sess := range sessions {
		if sess.IsActive && !sess.Expired(now) {
			count++
		}
	}
	return count, nil
}

// HasCapacity reports whether the user may open another session.
func (s *Store) HasCapacity(ctx context.Context, userID string) (bool, error) {
	count, err := s.CountActive(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < s.config.MaxPerUser, nil
}

// ListActive returns the user's live sessions, for the session
// management endpoints.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	active := sessions[:0]
	for _, sess := range sessions {
		if sess.IsActive && !sess.Expired(now) {
			active = append(active, sess)
		}
	}
	return active, nil
}

// SweepExpired removes expired session records.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("swept expired sessions", zap.Int("removed", removed))
	}
	return removed, nil
}
