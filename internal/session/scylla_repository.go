package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-gateway/internal/client"
	"admin-gateway/internal/encryption"
	"admin-gateway/internal/model"
	"admin-gateway/internal/util"
)

// ScyllaRepository persists sessions in ScyllaDB across two mirrored
// tables (by session id, by user id) kept consistent with logged
// batches. The device fingerprint is envelope-encrypted before it leaves
// the process; rows carry a TTL slightly past the session expiry, so
// expiry cleanup is the database's problem and DeleteExpired is a no-op.
type ScyllaRepository struct {
	client     *client.ScyllaClient
	crypto     *encryption.Manager
	ttlSeconds int
}

// ttlGrace keeps a row readable shortly after logical expiry so the
// Store can observe and deactivate it rather than see a vanished row.
const ttlGrace = time.Hour

func NewScyllaRepository(c *client.ScyllaClient, crypto *encryption.Manager, sessionTTL time.Duration) *ScyllaRepository {
	return &ScyllaRepository{
		client:     c,
		crypto:     crypto,
		ttlSeconds: int((sessionTTL + ttlGrace).Seconds()),
	}
}

func (r *ScyllaRepository) sealFingerprint(ctx context.Context, fp model.DeviceFingerprint) (string, error) {
	raw, err := json.Marshal(fp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	envelope, err := r.crypto.EncryptField(ctx, string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt fingerprint: %w", err)
	}
	sealed, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint envelope: %w", err)
	}
	return string(sealed), nil
}

func (r *ScyllaRepository) openFingerprint(ctx context.Context, sealed string) (model.DeviceFingerprint, error) {
	var fp model.DeviceFingerprint
	var envelope encryption.EncryptedData
	if err := json.Unmarshal([]byte(sealed), &envelope); err != nil {
		return fp, fmt.Errorf("failed to unmarshal fingerprint envelope: %w", err)
	}
	raw, err := r.crypto.DecryptField(ctx, &envelope)
	if err != nil {
		return fp, fmt.Errorf("failed to decrypt fingerprint: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return fp, fmt.Errorf("failed to unmarshal fingerprint: %w", err)
	}
	return fp, nil
}

func (r *ScyllaRepository) Save(ctx context.Context, session *model.Session) error {
	sealed, err := r.sealFingerprint(ctx, session.Fingerprint)
	if err != nil {
		return err
	}

	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.InsertSession.Statement(),
		session.ID, session.UserID, sealed, session.CreatedAt,
		session.LastActivity, session.ExpiresAt, session.IsActive, r.ttlSeconds)
	batch.Query(r.client.Prepared.InsertSessionByUser.Statement(),
		session.UserID, session.ID, sealed, session.CreatedAt,
		session.LastActivity, session.ExpiresAt, session.IsActive, r.ttlSeconds)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("failed to save session",
			zap.String("session_id", session.ID),
			zap.String("user_id", session.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *ScyllaRepository) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	s := &model.Session{}
	var sealed string

	query := r.client.Prepared.GetSessionByID.Bind(sessionID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&s.ID, &s.UserID, &sealed, &s.CreatedAt,
		&s.LastActivity, &s.ExpiresAt, &s.IsActive)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.Fingerprint, err = r.openFingerprint(ctx, sealed)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ScyllaRepository) ListByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	iter := r.client.Prepared.ListSessionsByUser.Bind(userID).WithContext(ctx).Iter()

	var sessions []*model.Session
	for {
		s := &model.Session{}
		var sealed string
		if !iter.Scan(&s.ID, &s.UserID, &sealed, &s.CreatedAt,
			&s.LastActivity, &s.ExpiresAt, &s.IsActive) {
			break
		}
		fp, err := r.openFingerprint(ctx, sealed)
		if err != nil {
			util.Warn("skipping session with unreadable fingerprint",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		s.Fingerprint = fp
		sessions = append(sessions, s)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (r *ScyllaRepository) Touch(ctx context.Context, session *model.Session) error {
	batch := r.client.Batch(gocql.UnloggedBatch)
	batch.Query(r.client.Prepared.UpdateAccess.Statement(),
		session.LastActivity, session.ID)
	batch.Query(r.client.Prepared.UpdateAccessByUser.Statement(),
		session.LastActivity, session.UserID, session.ID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *ScyllaRepository) Deactivate(ctx context.Context, session *model.Session) error {
	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.DeactivateSession.Statement(), session.ID)
	batch.Query(r.client.Prepared.DeactivateByUser.Statement(),
		session.UserID, session.ID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return nil
}

func (r *ScyllaRepository) Delete(ctx context.Context, session *model.Session) error {
	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.DeleteSession.Statement(), session.ID)
	batch.Query(r.client.Prepared.DeleteSessionByUser.Statement(),
		session.UserID, session.ID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: inserts carry a TTL, Scylla reclaims expired
// rows on its own.
func (r *ScyllaRepository) DeleteExpired(_ context.Context) (int, error) {
	return 0, nil
}
