package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-gateway/internal/config"
	"admin-gateway/internal/util"
)

// PreparedStatements holds the session-table statements prepared at startup.
type PreparedStatements struct {
	InsertSession       *gocql.Query
	InsertSessionByUser *gocql.Query
	GetSessionByID      *gocql.Query
	ListSessionsByUser  *gocql.Query
	UpdateAccess        *gocql.Query
	UpdateAccessByUser  *gocql.Query
	DeactivateSession   *gocql.Query
	DeactivateByUser    *gocql.Query
	DeleteSession       *gocql.Query
	DeleteSessionByUser *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// prepareStatements builds the session statements. Two tables mirror the
// same rows so both lookup paths stay single-partition: admin_sessions
// keyed by session id, admin_sessions_by_user keyed by user id.
func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertSession = s.Session.Query(`
        INSERT INTO admin_sessions (
            session_id, user_id, fingerprint_envelope, created_at,
            last_activity, expires_at, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.InsertSessionByUser = s.Session.Query(`
        INSERT INTO admin_sessions_by_user (
            user_id, session_id, fingerprint_envelope, created_at,
            last_activity, expires_at, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetSessionByID = s.Session.Query(`
        SELECT session_id, user_id, fingerprint_envelope, created_at,
            last_activity, expires_at, is_active
        FROM admin_sessions WHERE session_id = ?`)

	prepared.ListSessionsByUser = s.Session.Query(`
        SELECT session_id, user_id, fingerprint_envelope, created_at,
            last_activity, expires_at, is_active
        FROM admin_sessions_by_user WHERE user_id = ?`)

	prepared.UpdateAccess = s.Session.Query(`
        UPDATE admin_sessions SET last_activity = ? WHERE session_id = ?`)

	prepared.UpdateAccessByUser = s.Session.Query(`
        UPDATE admin_sessions_by_user SET last_activity = ?
        WHERE user_id = ? AND session_id = ?`)

	prepared.DeactivateSession = s.Session.Query(`
        UPDATE admin_sessions SET is_active = false WHERE session_id = ?`)

	prepared.DeactivateByUser = s.Session.Query(`
        UPDATE admin_sessions_by_user SET is_active = false
        WHERE user_id = ? AND session_id = ?`)

	prepared.DeleteSession = s.Session.Query(`
        DELETE FROM admin_sessions WHERE session_id = ?`)

	prepared.DeleteSessionByUser = s.Session.Query(`
        DELETE FROM admin_sessions_by_user WHERE user_id = ? AND session_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
