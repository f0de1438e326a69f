package session

import (
	"context"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"admin-gateway/internal/model"
)

const memoryShards = 16

type memoryShard struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// MemoryRepository stores sessions in-process, striped across
// murmur3-hashed shards. A separate user index serves ListByUser without
// scanning every shard.
type MemoryRepository struct {
	shards [memoryShards]*memoryShard
	userMu sync.RWMutex
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{
		byUser: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &memoryShard{sessions: make(map[string]*model.Session)}
	}
	return r
}

func (r *MemoryRepository) shardFor(sessionID string) *memoryShard {
	return r.shards[murmur3.Sum32([]byte(sessionID))%memoryShards]
}

func (r *MemoryRepository) Save(_ context.Context, session *model.Session) error {
	copied := *session
	shard := r.shardFor(session.ID)

	shard.mu.Lock()
	shard.sessions[session.ID] = &copied
	shard.mu.Unlock()

	r.userMu.Lock()
	ids, ok := r.byUser[session.UserID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[session.UserID] = ids
	}
	ids[session.ID] = struct{}{}
	r.userMu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, sessionID string) (*model.Session, error) {
	shard := r.shardFor(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	stored, ok := shard.sessions[sessionID]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*model.Session, error) {
	r.userMu.RLock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	r.userMu.RUnlock()

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		shard := r.shardFor(id)
		shard.mu.RLock()
		if stored, ok := shard.sessions[id]; ok {
			copied := *stored
			sessions = append(sessions, &copied)
		}
		shard.mu.RUnlock()
	}
	return sessions, nil
}

func (r *MemoryRepository) Touch(_ context.Context, session *model.Session) error {
	shard := r.shardFor(session.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored, ok := shard.sessions[session.ID]
	if !ok {
		return model.ErrSessionNotFound
	}
	stored.LastActivity = session.LastActivity
	return nil
}

func (r *MemoryRepository) Deactivate(_ context.Context, session *model.Session) error {
	shard := r.shardFor(session.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored, ok := shard.sessions[session.ID]
	if !ok {
		return model.ErrSessionNotFound
	}
	stored.IsActive = false
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, session *model.Session) error {
	shard := r.shardFor(session.ID)
	shard.mu.Lock()
	delete(shard.sessions, session.ID)
	shard.mu.Unlock()

	r.userMu.Lock()
	if ids, ok := r.byUser[session.UserID]; ok {
		delete(ids, session.ID)
		if len(ids) == 0 {
			delete(r.byUser, session.UserID)
		}
	}
	r.userMu.Unlock()
	return nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context) (int, error) {
	now := r.now()
	var expired []*model.Session

	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, stored := range shard.sessions {
			if stored.Expired(now) {
				copied := *stored
				expired = append(expired, &copied)
			}
		}
		shard.mu.RUnlock()
	}

	for _, s := range expired {
		if err := r.Delete(ctx, s); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
