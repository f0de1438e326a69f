package session

import (
	"context"

	"admin-gateway/internal/model"
)

// Repository is the session persistence contract. The in-memory
// implementation backs single-instance deployments; the Scylla one backs
// everything else. Implementations return model.ErrSessionNotFound for
// unknown ids and store sessions verbatim, all lifecycle rules live in
// the Store.
type Repository interface {
	Save(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Session, error)
	Touch(ctx context.Context, session *model.Session) error
	Deactivate(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, session *model.Session) error
	DeleteExpired(ctx context.Context) (int, error)
}
