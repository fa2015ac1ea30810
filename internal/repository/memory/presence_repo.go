package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vedran77/mavis/internal/domain"
)

// PresenceRepo keeps presence in a map. It has no expiry, so Refresh is a no-op.
type PresenceRepo struct {
	mu    sync.RWMutex
	state map[string]domain.Presence
}

func NewPresenceRepo() *PresenceRepo {
	return &PresenceRepo{state: make(map[string]domain.Presence)}
}

func (r *PresenceRepo) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[userID] = domain.Presence{UserID: userID, IsOnline: true, LastSeen: &at}
	return nil
}

func (r *PresenceRepo) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[userID] = domain.Presence{UserID: userID, IsOnline: false, LastSeen: &at}
	return nil
}

func (r *PresenceRepo) Refresh(ctx context.Context, userID string) error {
	return nil
}

func (r *PresenceRepo) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.state[userID]
	if !ok {
		return &domain.Presence{UserID: userID}, nil
	}
	return &p, nil
}

func (r *PresenceRepo) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*domain.Presence, len(userIDs))
	for _, id := range userIDs {
		p, ok := r.state[id]
		if !ok {
			p = domain.Presence{UserID: id}
		}
		out[id] = &p
	}
	return out, nil
}
