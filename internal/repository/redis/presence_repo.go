package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

const (
	onlineKeyPrefix = "mavis:presence:online:"
	lastSeenKey     = "mavis:presence:last_seen"
)

// PresenceRepo stores the online flag as a key with a TTL. A process that dies
// without running its disconnect stops refreshing the key, so the user drops
// to offline once the TTL lapses.
type PresenceRepo struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewPresenceRepo(client goredis.Cmdable, ttl time.Duration) *PresenceRepo {
	return &PresenceRepo{client: client, ttl: ttl}
}

func (r *PresenceRepo) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, onlineKeyPrefix+userID, "1", r.ttl)
		p.HSet(ctx, lastSeenKey, userID, at.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return wrap(fmt.Errorf("marking %s online: %w", userID, err))
	}
	return nil
}

func (r *PresenceRepo) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, onlineKeyPrefix+userID)
		p.HSet(ctx, lastSeenKey, userID, at.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return wrap(fmt.Errorf("marking %s offline: %w", userID, err))
	}
	return nil
}

func (r *PresenceRepo) Refresh(ctx context.Context, userID string) error {
	if err := r.client.Expire(ctx, onlineKeyPrefix+userID, r.ttl).Err(); err != nil {
		return wrap(fmt.Errorf("refreshing %s: %w", userID, err))
	}
	return nil
}

func (r *PresenceRepo) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	all, err := r.GetMany(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	return all[userID], nil
}

func (r *PresenceRepo) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error) {
	out := make(map[string]*domain.Presence, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	online := make([]*goredis.IntCmd, len(userIDs))
	var seen *goredis.SliceCmd
	_, err := r.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range userIDs {
			online[i] = p.Exists(ctx, onlineKeyPrefix+id)
		}
		seen = p.HMGet(ctx, lastSeenKey, userIDs...)
		return nil
	})
	if err != nil {
		return nil, wrap(fmt.Errorf("reading presence: %w", err))
	}

	seenVals := seen.Val()
	for i, id := range userIDs {
		p := &domain.Presence{UserID: id, IsOnline: online[i].Val() > 0}
		if i < len(seenVals) {
			if s, ok := seenVals[i].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					p.LastSeen = &ts
				}
			}
		}
		out[id] = p
	}
	return out, nil
}

// wrap marks every redis failure except a clean miss as retryable.
func wrap(err error) error {
	if err == nil || errors.Is(err, goredis.Nil) {
		return err
	}
	return fmt.Errorf("%w: %w", repository.ErrUnavailable, err)
}
