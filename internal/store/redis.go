package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fincademy/sim-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for portfolio snapshots. Mutations go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Commitments and events are not cached — commitment reads are rare
// and the event log grows unbounded.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, portfolioKey(userID)).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioKey(userID), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) UpdateUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	if err := s.primary.UpdateUser(ctx, userID, fn); err != nil {
		return err
	}
	// Invalidate after commit; next read re-populates.
	s.rdb.Del(ctx, portfolioKey(userID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	return s.primary.GetCommitment(ctx, id)
}

func (s *CachedStore) ListCommitmentsByUser(ctx context.Context, userID string) ([]model.Commitment, error) {
	return s.primary.ListCommitmentsByUser(ctx, userID)
}

func (s *CachedStore) ListEventsByUser(ctx context.Context, userID string) ([]model.SimulationEvent, error) {
	return s.primary.ListEventsByUser(ctx, userID)
}

func portfolioKey(userID string) string { return fmt.Sprintf("portfolio:%s", userID) }
