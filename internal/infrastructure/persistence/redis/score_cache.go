package redis

import (
	"context"
	"errors"
	"time"

	"github.com/edumastery/mastery-engine/internal/application/query"
	"github.com/edumastery/mastery-engine/pkg/circuitbreaker"
)

// ScoreCache implements query.ScoreCache on top of Cache.
type ScoreCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

var _ query.ScoreCache = (*ScoreCache)(nil)

// NewScoreCache creates a score cache. A non-positive ttl uses TTLScoreCache.
// When breaker is non-nil, Redis calls go through it and fail fast with
// circuitbreaker.ErrCircuitOpen while Redis is down.
func NewScoreCache(cache *Cache, ttl time.Duration, breaker *circuitbreaker.CircuitBreaker) *ScoreCache {
	if ttl <= 0 {
		ttl = TTLScoreCache
	}
	return &ScoreCache{cache: cache, ttl: ttl, breaker: breaker}
}

func (s *ScoreCache) execute(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

// Get returns the cached score of userID.
func (s *ScoreCache) Get(ctx context.Context, userID string) (*query.StandardizedScoreDTO, bool, error) {
	var (
		dto   query.StandardizedScoreDTO
		found bool
	)
	err := s.execute(ctx, func(ctx context.Context) error {
		err := s.cache.Get(ctx, ScoreKey(userID), &dto)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &dto, true, nil
}

// Set stores dto under its user's key.
func (s *ScoreCache) Set(ctx context.Context, dto *query.StandardizedScoreDTO) error {
	if dto == nil {
		return ErrCacheNilValue
	}
	return s.execute(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, ScoreKey(dto.UserID), dto, s.ttl)
	})
}

// Invalidate drops the cached score of userID. Called after a run that
// unlocked something, since new activity was evidently recorded.
func (s *ScoreCache) Invalidate(ctx context.Context, userID string) error {
	return s.cache.Delete(ctx, ScoreKey(userID))
}
