package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
)

const DefaultCacheTTL = 5 * time.Minute

// Lookup resolves API keys to projects through a Redis cache in front of
// the store. The cache sits behind a circuit breaker: while Redis is
// failing, lookups go straight to the store.
type Lookup struct {
	store   Store
	cache   *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewLookup builds a Lookup. A nil cache disables caching.
func NewLookup(store Store, cache *redis.Client, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	settings := gobreaker.Settings{
		Name:        "auth-cache",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.Logger().Warn("auth: cache breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Lookup{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func cacheKey(keyHash string) string {
	return fmt.Sprintf("auth:%s", keyHash)
}

// Resolve returns the active project owning key, or ErrProjectNotFound.
func (l *Lookup) Resolve(ctx context.Context, key string) (*Project, error) {
	keyHash := HashKey(key)

	if p, ok := l.cached(ctx, keyHash); ok {
		return p, nil
	}

	p, err := l.store.GetByKeyHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrProjectNotFound
	}

	l.remember(ctx, keyHash, p)
	return p, nil
}

// Forget drops a cached project, e.g. after its key has been deactivated.
func (l *Lookup) Forget(ctx context.Context, key string) error {
	return l.ForgetHash(ctx, HashKey(key))
}

// ForgetHash is Forget for callers that only hold the stored key hash.
func (l *Lookup) ForgetHash(ctx context.Context, keyHash string) error {
	if l.cache == nil {
		return nil
	}
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, l.cache.Del(ctx, cacheKey(keyHash)).Err()
	})
	return err
}

// BreakerState reports the state of the cache circuit breaker.
func (l *Lookup) BreakerState() gobreaker.State {
	return l.breaker.State()
}

func (l *Lookup) cached(ctx context.Context, keyHash string) (*Project, bool) {
	if l.cache == nil {
		return nil, false
	}

	res, err := l.breaker.Execute(func() (interface{}, error) {
		var p Project
		err := l.cache.Get(ctx, cacheKey(keyHash)).Scan(&p)
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			telemetry.FromContext(ctx).Warn("auth: redis error", zap.Error(err))
		}
		return nil, false
	}

	p, ok := res.(*Project)
	if !ok || !p.Active {
		return nil, false
	}
	return p, true
}

func (l *Lookup) remember(ctx context.Context, keyHash string, p *Project) {
	if l.cache == nil {
		return
	}
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, l.cache.Set(ctx, cacheKey(keyHash), p, l.ttl).Err()
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		telemetry.FromContext(ctx).Warn("auth: failed to cache project", zap.Error(err))
	}
}
