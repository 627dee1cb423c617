package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

const keyPrefix = "ratelimit:ingest:"

// Window is the period a project's record budget covers.
const Window = time.Minute

// Limiter caps how many usage records a project may ingest per Window,
// backed by github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store     extratelimit.Limiter
	perWindow int64
}

func NewLimiter(rdb *redis.Client, perMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(perMinute)),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store, perWindow: perMinute}
}

// NewTestLimiter wraps an arbitrary store; perWindow is only reported.
func NewTestLimiter(store extratelimit.Limiter, perWindow int64) *Limiter {
	return &Limiter{store: store, perWindow: perWindow}
}

// Limit is the number of records a project may ingest per Window.
func (l *Limiter) Limit() int64 {
	return l.perWindow
}

// RetryAfter is the Retry-After header value for a denied request.
func (l *Limiter) RetryAfter() string {
	return strconv.Itoa(int(Window / time.Second))
}

// Allow consumes n records from the project's budget. n below one counts
// as one.
func (l *Limiter) Allow(ctx context.Context, projectID string, n int) (bool, error) {
	if n < 1 {
		n = 1
	}
	res, err := l.store.AllowN(ctx, keyPrefix+projectID, n)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, projectID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, keyPrefix+projectID)
}
