package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type recordingStore struct {
	allowed bool
	err     error
	keys    []string
	counts  []int
}

func (s *recordingStore) AllowN(_ context.Context, key string, n int) (*extratelimit.Result, error) {
	s.keys = append(s.keys, key)
	s.counts = append(s.counts, n)
	return &extratelimit.Result{Allowed: s.allowed}, s.err
}

func (s *recordingStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return s.AllowN(ctx, key, 1)
}

func (s *recordingStore) Status(_ context.Context, key string) (*extratelimit.Result, error) {
	s.keys = append(s.keys, key)
	return &extratelimit.Result{Allowed: s.allowed}, s.err
}

func TestLimiter_Allow(t *testing.T) {
	store := &recordingStore{allowed: true}
	l := NewTestLimiter(store, 100)

	ok, err := l.Allow(context.Background(), "proj-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ratelimit:ingest:proj-1"}, store.keys)
	assert.Equal(t, []int{1}, store.counts)
}

func TestLimiter_Denied(t *testing.T) {
	l := NewTestLimiter(&recordingStore{allowed: false}, 100)

	ok, err := l.Allow(context.Background(), "proj-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiter_BackendError(t *testing.T) {
	l := NewTestLimiter(&recordingStore{err: errors.New("redis down")}, 100)

	ok, err := l.Allow(context.Background(), "proj-1", 1)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestLimiter_Status(t *testing.T) {
	store := &recordingStore{allowed: true}
	res, err := NewTestLimiter(store, 100).Status(context.Background(), "proj-9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, []string{"ratelimit:ingest:proj-9"}, store.keys)
}

func TestLimiter_NonPositiveCountsAsOne(t *testing.T) {
	store := &recordingStore{allowed: true}
	l := NewTestLimiter(store, 100)

	_, err := l.Allow(context.Background(), "proj-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, store.counts)
}

func TestLimiter_Limits(t *testing.T) {
	l := NewTestLimiter(&recordingStore{}, 6000)
	assert.Equal(t, int64(6000), l.Limit())
	assert.Equal(t, "60", l.RetryAfter())
}
