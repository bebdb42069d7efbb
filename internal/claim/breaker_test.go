package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyClaimer struct {
	err   error
	calls int
}

func (f *flakyClaimer) Claim(context.Context, string, time.Duration) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func (f *flakyClaimer) Release(context.Context, string) error { return nil }

func TestBreaker_OpensAndRetriesOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	br := NewBreaker(2, 10*time.Second)
	br.now = func() time.Time { return now }

	assert.True(t, br.TryAcquire())
	br.OnFailure()
	assert.True(t, br.TryAcquire())
	br.OnFailure()
	assert.False(t, br.TryAcquire(), "open after threshold")

	now = now.Add(11 * time.Second)
	assert.True(t, br.TryAcquire(), "trial after openFor")
	assert.False(t, br.TryAcquire(), "single trial")
	br.OnFailure()
	assert.False(t, br.TryAcquire(), "failed trial reopens")

	now = now.Add(11 * time.Second)
	require.True(t, br.TryAcquire())
	br.OnSuccess()
	assert.True(t, br.TryAcquire())
	assert.True(t, br.TryAcquire())
}

func TestGuarded_ShortCircuits(t *testing.T) {
	inner := &flakyClaimer{err: errors.New("redis: connection refused")}
	g := NewGuarded(inner, NewBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Claim(ctx, "x", time.Second)
		assert.Error(t, err)
	}
	_, err := g.Claim(ctx, "x", time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, inner.calls)
}

func TestGuarded_PassesThrough(t *testing.T) {
	inner := &flakyClaimer{}
	g := NewGuarded(inner, NewBreaker(0, 0))

	ok, err := g.Claim(context.Background(), "x", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Release(context.Background(), "x"))
}
