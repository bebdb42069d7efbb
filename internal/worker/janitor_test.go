package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_RunOnce(t *testing.T) {
	s, c := newStore(t)
	enqueue(t, s, "old", []byte(`{}`))
	c.Advance(10 * 24 * time.Hour)
	enqueue(t, s, "recent", []byte(`{}`))

	j := NewJanitor(s, nil, 7, time.Hour)
	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(context.Background(), "recent")
	assert.NoError(t, err)
}

func TestJanitor_Defaults(t *testing.T) {
	s, _ := newStore(t)
	j := NewJanitor(s, nil, 0, 0)
	assert.Equal(t, 30, j.Days)
	assert.Equal(t, 24*time.Hour, j.Interval)
}
