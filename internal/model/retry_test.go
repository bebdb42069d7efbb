package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Minute},
		{attempt: 1, want: time.Minute},
		{attempt: 2, want: 2 * time.Minute},
		{attempt: 3, want: 4 * time.Minute},
		{attempt: 4, want: 8 * time.Minute},
		{attempt: 5, want: 16 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestApplyFailure_BackoffUntilPermanent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item := QueueItem{ID: "q1", Status: RetryPending, MaxAttempts: 5, NextAttemptAt: now}

	var prev time.Time
	for i, wantDelay := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute} {
		st, applied := item.ApplyFailure("boom", now)
		assert.True(t, applied)
		assert.Equal(t, RetryPending, st)
		assert.Equal(t, i+1, item.AttemptCount)
		assert.Equal(t, now.Add(wantDelay), item.NextAttemptAt)
		assert.True(t, item.NextAttemptAt.After(prev))
		prev = item.NextAttemptAt
	}

	st, applied := item.ApplyFailure("downstream_error", now)
	assert.True(t, applied)
	assert.Equal(t, RetryPermanentlyFailed, st)
	assert.Equal(t, 5, item.AttemptCount)
	assert.Equal(t, prev, item.NextAttemptAt)
	if assert.NotNil(t, item.LastError) {
		assert.Equal(t, "downstream_error", *item.LastError)
	}

	// terminal: no further updates
	st, applied = item.ApplyFailure("again", now.Add(time.Hour))
	assert.False(t, applied)
	assert.Equal(t, RetryPermanentlyFailed, st)
	assert.Equal(t, 5, item.AttemptCount)
	assert.Equal(t, prev, item.NextAttemptAt)
}

func TestApplyFailure_DefaultMaxAttempts(t *testing.T) {
	now := time.Now()
	item := QueueItem{Status: RetryPending, AttemptCount: 4}
	st, applied := item.ApplyFailure("x", now)
	assert.True(t, applied)
	assert.Equal(t, RetryPermanentlyFailed, st)
}

func TestParseWebhookType(t *testing.T) {
	got, ok := ParseWebhookType(" Fondy ")
	assert.True(t, ok)
	assert.Equal(t, WebhookTypeFondy, got)

	got, ok = ParseWebhookType("paddle")
	assert.True(t, ok)
	assert.Equal(t, WebhookTypePaddle, got)

	_, ok = ParseWebhookType("stripe")
	assert.False(t, ok)
}
