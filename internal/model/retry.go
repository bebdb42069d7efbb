package model

import (
	"strings"
	"time"
)

type WebhookType string

const (
	WebhookTypeFondy  WebhookType = "fondy"
	WebhookTypePaddle WebhookType = "paddle"
)

func (t WebhookType) String() string { return string(t) }

// ParseWebhookType normalizes input. Returns ("", false) for unknown types.
func ParseWebhookType(s string) (WebhookType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fondy":
		return WebhookTypeFondy, true
	case "paddle":
		return WebhookTypePaddle, true
	default:
		return "", false
	}
}

func (t WebhookType) Valid() bool {
	return t == WebhookTypeFondy || t == WebhookTypePaddle
}

type RetryStatus string

const (
	RetryPending           RetryStatus = "pending"
	RetryCompleted         RetryStatus = "completed"
	RetryPermanentlyFailed RetryStatus = "permanently_failed"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) Valid() bool {
	return s == RetryPending || s == RetryCompleted || s == RetryPermanentlyFailed
}

const (
	DefaultMaxAttempts = 5
	BaseRetryDelay     = time.Minute
)

// QueueItem is one row of webhook_retry_queue.
type QueueItem struct {
	ID            string      `db:"id"              json:"id"`
	WebhookType   WebhookType `db:"webhook_type"    json:"webhook_type"`
	Payload       RawJSON     `db:"payload"         json:"payload"`
	AttemptCount  int         `db:"attempt_count"   json:"attempt_count"`
	MaxAttempts   int         `db:"max_attempts"    json:"max_attempts"`
	NextAttemptAt time.Time   `db:"next_attempt_at" json:"next_attempt_at"`
	OrderID       *string     `db:"order_id"        json:"order_id,omitempty"`
	UserID        *string     `db:"user_id"         json:"user_id,omitempty"`
	Status        RetryStatus `db:"status"          json:"status"`
	LastError     *string     `db:"last_error"      json:"last_error,omitempty"`
	CreatedAt     time.Time   `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"      json:"updated_at"`
}

// RetryBackoff returns the delay before the next attempt once attemptCount
// failures have been recorded: 1, 2, 4, 8, 16... minutes.
func RetryBackoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount > 20 {
		attemptCount = 20
	}
	return BaseRetryDelay << (attemptCount - 1)
}

// ApplyFailure mutates the item the way a failed attempt does and reports the
// resulting status. Items that are no longer pending are left untouched and
// applied is false.
func (q *QueueItem) ApplyFailure(errMsg string, now time.Time) (status RetryStatus, applied bool) {
	if q.Status != RetryPending {
		return q.Status, false
	}
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	q.AttemptCount++
	q.LastError = &errMsg
	q.UpdatedAt = now
	if q.AttemptCount >= maxAttempts {
		q.Status = RetryPermanentlyFailed
		return q.Status, true
	}
	q.NextAttemptAt = now.Add(RetryBackoff(q.AttemptCount))
	return q.Status, true
}
