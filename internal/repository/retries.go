package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/util"
	"github.com/jmoiron/sqlx"
)

// RetryQueue is the durable queue of webhook payloads that failed inline processing.
type RetryQueue interface {
	// Enqueue stores a new pending item and returns its id. Zero-valued
	// fields get defaults: ULID id, max attempts, due now.
	Enqueue(ctx context.Context, item model.QueueItem) (string, error)
	// GetPending returns due pending items, oldest-due first.
	GetPending(ctx context.Context, limit int) ([]model.QueueItem, error)
	Complete(ctx context.Context, id string) error
	// Fail records a failed attempt and returns the resulting status.
	// transitioned is false when the item was no longer pending, so the
	// status was reached by another caller.
	Fail(ctx context.Context, id, errMsg string) (status model.RetryStatus, transitioned bool, err error)
	// Cleanup deletes items of any status created more than daysOld days ago.
	Cleanup(ctx context.Context, daysOld int) (int64, error)

	Get(ctx context.Context, id string) (*model.QueueItem, error)
	ListFailed(ctx context.Context, limit int) ([]model.QueueItem, error)
	// Requeue moves a permanently failed item back to pending, due now.
	Requeue(ctx context.Context, id string) error
}

const retryColumns = `id, webhook_type, payload, attempt_count, max_attempts, next_attempt_at,
	order_id, user_id, status, last_error, created_at, updated_at`

// RetryQueueImpl is a sqlx-backed implementation over webhook_retry_queue.
type RetryQueueImpl struct {
	db  *sqlx.DB
	Now func() time.Time
}

var _ RetryQueue = (*RetryQueueImpl)(nil)

func NewRetryQueueRepository(db *sqlx.DB) *RetryQueueImpl {
	return &RetryQueueImpl{db: db, Now: time.Now}
}

func normalizeNewItem(item *model.QueueItem, now time.Time) {
	if item.ID == "" {
		item.ID = util.New()
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = model.DefaultMaxAttempts
	}
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = now
	}
	item.AttemptCount = 0
	item.Status = model.RetryPending
	item.CreatedAt = now
	item.UpdatedAt = now
}

func (r *RetryQueueImpl) Enqueue(ctx context.Context, item model.QueueItem) (string, error) {
	normalizeNewItem(&item, r.Now())

	const q = `
		INSERT INTO webhook_retry_queue
		    (id, webhook_type, payload, attempt_count, max_attempts, next_attempt_at,
		     order_id, user_id, status, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, q,
		item.ID, item.WebhookType.String(), item.Payload, item.AttemptCount, item.MaxAttempts,
		item.NextAttemptAt, item.OrderID, item.UserID, item.Status.String(), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (r *RetryQueueImpl) GetPending(ctx context.Context, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + retryColumns + `
		FROM webhook_retry_queue
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, id ASC
		LIMIT ?`

	var rows []model.QueueItem
	if err := r.db.SelectContext(ctx, &rows, q, r.Now(), limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// Complete is idempotent: completing an already completed item is a no-op.
func (r *RetryQueueImpl) Complete(ctx context.Context, id string) error {
	const q = `
		UPDATE webhook_retry_queue
		SET status = 'completed', updated_at = ?
		WHERE id = ? AND status <> 'completed'
	`
	_, err := r.db.ExecContext(ctx, q, r.Now(), id)
	return err
}

func (r *RetryQueueImpl) Fail(ctx context.Context, id, errMsg string) (model.RetryStatus, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var item model.QueueItem
	err = tx.GetContext(ctx, &item, `SELECT `+retryColumns+` FROM webhook_retry_queue WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("lock retry item: %w", err)
	}

	status, applied := item.ApplyFailure(errMsg, r.Now())
	if !applied {
		return status, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_retry_queue
		SET attempt_count = ?, status = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, item.AttemptCount, status.String(), item.NextAttemptAt, item.LastError, item.UpdatedAt, id)
	if err != nil {
		return "", false, fmt.Errorf("update retry item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return status, true, nil
}

func (r *RetryQueueImpl) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := r.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)

	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_retry_queue WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RetryQueueImpl) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.GetContext(ctx, &item, `SELECT `+retryColumns+` FROM webhook_retry_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *RetryQueueImpl) ListFailed(ctx context.Context, limit int) ([]model.QueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT ` + retryColumns + `
		FROM webhook_retry_queue
		WHERE status = 'permanently_failed'
		ORDER BY updated_at DESC
		LIMIT ?`

	var rows []model.QueueItem
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RetryQueueImpl) Requeue(ctx context.Context, id string) error {
	now := r.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_retry_queue
		SET status = 'pending', attempt_count = 0, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = 'permanently_failed'
	`, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
