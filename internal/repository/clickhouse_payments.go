package repository

import (
	"context"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHPaymentEventsRepository lists payment events from the ClickHouse mirror of
// payment_events (final view).
type CHPaymentEventsRepository interface {
	ListByUser(ctx context.Context, userID string, provider model.Provider, limit, offset int) ([]model.PaymentEvent, error)
}

type chPaymentEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHPaymentEventsRepository(ch *sqlx.DB) CHPaymentEventsRepository {
	return &chPaymentEventsRepository{ch: ch}
}

func (r *chPaymentEventsRepository) ListByUser(ctx context.Context, userID string, provider model.Provider, limit, offset int) ([]model.PaymentEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT ` + eventColumns + `
		FROM payments.payment_events_latest
		WHERE user_id = ?
	`
	args := []any{userID}

	if provider != "" {
		q += " AND payment_provider = ?"
		args = append(args, provider.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.PaymentEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
