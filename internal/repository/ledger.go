package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmoiron/sqlx"
)

// Ledger is the payment event ledger plus the entitlement writes it guards.
type Ledger interface {
	// FindSuccessEvent returns nil, nil when no success event exists.
	FindSuccessEvent(ctx context.Context, provider model.Provider, providerOrderID string) (*model.PaymentEvent, error)
	// InsertEvent appends an event. A second success event for the same
	// (provider, order) yields ErrDuplicateEvent.
	InsertEvent(ctx context.Context, ev model.PaymentEvent) error
	// RecordPurchase grants one-time analyses credit. Callers guarantee at
	// most one call per payment reference.
	RecordPurchase(ctx context.Context, g model.PurchaseGrant) error
	// CreateOrRenewSubscription upserts an active subscription row.
	CreateOrRenewSubscription(ctx context.Context, g model.SubscriptionGrant) error
	// InTx runs fn against a transactional ledger: everything fn wrote is
	// committed when it returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(Ledger) error) error
}

const eventColumns = `id, provider_order_id, provider_payment_id, payment_provider, event_type,
	amount, currency, status, metadata, user_id, created_at`

// LedgerRepositoryImpl is the MySQL ledger. With tx set every call runs inside it.
type LedgerRepositoryImpl struct {
	db  *sqlx.DB
	tx  *sqlx.Tx
	Now func() time.Time
}

var _ Ledger = (*LedgerRepositoryImpl)(nil)

func NewLedgerRepository(db *sqlx.DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db, Now: time.Now}
}

func (r *LedgerRepositoryImpl) ext() sqlx.ExtContext {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// InTx runs fn in the current tx, or starts a new transaction when there is none.
func (r *LedgerRepositoryImpl) InTx(ctx context.Context, fn func(Ledger) error) error {
	if r.tx != nil {
		return fn(r)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()

	if err := fn(&LedgerRepositoryImpl{db: r.db, tx: t, Now: r.Now}); err != nil {
		return err
	}
	return t.Commit()
}

func (r *LedgerRepositoryImpl) FindSuccessEvent(ctx context.Context, provider model.Provider, providerOrderID string) (*model.PaymentEvent, error) {
	var ev model.PaymentEvent
	err := sqlx.GetContext(ctx, r.ext(), &ev, `
		SELECT `+eventColumns+`
		  FROM payment_events
		 WHERE payment_provider = ? AND provider_order_id = ? AND status = 'success'
		 LIMIT 1
	`, provider.String(), providerOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *LedgerRepositoryImpl) InsertEvent(ctx context.Context, ev model.PaymentEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.Now()
	}
	_, err := r.ext().ExecContext(ctx, `
		INSERT INTO payment_events
		    (provider_order_id, provider_payment_id, payment_provider, event_type,
		     amount, currency, status, metadata, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ProviderOrderID, ev.ProviderPaymentID, ev.PaymentProvider.String(), ev.EventType,
		ev.Amount, ev.Currency, string(ev.Status), ev.Metadata, ev.UserID, ev.CreatedAt)
	if isDuplicateKey(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *LedgerRepositoryImpl) RecordPurchase(ctx context.Context, g model.PurchaseGrant) error {
	_, err := r.ext().ExecContext(ctx, `
		INSERT INTO one_time_purchases (user_id, payment_reference, amount, analyses_granted, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.UserID, g.PaymentReference, g.Amount, g.AnalysesGranted, r.Now())
	if err != nil {
		return fmt.Errorf("record purchase %s: %w", g.PaymentReference, err)
	}
	return nil
}

func (r *LedgerRepositoryImpl) CreateOrRenewSubscription(ctx context.Context, g model.SubscriptionGrant) error {
	var one int
	err := sqlx.GetContext(ctx, r.ext(), &one, `SELECT 1 FROM plans WHERE code = ? AND active = 1 LIMIT 1`, g.PlanCode)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, g.PlanCode)
	}
	if err != nil {
		return err
	}

	now := r.Now()
	_, err = r.ext().ExecContext(ctx, `
		INSERT INTO subscriptions
		    (user_id, plan_code, provider, provider_subscription_id, provider_customer_id,
		     status, current_period_start, renewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    user_id              = VALUES(user_id),
		    plan_code            = VALUES(plan_code),
		    provider_customer_id = VALUES(provider_customer_id),
		    status               = 'active',
		    current_period_start = VALUES(current_period_start),
		    renewed_at           = VALUES(renewed_at)
	`, g.UserID, g.PlanCode, g.Provider.String(), g.ProviderSubscriptionID, g.ProviderCustomerID, now, now, now)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", g.ProviderSubscriptionID, err)
	}
	return nil
}
