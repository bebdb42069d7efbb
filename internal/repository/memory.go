package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/cvpay/internal/model"
)

// MemoryStore is an in-process RetryQueue and Ledger for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*model.QueueItem
	led   *memLedgerState
	nowFn func() time.Time
}

type memLedgerState struct {
	plans     map[string]bool
	events    []model.PaymentEvent
	subs      map[string]model.Subscription // provider:subID
	purchases map[string]model.Purchase     // payment reference
	nextID    int64
}

func (s *memLedgerState) clone() *memLedgerState {
	c := &memLedgerState{
		plans:     make(map[string]bool, len(s.plans)),
		events:    append([]model.PaymentEvent(nil), s.events...),
		subs:      make(map[string]model.Subscription, len(s.subs)),
		purchases: make(map[string]model.Purchase, len(s.purchases)),
		nextID:    s.nextID,
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	return c
}

var (
	_ RetryQueue = (*MemoryStore)(nil)
	_ Ledger     = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store that accepts the given plan codes.
func NewMemoryStore(planCodes ...string) *MemoryStore {
	st := &memLedgerState{
		plans:     make(map[string]bool, len(planCodes)),
		subs:      map[string]model.Subscription{},
		purchases: map[string]model.Purchase{},
	}
	for _, c := range planCodes {
		st.plans[c] = true
	}
	return &MemoryStore{items: map[string]*model.QueueItem{}, led: st, nowFn: time.Now}
}

// SetClock replaces the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

// ---- RetryQueue ----

func (m *MemoryStore) Enqueue(_ context.Context, item model.QueueItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalizeNewItem(&item, m.nowFn())
	if _, ok := m.items[item.ID]; ok {
		return "", fmt.Errorf("retry item %s already exists", item.ID)
	}
	m.items[item.ID] = &item
	return item.ID, nil
}

func (m *MemoryStore) GetPending(_ context.Context, limit int) ([]model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}

	now := m.nowFn()
	due := make([]model.QueueItem, 0)
	for _, it := range m.items {
		if it.Status == model.RetryPending && !it.NextAttemptAt.After(now) {
			due = append(due, *it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.items[id]; ok && it.Status != model.RetryCompleted {
		it.Status = model.RetryCompleted
		it.UpdatedAt = m.nowFn()
	}
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, id, errMsg string) (model.RetryStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return "", false, ErrNotFound
	}
	st, applied := it.ApplyFailure(errMsg, m.nowFn())
	return st, applied, nil
}

func (m *MemoryStore) Cleanup(_ context.Context, daysOld int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if daysOld <= 0 {
		daysOld = 30
	}

	cutoff := m.nowFn().Add(-time.Duration(daysOld) * 24 * time.Hour)
	var n int64
	for id, it := range m.items {
		if it.CreatedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryStore) ListFailed(_ context.Context, limit int) ([]model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	out := make([]model.QueueItem, 0)
	for _, it := range m.items {
		if it.Status == model.RetryPermanentlyFailed {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok || it.Status != model.RetryPermanentlyFailed {
		return ErrNotFound
	}
	now := m.nowFn()
	it.Status = model.RetryPending
	it.AttemptCount = 0
	it.NextAttemptAt = now
	it.UpdatedAt = now
	return nil
}

// ---- Ledger ----

func (m *MemoryStore) InTx(_ context.Context, fn func(Ledger) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.led.clone()
	if err := fn(&memLedgerTx{st: staged, now: m.nowFn}); err != nil {
		return err
	}
	m.led = staged
	return nil
}

func (m *MemoryStore) FindSuccessEvent(ctx context.Context, provider model.Provider, orderID string) (*model.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memLedgerTx{st: m.led, now: m.nowFn}).FindSuccessEvent(ctx, provider, orderID)
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev model.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memLedgerTx{st: m.led, now: m.nowFn}).InsertEvent(ctx, ev)
}

func (m *MemoryStore) RecordPurchase(ctx context.Context, g model.PurchaseGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memLedgerTx{st: m.led, now: m.nowFn}).RecordPurchase(ctx, g)
}

func (m *MemoryStore) CreateOrRenewSubscription(ctx context.Context, g model.SubscriptionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memLedgerTx{st: m.led, now: m.nowFn}).CreateOrRenewSubscription(ctx, g)
}

// Events returns a copy of every ledger event in insertion order.
func (m *MemoryStore) Events() []model.PaymentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PaymentEvent(nil), m.led.events...)
}

func (m *MemoryStore) Subscriptions() []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.led.subs))
	for _, s := range m.led.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Purchases() []model.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Purchase, 0, len(m.led.purchases))
	for _, p := range m.led.purchases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memLedgerTx works on a ledger state the caller already holds the lock for.
type memLedgerTx struct {
	st  *memLedgerState
	now func() time.Time
}

func (t *memLedgerTx) InTx(_ context.Context, fn func(Ledger) error) error { return fn(t) }

func (t *memLedgerTx) FindSuccessEvent(ctx context.Context, provider model.Provider, orderID string) (*model.PaymentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range t.st.events {
		ev := t.st.events[i]
		if ev.PaymentProvider == provider && ev.ProviderOrderID == orderID && ev.Status == model.PaymentSuccess {
			return &ev, nil
		}
	}
	return nil, nil
}

func (t *memLedgerTx) InsertEvent(ctx context.Context, ev model.PaymentEvent) error {
	if ev.Status == model.PaymentSuccess {
		existing, err := t.FindSuccessEvent(ctx, ev.PaymentProvider, ev.ProviderOrderID)
		if err != nil {
			return fmt.Errorf("check duplicate event: %w", err)
		}
		if existing != nil {
			return ErrDuplicateEvent
		}
	}
	t.st.nextID++
	ev.ID = t.st.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now()
	}
	t.st.events = append(t.st.events, ev)
	return nil
}

func (t *memLedgerTx) RecordPurchase(_ context.Context, g model.PurchaseGrant) error {
	if _, ok := t.st.purchases[g.PaymentReference]; ok {
		return fmt.Errorf("record purchase %s: duplicate payment reference", g.PaymentReference)
	}
	t.st.nextID++
	t.st.purchases[g.PaymentReference] = model.Purchase{
		ID:               t.st.nextID,
		UserID:           g.UserID,
		PaymentReference: g.PaymentReference,
		Amount:           g.Amount,
		AnalysesGranted:  g.AnalysesGranted,
		CreatedAt:        t.now(),
	}
	return nil
}

func (t *memLedgerTx) CreateOrRenewSubscription(_ context.Context, g model.SubscriptionGrant) error {
	if !t.st.plans[g.PlanCode] {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, g.PlanCode)
	}
	now := t.now()
	key := g.Provider.String() + ":" + g.ProviderSubscriptionID
	sub, ok := t.st.subs[key]
	if !ok {
		t.st.nextID++
		sub = model.Subscription{
			ID:                     t.st.nextID,
			Provider:               g.Provider,
			ProviderSubscriptionID: g.ProviderSubscriptionID,
			CreatedAt:              now,
		}
	}
	sub.UserID = g.UserID
	sub.PlanCode = g.PlanCode
	sub.ProviderCustomerID = g.ProviderCustomerID
	sub.Status = "active"
	sub.CurrentPeriodStart = now
	sub.RenewedAt = now
	t.st.subs[key] = sub
	return nil
}
