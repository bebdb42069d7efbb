package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fondyItem(t *testing.T, id string, body map[string]any) model.QueueItem {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return model.QueueItem{ID: id, WebhookType: model.WebhookTypeFondy, Payload: b, Status: model.RetryPending, MaxAttempts: 5}
}

func merchant(t *testing.T, md map[string]any) string {
	t.Helper()
	b, err := json.Marshal(md)
	require.NoError(t, err)
	return string(b)
}

func TestProcess_FondyOneTimeApplied(t *testing.T) {
	store := repository.NewMemoryStore()
	p := New(store, nil, 3)

	item := fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-1",
		"order_status":  "approved",
		"payment_id":    123456,
		"amount":        "2000",
		"actual_amount": "1999",
		"currency":      "UAH",
		"merchant_data": merchant(t, map[string]any{"userId": "u1"}),
	})
	item.AttemptCount = 2

	out, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	purchases := store.Purchases()
	require.Len(t, purchases, 1)
	assert.Equal(t, "u1", purchases[0].UserID)
	assert.Equal(t, 3, purchases[0].AnalysesGranted)
	assert.True(t, decimal.RequireFromString("19.99").Equal(purchases[0].Amount))

	events := store.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, model.ProviderFondy, ev.PaymentProvider)
	assert.Equal(t, "ord-1", ev.ProviderOrderID)
	assert.Equal(t, "123456", ev.ProviderPaymentID)
	assert.Equal(t, model.PaymentSuccess, ev.Status)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(ev.Metadata, &meta))
	assert.Equal(t, "webhook_retry_queue", meta["source"])
	assert.Equal(t, "q1", meta["queue_item_id"])
	assert.EqualValues(t, 3, meta["attempt"])
	assert.Equal(t, "one_time", meta["product_type"])
}

func TestProcess_AnalysesOverride(t *testing.T) {
	store := repository.NewMemoryStore()
	p := New(store, nil, 1)

	item := fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-2",
		"order_status":  "approved",
		"amount":        "500",
		"merchant_data": merchant(t, map[string]any{"userId": "u1", "analyses": 5}),
	})
	_, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, store.Purchases(), 1)
	assert.Equal(t, 5, store.Purchases()[0].AnalysesGranted)
	assert.True(t, decimal.NewFromInt(5).Equal(store.Purchases()[0].Amount))
}

func TestProcess_FondySubscription(t *testing.T) {
	store := repository.NewMemoryStore("pro_monthly")
	p := New(store, nil, 1)

	item := fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-3",
		"order_status":  "approved",
		"amount":        "9900",
		"sender_email":  "a@b.c",
		"merchant_data": merchant(t, map[string]any{"userId": "u7", "planCode": "pro_monthly"}),
	})
	out, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	subs := store.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "u7", subs[0].UserID)
	assert.Equal(t, "pro_monthly", subs[0].PlanCode)
	assert.Equal(t, "ord-3", subs[0].ProviderSubscriptionID)
	assert.Equal(t, "a@b.c", subs[0].ProviderCustomerID)
	assert.Empty(t, store.Purchases())
}

func TestProcess_FondyRecurringRenewsSubscription(t *testing.T) {
	store := repository.NewMemoryStore("pro_monthly")
	p := New(store, nil, 1)
	md := merchant(t, map[string]any{"userId": "u7", "planCode": "pro_monthly"})

	first := fondyItem(t, "q1", map[string]any{
		"order_id": "ord-first", "order_status": "approved", "amount": "9900", "merchant_data": md,
	})
	renewal := fondyItem(t, "q2", map[string]any{
		"order_id": "ord-renew-1", "parent_order_id": "ord-first", "order_status": "approved",
		"amount": "9900", "merchant_data": md,
	})

	for _, it := range []model.QueueItem{first, renewal} {
		out, err := p.Process(context.Background(), it)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, out)
	}

	subs := store.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "ord-first", subs[0].ProviderSubscriptionID)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "ord-first", events[0].ProviderOrderID)
	assert.Equal(t, "ord-renew-1", events[1].ProviderOrderID)
}

func TestProcess_PaddleSubscription(t *testing.T) {
	store := repository.NewMemoryStore("pro_monthly")
	p := New(store, nil, 1)

	body := `{"event_id":"evt_1","event_type":"transaction.completed","data":{
		"id":"txn_1","status":"completed","subscription_id":"sub_1","customer_id":"ctm_1",
		"currency_code":"USD","custom_data":{"userId":"u9","planCode":"pro_monthly"},
		"details":{"totals":{"grand_total":"1200"}}}}`
	item := model.QueueItem{ID: "q9", WebhookType: model.WebhookTypePaddle, Payload: []byte(body)}

	out, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	subs := store.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_1", subs[0].ProviderSubscriptionID)
	assert.Equal(t, "ctm_1", subs[0].ProviderCustomerID)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ProviderPaddle, events[0].PaymentProvider)
	assert.Equal(t, "txn_1", events[0].ProviderOrderID)
	assert.Equal(t, "transaction.completed", events[0].EventType)
	assert.True(t, decimal.RequireFromString("12").Equal(events[0].Amount))
}

func TestProcess_NotYetSuccessful(t *testing.T) {
	store := repository.NewMemoryStore()
	p := New(store, nil, 1)

	item := fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-4",
		"order_status":  "processing",
		"merchant_data": "not even json",
	})
	out, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotYetSuccessful, out)
	assert.Empty(t, store.Events())
	assert.Empty(t, store.Purchases())
}

func TestProcess_Idempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	p := New(store, nil, 1)

	item := fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-5",
		"order_status":  "approved",
		"amount":        "100",
		"merchant_data": merchant(t, map[string]any{"userId": "u1"}),
	})
	out, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	item.ID = "q2"
	out, err = p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)

	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Purchases(), 1)
}

func TestProcess_InvalidInput(t *testing.T) {
	cases := []struct {
		name string
		item model.QueueItem
		want error
	}{
		{
			name: "unknown type",
			item: model.QueueItem{ID: "q", WebhookType: "stripe", Payload: []byte(`{}`)},
			want: ErrInvalidPayload,
		},
		{
			name: "malformed json",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy, Payload: []byte(`{`)},
			want: ErrInvalidPayload,
		},
		{
			name: "missing order id",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_status":"approved","merchant_data":"{\"userId\":\"u\"}"}`)},
			want: ErrInvalidPayload,
		},
		{
			name: "missing merchant data",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_id":"o","order_status":"approved"}`)},
			want: ErrInvalidPayload,
		},
		{
			name: "unparseable merchant data",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_id":"o","order_status":"approved","amount":"1","merchant_data":"{oops"}`)},
			want: ErrInvalidMerchantData,
		},
		{
			name: "missing user id",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_id":"o","order_status":"approved","amount":"1","merchant_data":"{\"planCode\":\"x\"}"}`)},
			want: ErrInvalidMerchantData,
		},
		{
			name: "subscription without plan",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_id":"o","order_status":"approved","merchant_data":"{\"userId\":\"u\",\"productType\":\"subscription\"}"}`)},
			want: ErrInvalidMerchantData,
		},
		{
			name: "unknown plan",
			item: model.QueueItem{ID: "q", WebhookType: model.WebhookTypeFondy,
				Payload: []byte(`{"order_id":"o","order_status":"approved","merchant_data":"{\"userId\":\"u\",\"planCode\":\"gold\"}"}`)},
			want: ErrInvalidMerchantData,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			_, err := New(store, nil, 1).Process(context.Background(), tc.item)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.want.Error(), Kind(err))
			assert.Empty(t, store.Events())
		})
	}
}

// faultyLedger fails selected calls of the wrapped ledger.
type faultyLedger struct {
	repository.Ledger
	findErr   error
	insertErr error
}

func (f *faultyLedger) FindSuccessEvent(ctx context.Context, p model.Provider, id string) (*model.PaymentEvent, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Ledger.FindSuccessEvent(ctx, p, id)
}

func (f *faultyLedger) InTx(ctx context.Context, fn func(repository.Ledger) error) error {
	return f.Ledger.InTx(ctx, func(l repository.Ledger) error {
		return fn(&faultyLedger{Ledger: l, insertErr: f.insertErr})
	})
}

func (f *faultyLedger) InsertEvent(ctx context.Context, ev model.PaymentEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.Ledger.InsertEvent(ctx, ev)
}

func approvedOneTime(t *testing.T) model.QueueItem {
	t.Helper()
	return fondyItem(t, "q1", map[string]any{
		"order_id":      "ord-9",
		"order_status":  "approved",
		"amount":        "100",
		"merchant_data": merchant(t, map[string]any{"userId": "u1"}),
	})
}

func TestProcess_DownstreamErrors(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("lookup", func(t *testing.T) {
		store := repository.NewMemoryStore()
		p := New(&faultyLedger{Ledger: store, findErr: boom}, nil, 1)
		_, err := p.Process(context.Background(), approvedOneTime(t))
		assert.ErrorIs(t, err, ErrDownstream)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("insert failure leaves no grant", func(t *testing.T) {
		store := repository.NewMemoryStore()
		p := New(&faultyLedger{Ledger: store, insertErr: boom}, nil, 1)
		_, err := p.Process(context.Background(), approvedOneTime(t))
		assert.ErrorIs(t, err, ErrDownstream)
		assert.Empty(t, store.Purchases())
		assert.Empty(t, store.Events())
	})

	t.Run("duplicate insert means lost race", func(t *testing.T) {
		store := repository.NewMemoryStore()
		p := New(&faultyLedger{Ledger: store, insertErr: repository.ErrDuplicateEvent}, nil, 1)
		out, err := p.Process(context.Background(), approvedOneTime(t))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, out)
		assert.Empty(t, store.Purchases())
	})
}

func TestProcess_ConcurrentSingleEvent(t *testing.T) {
	store := repository.NewMemoryStore()
	p := New(store, nil, 1)
	item := approvedOneTime(t)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := p.Process(context.Background(), item)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, o := range outcomes {
		if o == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Purchases(), 1)
}
