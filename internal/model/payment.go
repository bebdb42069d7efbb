package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderFondy  Provider = "fondy"
	ProviderPaddle Provider = "paddle"
)

func (p Provider) String() string { return string(p) }

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentEvent is the append-only audit row in payment_events.
type PaymentEvent struct {
	ID                int64           `db:"id"                  json:"id"`
	ProviderOrderID   string          `db:"provider_order_id"   json:"provider_order_id"`
	ProviderPaymentID string          `db:"provider_payment_id" json:"provider_payment_id"`
	PaymentProvider   Provider        `db:"payment_provider"    json:"payment_provider"`
	EventType         string          `db:"event_type"          json:"event_type"`
	Amount            decimal.Decimal `db:"amount"              json:"amount"`
	Currency          string          `db:"currency"            json:"currency"`
	Status            PaymentStatus   `db:"status"              json:"status"`
	Metadata          RawJSON         `db:"metadata"            json:"metadata"`
	UserID            string          `db:"user_id"             json:"user_id"`
	CreatedAt         time.Time       `db:"created_at"          json:"created_at"`
}

type ProductType string

const (
	ProductSubscription ProductType = "subscription"
	ProductOneTime      ProductType = "one_time"
)

// MerchantData travels through the provider checkout and comes back verbatim
// on the webhook.
type MerchantData struct {
	UserID      string      `json:"userId"`
	PlanCode    string      `json:"planCode,omitempty"`
	ProductType ProductType `json:"productType,omitempty"`
	Analyses    int         `json:"analyses,omitempty"`
}

// SubscriptionGrant is the input of create_or_renew_subscription.
type SubscriptionGrant struct {
	UserID                 string
	PlanCode               string
	Provider               Provider
	ProviderSubscriptionID string
	ProviderCustomerID     string
}

// PurchaseGrant is the input of record_one_time_purchase.
type PurchaseGrant struct {
	UserID           string
	PaymentReference string
	Amount           decimal.Decimal
	AnalysesGranted  int
}

// Subscription is an active (or renewed) plan grant.
type Subscription struct {
	ID                     int64     `db:"id"`
	UserID                 string    `db:"user_id"`
	PlanCode               string    `db:"plan_code"`
	Provider               Provider  `db:"provider"`
	ProviderSubscriptionID string    `db:"provider_subscription_id"`
	ProviderCustomerID     string    `db:"provider_customer_id"`
	Status                 string    `db:"status"`
	CurrentPeriodStart     time.Time `db:"current_period_start"`
	RenewedAt              time.Time `db:"renewed_at"`
	CreatedAt              time.Time `db:"created_at"`
}

// Purchase is a one-time analyses credit.
type Purchase struct {
	ID               int64           `db:"id"`
	UserID           string          `db:"user_id"`
	PaymentReference string          `db:"payment_reference"`
	Amount           decimal.Decimal `db:"amount"`
	AnalysesGranted  int             `db:"analyses_granted"`
	CreatedAt        time.Time       `db:"created_at"`
}
