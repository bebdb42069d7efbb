package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/repository"
	"go.uber.org/zap"
)

const retrySource = "webhook_retry_queue"

// Processor replays the business effect of a queued webhook at most once per
// provider order.
type Processor struct {
	ledger          repository.Ledger
	log             *zap.Logger
	oneTimeAnalyses int
}

// New constructs the processor. oneTimeAnalyses is the credit granted by a
// one-time purchase whose merchant data does not say otherwise.
func New(ledger repository.Ledger, log *zap.Logger, oneTimeAnalyses int) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	if oneTimeAnalyses <= 0 {
		oneTimeAnalyses = 1
	}
	return &Processor{ledger: ledger, log: log, oneTimeAnalyses: oneTimeAnalyses}
}

type eventMetadata struct {
	Source      string            `json:"source"`
	QueueItemID string            `json:"queue_item_id"`
	Attempt     int               `json:"attempt"`
	ProductType model.ProductType `json:"product_type"`
	PlanCode    string            `json:"plan_code,omitempty"`
}

// Process handles one queue item. A nil error means the item is done, whatever
// the outcome; any error means the attempt failed.
func (p *Processor) Process(ctx context.Context, item model.QueueItem) (Outcome, error) {
	var (
		pay payment
		err error
	)
	switch item.WebhookType {
	case model.WebhookTypeFondy:
		pay, err = parseFondy(item.Payload)
	case model.WebhookTypePaddle:
		pay, err = parsePaddle(item.Payload)
	default:
		return "", fmt.Errorf("%w: unknown webhook type %q", ErrInvalidPayload, item.WebhookType)
	}
	if err != nil {
		return "", err
	}

	log := p.log.With(
		zap.String("queue_item_id", item.ID),
		zap.String("provider", pay.Provider.String()),
		zap.String("order_id", pay.OrderID),
	)

	if !pay.Paid {
		log.Info("payment not successful, nothing to replay", zap.String("status", pay.Status))
		return OutcomeNotYetSuccessful, nil
	}

	md, err := parseMerchantData(pay.Merchant)
	if err != nil {
		return "", err
	}

	existing, err := p.ledger.FindSuccessEvent(ctx, pay.Provider, pay.OrderID)
	if err != nil {
		return "", fmt.Errorf("%w: find success event: %w", ErrDownstream, err)
	}
	if existing != nil {
		log.Info("payment already processed", zap.Int64("event_id", existing.ID))
		return OutcomeAlreadyProcessed, nil
	}

	switch md.ProductType {
	case model.ProductSubscription:
		if md.PlanCode == "" {
			return "", fmt.Errorf("%w: subscription without planCode", ErrInvalidMerchantData)
		}
	case model.ProductOneTime:
		if !pay.HasAmount {
			return "", fmt.Errorf("%w: one-time payment without amount", ErrInvalidPayload)
		}
	}

	meta, err := json.Marshal(eventMetadata{
		Source:      retrySource,
		QueueItemID: item.ID,
		Attempt:     item.AttemptCount + 1,
		ProductType: md.ProductType,
		PlanCode:    md.PlanCode,
	})
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %v", ErrInvalidPayload, err)
	}

	event := model.PaymentEvent{
		ProviderOrderID:   pay.OrderID,
		ProviderPaymentID: pay.PaymentID,
		PaymentProvider:   pay.Provider,
		EventType:         pay.EventType,
		Amount:            pay.Amount,
		Currency:          pay.Currency,
		Status:            model.PaymentSuccess,
		Metadata:          meta,
		UserID:            md.UserID,
	}

	err = p.ledger.InTx(ctx, func(l repository.Ledger) error {
		// the unique success key is hit before any grant is written
		if err := l.InsertEvent(ctx, event); err != nil {
			return err
		}
		return p.grant(ctx, l, pay, md)
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicateEvent):
		log.Info("concurrent run recorded the payment first")
		return OutcomeAlreadyProcessed, nil
	case errors.Is(err, repository.ErrUnknownPlan):
		return "", fmt.Errorf("%w: %w", ErrInvalidMerchantData, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrDownstream, err)
	}

	log.Info("payment replayed",
		zap.String("user_id", md.UserID),
		zap.String("product_type", string(md.ProductType)),
		zap.String("amount", pay.Amount.String()),
	)
	return OutcomeApplied, nil
}

func (p *Processor) grant(ctx context.Context, l repository.Ledger, pay payment, md model.MerchantData) error {
	if md.ProductType == model.ProductSubscription {
		return l.CreateOrRenewSubscription(ctx, model.SubscriptionGrant{
			UserID:                 md.UserID,
			PlanCode:               md.PlanCode,
			Provider:               pay.Provider,
			ProviderSubscriptionID: pay.SubscriptionID,
			ProviderCustomerID:     pay.CustomerID,
		})
	}

	analyses := p.oneTimeAnalyses
	if md.Analyses > 0 {
		analyses = md.Analyses
	}
	return l.RecordPurchase(ctx, model.PurchaseGrant{
		UserID:           md.UserID,
		PaymentReference: pay.Provider.String() + ":" + pay.OrderID,
		Amount:           pay.Amount,
		AnalysesGranted:  analyses,
	})
}
