package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/cvpay/internal/kafka"
	"github.com/jmehdipour/cvpay/internal/model"
)

// DeadLetterNotifier is told about queue items that exhausted their attempts.
type DeadLetterNotifier interface {
	PermanentlyFailed(ctx context.Context, item model.QueueItem, lastErr string) error
}

type Nop struct{}

func (Nop) PermanentlyFailed(context.Context, model.QueueItem, string) error { return nil }

// DeadLetter is the JSON alert published for manual reconciliation.
type DeadLetter struct {
	ID          string            `json:"id"`
	WebhookType model.WebhookType `json:"webhook_type"`
	OrderID     string            `json:"order_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error"`
	FailedAt    time.Time         `json:"failed_at"`
}

type KafkaNotifier struct {
	p   *kafka.Producer
	now func() time.Time
}

func NewKafkaNotifier(p *kafka.Producer) *KafkaNotifier {
	return &KafkaNotifier{p: p, now: time.Now}
}

// PermanentlyFailed publishes keyed by order id (falls back to item id) so all
// alerts for an order land on one partition.
func (n *KafkaNotifier) PermanentlyFailed(ctx context.Context, item model.QueueItem, lastErr string) error {
	dl := DeadLetter{
		ID:          item.ID,
		WebhookType: item.WebhookType,
		Attempts:    item.AttemptCount + 1,
		LastError:   lastErr,
		FailedAt:    n.now().UTC(),
	}
	if item.OrderID != nil {
		dl.OrderID = *item.OrderID
	}
	if item.UserID != nil {
		dl.UserID = *item.UserID
	}

	b, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	key := dl.OrderID
	if key == "" {
		key = dl.ID
	}
	return n.p.Publish(ctx, key, b)
}
