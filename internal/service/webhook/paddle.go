package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmehdipour/cvpay/internal/model"
)

var paddlePaid = map[string]bool{"completed": true, "paid": true}

type paddleNotification struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string          `json:"id"`
		Status         string          `json:"status"`
		SubscriptionID string          `json:"subscription_id"`
		CustomerID     string          `json:"customer_id"`
		CurrencyCode   string          `json:"currency_code"`
		CustomData     json.RawMessage `json:"custom_data"`
		Details        struct {
			Totals struct {
				GrandTotal flexString `json:"grand_total"`
				Total      flexString `json:"total"`
			} `json:"totals"`
		} `json:"details"`
	} `json:"data"`
}

func parsePaddle(body []byte) (payment, error) {
	var n paddleNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return payment{}, fmt.Errorf("%w: paddle: %v", ErrInvalidPayload, err)
	}
	d := n.Data
	if strings.TrimSpace(d.ID) == "" {
		return payment{}, fmt.Errorf("%w: paddle: missing data.id", ErrInvalidPayload)
	}
	if isEmptyJSON(d.CustomData) {
		return payment{}, fmt.Errorf("%w: paddle: missing data.custom_data", ErrInvalidPayload)
	}

	p := payment{
		Provider:       model.ProviderPaddle,
		OrderID:        d.ID,
		PaymentID:      n.EventID,
		EventType:      n.EventType,
		Status:         d.Status,
		Paid:           paddlePaid[strings.ToLower(d.Status)],
		Currency:       d.CurrencyCode,
		SubscriptionID: d.SubscriptionID,
		CustomerID:     d.CustomerID,
		Merchant:       d.CustomData,
	}
	if p.PaymentID == "" {
		p.PaymentID = d.ID
	}
	if p.EventType == "" {
		p.EventType = "transaction." + strings.ToLower(d.Status)
	}
	if p.SubscriptionID == "" {
		p.SubscriptionID = d.ID
	}

	amt, ok, err := minorToMajor(d.Details.Totals.GrandTotal)
	if err != nil {
		return payment{}, err
	}
	if !ok {
		if amt, ok, err = minorToMajor(d.Details.Totals.Total); err != nil {
			return payment{}, err
		}
	}
	p.Amount, p.HasAmount = amt, ok
	return p, nil
}
