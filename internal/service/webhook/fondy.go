package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmehdipour/cvpay/internal/model"
)

const fondyApproved = "approved"

type fondyCallback struct {
	OrderID        string          `json:"order_id"`
	ParentOrderID  string          `json:"parent_order_id"`
	OrderStatus    string          `json:"order_status"`
	PaymentID      flexString      `json:"payment_id"`
	Amount         flexString      `json:"amount"`
	ActualAmount   flexString      `json:"actual_amount"`
	Currency       string          `json:"currency"`
	ActualCurrency string          `json:"actual_currency"`
	SenderEmail    string          `json:"sender_email"`
	MerchantData   json.RawMessage `json:"merchant_data"`
}

func parseFondy(body []byte) (payment, error) {
	var cb fondyCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return payment{}, fmt.Errorf("%w: fondy: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(cb.OrderID) == "" {
		return payment{}, fmt.Errorf("%w: fondy: missing order_id", ErrInvalidPayload)
	}
	if isEmptyJSON(cb.MerchantData) {
		return payment{}, fmt.Errorf("%w: fondy: missing merchant_data", ErrInvalidPayload)
	}

	// recurring charges carry the first order as parent_order_id, which is
	// the subscription's stable id
	subID := strings.TrimSpace(cb.ParentOrderID)
	if subID == "" {
		subID = cb.OrderID
	}

	p := payment{
		Provider:       model.ProviderFondy,
		OrderID:        cb.OrderID,
		PaymentID:      string(cb.PaymentID),
		EventType:      "order." + strings.ToLower(cb.OrderStatus),
		Status:         cb.OrderStatus,
		Paid:           strings.EqualFold(cb.OrderStatus, fondyApproved),
		Currency:       cb.Currency,
		SubscriptionID: subID,
		CustomerID:     cb.SenderEmail,
		Merchant:       cb.MerchantData,
	}

	// settled amount wins over the requested one
	amt, ok, err := minorToMajor(cb.ActualAmount)
	if err != nil {
		return payment{}, err
	}
	if ok && cb.ActualCurrency != "" {
		p.Currency = cb.ActualCurrency
	}
	if !ok {
		if amt, ok, err = minorToMajor(cb.Amount); err != nil {
			return payment{}, err
		}
	}
	p.Amount, p.HasAmount = amt, ok
	return p, nil
}
