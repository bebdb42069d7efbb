package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/shopspring/decimal"
)

// payment is the provider independent view of a webhook body.
type payment struct {
	Provider       model.Provider
	OrderID        string
	PaymentID      string
	EventType      string
	Status         string
	Paid           bool
	Amount         decimal.Decimal
	HasAmount      bool
	Currency       string
	SubscriptionID string
	CustomerID     string
	Merchant       json.RawMessage
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// minorToMajor converts an integer amount in minor units ("1999") to major units.
func minorToMajor(s flexString) (decimal.Decimal, bool, error) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: bad amount %q", ErrInvalidPayload, v)
	}
	return d.Shift(-2), true, nil
}

// parseMerchantData accepts either a JSON object or a JSON string holding one.
func parseMerchantData(raw json.RawMessage) (model.MerchantData, error) {
	var md model.MerchantData
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return md, fmt.Errorf("%w: %v", ErrInvalidMerchantData, err)
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return md, fmt.Errorf("%w: %v", ErrInvalidMerchantData, err)
	}

	md.UserID = strings.TrimSpace(md.UserID)
	if md.UserID == "" {
		return md, fmt.Errorf("%w: missing userId", ErrInvalidMerchantData)
	}
	switch md.ProductType {
	case "":
		if md.PlanCode != "" {
			md.ProductType = model.ProductSubscription
		} else {
			md.ProductType = model.ProductOneTime
		}
	case model.ProductSubscription, model.ProductOneTime:
	default:
		return md, fmt.Errorf("%w: unknown productType %q", ErrInvalidMerchantData, md.ProductType)
	}
	if md.Analyses < 0 {
		return md, fmt.Errorf("%w: negative analyses", ErrInvalidMerchantData)
	}
	return md, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`))
}
