package webhook

import "errors"

// Outcome of a successfully handled queue item.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeNotYetSuccessful Outcome = "not_yet_successful"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

func (o Outcome) String() string { return string(o) }

var (
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidMerchantData = errors.New("invalid_merchant_data")
	ErrDownstream          = errors.New("downstream_error")
)

// Kind maps an error returned by Process to its short class name.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPayload):
		return ErrInvalidPayload.Error()
	case errors.Is(err, ErrInvalidMerchantData):
		return ErrInvalidMerchantData.Error()
	default:
		return ErrDownstream.Error()
	}
}
