package payment

import "errors"

var (
	ErrNotFound       = errors.New("payment not found")
	ErrUnknownPlan    = errors.New("unknown plan")
	ErrInvalidTarget  = errors.New("invalid payment target")
	ErrPushInProgress = errors.New("a payment request was just sent to this phone")
	ErrNotOwner       = errors.New("payment belongs to another user")

	// ErrSettlementAnomaly marks a successful payment whose settlement could
	// not be applied. The payment still becomes SUCCESS and is flagged for
	// review.
	ErrSettlementAnomaly = errors.New("settlement anomaly")
)

// AnomalyError is a settlement failure caused by inconsistent data rather than
// by the infrastructure. Kind labels it for metrics and logs.
type AnomalyError struct {
	Kind string
	Err  error
}

func (e *AnomalyError) Error() string {
	return "settlement anomaly (" + e.Kind + "): " + e.Err.Error()
}

func (e *AnomalyError) Unwrap() error { return e.Err }

func (e *AnomalyError) Is(target error) bool { return target == ErrSettlementAnomaly }
