package subscription

import "errors"

var (
	ErrUnknownPlan    = errors.New("unknown plan")
	ErrNotSubscribed  = errors.New("no subscription found")
	ErrMissingPayment = errors.New("activation requires a payment")
)
