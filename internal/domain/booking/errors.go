package booking

import "errors"

var (
	ErrNotFound          = errors.New("booking not found")
	ErrAssetNotFound     = errors.New("asset not found")
	ErrNotForRent        = errors.New("asset is not available for rent")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrTooShort          = errors.New("booking is shorter than the minimum hire period")
	ErrConflict          = errors.New("asset is already booked for these dates")
	ErrOwnAsset          = errors.New("cannot book your own asset")
	ErrForbidden         = errors.New("not allowed to manage this booking")
	ErrInvalidTransition = errors.New("booking cannot change to that status")
	ErrNotPayable        = errors.New("booking is not awaiting payment")
	ErrPaymentInProgress = errors.New("a payment for this booking is already in progress")
)
