package payout

import "errors"

var (
	ErrNotFound            = errors.New("payout not found")
	ErrBelowMinimum        = errors.New("amount is below the minimum payout")
	ErrInvalidAmount       = errors.New("invalid payout amount")
	ErrNotPending          = errors.New("payout has already been reviewed")
	ErrUnknownConversation = errors.New("no payout for conversation id")
)
