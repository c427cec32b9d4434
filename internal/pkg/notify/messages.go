package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/pkg/money"
)

// withReceipt appends the receipt number when the gateway reported one.
// Payments settled from a status query carry none.
func withReceipt(text, receipt string) string {
	if receipt == "" {
		return text
	}
	return text + " Receipt: " + receipt
}

func PlanActivated(userID, phone, receipt string) Message {
	return Message{
		Kind:      KindPlanActivated,
		UserID:    userID,
		Phone:     phone,
		Text:      withReceipt("Plan Active!", receipt),
		Reference: receipt,
	}
}

func BookingConfirmed(userID, phone, receipt string) Message {
	return Message{
		Kind:      KindBookingConfirmed,
		UserID:    userID,
		Phone:     phone,
		Text:      withReceipt("Booking Confirmed!", receipt),
		Reference: receipt,
	}
}

// OwnerCredited tells an asset owner about the net share of a booking payment.
func OwnerCredited(userID, phone, reference string, net, balance decimal.Decimal) Message {
	return Message{
		Kind:      KindOwnerCredited,
		UserID:    userID,
		Phone:     phone,
		Text:      fmt.Sprintf("You earned KES %s from a new booking! Wallet Bal: KES %s", money.Format(net), money.Format(balance)),
		Reference: reference,
	}
}

func PayoutProcessed(userID, phone, reference string, amount decimal.Decimal) Message {
	return Message{
		Kind:      KindPayoutProcessed,
		UserID:    userID,
		Phone:     phone,
		Text:      fmt.Sprintf("Your payout of KES %s has been approved and is on its way to M-Pesa.", money.Format(amount)),
		Reference: reference,
	}
}

func PayoutRejected(userID, phone, reference string, amount decimal.Decimal) Message {
	return Message{
		Kind:      KindPayoutRejected,
		UserID:    userID,
		Phone:     phone,
		Text:      fmt.Sprintf("Your payout of KES %s was declined. The amount is back in your wallet.", money.Format(amount)),
		Reference: reference,
	}
}
