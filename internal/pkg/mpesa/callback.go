package mpesa

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ResultCancelledByUser is the ResultCode sent when the payer dismisses the prompt.
const ResultCancelledByUser = 1032

// CallbackItem is one Name/Value pair of CallbackMetadata.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

type stkCallback struct {
	MerchantRequestID string      `json:"MerchantRequestID"`
	CheckoutRequestID string      `json:"CheckoutRequestID"`
	ResultCode        json.Number `json:"ResultCode"`
	ResultDesc        string      `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is a decoded STK push notification.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            decimal.Decimal
	Phone             string
	TransactionDate   time.Time
}

// Succeeded reports whether the payer completed the payment.
func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}

// ParseCallback decodes the body Daraja posts to CallBackURL.
func ParseCallback(r io.Reader) (*CallbackResult, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxResponseBytes))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	code, err := strconv.Atoi(cb.ResultCode.String())
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode %q", ErrMalformedCallback, cb.ResultCode)
	}

	res := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return res, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		value := itemString(item.Value)
		switch item.Name {
		case "MpesaReceiptNumber":
			res.Receipt = value
		case "Amount":
			if d, err := decimal.NewFromString(value); err == nil {
				res.Amount = d
			}
		case "PhoneNumber":
			res.Phone = value
		case "TransactionDate":
			if t, ok := parseTimestamp(value); ok {
				res.TransactionDate = t
			}
		}
	}
	return res, nil
}

func itemString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
