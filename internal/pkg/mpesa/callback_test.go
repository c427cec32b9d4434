package mpesa

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 5000.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

const cancelledCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseCallbackSuccess(t *testing.T) {
	res, err := ParseCallback(strings.NewReader(successCallback))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, got code %d", res.ResultCode)
	}
	if res.Receipt != "NLJ7RT61SV" {
		t.Errorf("Receipt = %q", res.Receipt)
	}
	if res.Amount.String() != "5000" {
		t.Errorf("Amount = %s", res.Amount)
	}
	if res.Phone != "254712345678" {
		t.Errorf("Phone = %q", res.Phone)
	}
	want := time.Date(2019, 12, 19, 10, 21, 15, 0, eat)
	if !res.TransactionDate.Equal(want) {
		t.Errorf("TransactionDate = %s", res.TransactionDate)
	}
}

func TestParseCallbackFailure(t *testing.T) {
	res, err := ParseCallback(strings.NewReader(cancelledCallback))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Succeeded() || res.ResultCode != ResultCancelledByUser {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ResultDesc != "Request cancelled by user" || res.Receipt != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseCallbackMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		if _, err := ParseCallback(strings.NewReader(body)); !errors.Is(err, ErrMalformedCallback) {
			t.Errorf("ParseCallback(%q) err = %v", body, err)
		}
	}
}

func TestParseB2CResultFromCallback(t *testing.T) {
	body := `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"10571-7910404-1","ConversationID":"AG_20191219_00004e48cf7e3533f581","TransactionID":"NLJ41HAY6Q"}}`

	res, err := ParseB2CResult(strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() || res.ConversationID != "AG_20191219_00004e48cf7e3533f581" || res.TransactionID != "NLJ41HAY6Q" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
