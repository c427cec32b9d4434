package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newB2CServer(t *testing.T, body string, got *b2cRequest) *httptest.Server {
	t.Helper()
	fake := &fakeDaraja{}
	mux := http.NewServeMux()
	mux.Handle("/oauth/v1/generate", fake.handler(t))
	mux.HandleFunc(b2cPath, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode b2c: %v", err)
		}
		_, _ = w.Write([]byte(body))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newB2CClient(url string) *Client {
	c := newTestClient(url, time.Second)
	c.cfg.InitiatorName = "testapi"
	c.cfg.SecurityCredential = "cred"
	c.cfg.B2CShortCode = "600000"
	c.cfg.B2CResultURL = "https://example.com/api/v1/webhooks/mpesa/b2c/result"
	c.cfg.B2CTimeoutURL = "https://example.com/api/v1/webhooks/mpesa/b2c/timeout"
	return c
}

func TestDisburse(t *testing.T) {
	var got b2cRequest
	server := newB2CServer(t, `{"ConversationID":"AG_20191219_00005797af5d7d75f652","OriginatorConversationID":"16740-34861180-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`, &got)
	c := newB2CClient(server.URL)

	resp, err := c.Disburse(context.Background(), DisbursementRequest{
		OriginatorConversationID: "7d2c1b7e-5a61-4f7e-9a0e-2f1c3b4d5e6f",
		Phone:                    "0712345678",
		Amount:                   decimal.NewFromInt(3000),
		Remarks:                  "Wallet payout",
		Occasion:                 "payout-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ConversationID != "AG_20191219_00005797af5d7d75f652" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.PartyB != "254712345678" || got.PartyA != "600000" || got.Amount != 3000 || got.CommandID != commandBusinessPayment {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.OriginatorConversationID != "7d2c1b7e-5a61-4f7e-9a0e-2f1c3b4d5e6f" {
		t.Fatalf("originator id not sent: %+v", got)
	}
}

func TestDisburseRejected(t *testing.T) {
	var got b2cRequest
	server := newB2CServer(t, `{"ResponseCode":"1","ResponseDescription":"Insufficient funds in the utility account"}`, &got)

	_, err := newB2CClient(server.URL).Disburse(context.Background(), DisbursementRequest{OriginatorConversationID: "o-1", Phone: "254712345678", Amount: decimal.NewFromInt(500)})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != "1" {
		t.Fatalf("expected gateway error with code 1, got %v", err)
	}
}

func TestDisburseNotConfigured(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", time.Second)
	if c.B2CEnabled() {
		t.Fatal("B2C should be disabled without initiator")
	}
	_, err := c.Disburse(context.Background(), DisbursementRequest{Phone: "254712345678", Amount: decimal.NewFromInt(500)})
	if !IsGatewayError(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestDisburseRequiresOriginatorID(t *testing.T) {
	c := newB2CClient("http://127.0.0.1:0")
	_, err := c.Disburse(context.Background(), DisbursementRequest{Phone: "254712345678", Amount: decimal.NewFromInt(500)})
	if !IsGatewayError(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestDisburseRejectsCents(t *testing.T) {
	c := newB2CClient("http://127.0.0.1:0")
	if _, err := c.Disburse(context.Background(), DisbursementRequest{Phone: "254712345678", Amount: decimal.RequireFromString("500.50")}); err == nil {
		t.Fatal("expected error for fractional amount")
	}
}

func TestParseB2CResult(t *testing.T) {
	body := `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"16740-34861180-1","ConversationID":"AG_20191219_00005797af5d7d75f652","TransactionID":"NLJ41HAY6Q"}}`
	res, err := ParseB2CResult(strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() || res.TransactionID != "NLJ41HAY6Q" {
		t.Fatalf("unexpected result: %+v", res)
	}

	failed, err := ParseB2CResult(strings.NewReader(`{"Result":{"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","ConversationID":"AG_1"}}`))
	if err != nil || failed.Succeeded() {
		t.Fatalf("expected failed result, got %+v, %v", failed, err)
	}

	for _, bad := range []string{`{}`, `not json`, `{"Result":{"ResultCode":"x","ConversationID":"AG_1"}}`} {
		if _, err := ParseB2CResult(strings.NewReader(bad)); !errors.Is(err, ErrMalformedCallback) {
			t.Errorf("ParseB2CResult(%s) err = %v", bad, err)
		}
	}
}
