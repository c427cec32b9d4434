// Package mpesa is a client for the Safaricom Daraja API: Lipa na M-Pesa
// Online (STK push), STK push status query and B2C disbursements.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second

	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
	b2cPath      = "/mpesa/b2c/v3/paymentrequest"

	TransactionPayBill   = "CustomerPayBillOnline"
	TransactionBuyGoods  = "CustomerBuyGoodsOnline"
	defaultTokenLifetime = 3599 * time.Second

	// errorCode Daraja returns from the query endpoint while the payer has
	// not yet answered the prompt.
	codeStillProcessing = "500.001.1001"

	maxResponseBytes = 1 << 20
)

// Config holds Daraja credentials and endpoints.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string // BusinessShortCode (store number for tills)
	PartyB          string // till number; defaults to ShortCode
	Passkey         string
	TransactionType string
	CallbackURL     string
	Timeout         time.Duration

	InitiatorName      string
	SecurityCredential string
	B2CShortCode       string
	B2CResultURL       string
	B2CTimeoutURL      string
}

// Client talks to Daraja. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenSource
	now    func() time.Time
}

// NewClient creates a Daraja client. A nil store keeps the token in memory.
func NewClient(cfg Config, store TokenStore) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = TransactionPayBill
	}
	if cfg.PartyB == "" {
		cfg.PartyB = cfg.ShortCode
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if store == nil {
		store = NewMemoryTokenStore()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		now:  time.Now,
	}
	c.tokens = &tokenSource{store: store, fetch: c.fetchToken}
	return c
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	const op = "token"
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", 0, &GatewayError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		observe(op, start, "error")
		return "", 0, classifyRequestError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		observe(op, start, "error")
		return "", 0, apiError(op, resp.StatusCode, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil || tr.AccessToken == "" {
		observe(op, start, "error")
		return "", 0, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "missing access_token", Err: err}
	}
	observe(op, start, "ok")

	lifetime := defaultTokenLifetime
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	return tr.AccessToken, lifetime, nil
}

// postJSON sends an authenticated request, refreshing the token once on 401.
func (c *Client) postJSON(ctx context.Context, op, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			observe(op, start, "error")
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			observe(op, start, "error")
			return classifyRequestError(ctx, op, err)
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(ctx)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observe(op, start, "error")
			return apiError(op, resp.StatusCode, raw)
		}
		if readErr != nil {
			observe(op, start, "error")
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: readErr}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			observe(op, start, "error")
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
		}
		observe(op, start, "ok")
		return nil
	}
}

type apiErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func apiError(op string, status int, raw []byte) *GatewayError {
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.ErrorCode == "" {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return &GatewayError{Op: op, StatusCode: status, Message: msg}
	}
	return &GatewayError{Op: op, StatusCode: status, Code: body.ErrorCode, Message: body.ErrorMessage}
}

func observe(op string, start time.Time, result string) {
	metrics.GatewayLatency.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// PushRequest asks the payer's handset to authorise a payment.
type PushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// PushResponse is Daraja's acknowledgement of an accepted push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPush sends a Lipa na M-Pesa Online request. Input problems are returned
// as ErrInvalidPhone / ErrInvalidAmount; everything else is a *GatewayError.
func (c *Client) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	amount, err := wholeShillings(req.Amount)
	if err != nil {
		return nil, err
	}

	password, timestamp := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.PartyB,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.AccountReference, 12),
		TransactionDesc:   truncate(req.Description, 13),
	}

	var out PushResponse
	if err := c.postJSON(ctx, "stk_push", stkPushPath, payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &GatewayError{Op: "stk_push", StatusCode: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	if out.CheckoutRequestID == "" {
		return nil, &GatewayError{Op: "stk_push", StatusCode: http.StatusOK, Message: "response without CheckoutRequestID"}
	}
	return &out, nil
}

// QueryResult is the gateway's view of an earlier push.
type QueryResult struct {
	CheckoutRequestID string
	Pending           bool
	ResultCode        int
	ResultDesc        string
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string      `json:"ResponseCode"`
	ResponseDescription string      `json:"ResponseDescription"`
	CheckoutRequestID   string      `json:"CheckoutRequestID"`
	ResultCode          json.Number `json:"ResultCode"`
	ResultDesc          string      `json:"ResultDesc"`
}

// QueryStatus asks Daraja for the outcome of a push. A push the payer has
// not answered yet is reported as Pending rather than as an error.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	password, timestamp := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	payload := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var out stkQueryResponse
	if err := c.postJSON(ctx, "stk_query", stkQueryPath, payload, &out); err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) && ge.Code == codeStillProcessing {
			return &QueryResult{CheckoutRequestID: checkoutRequestID, Pending: true}, nil
		}
		return nil, err
	}

	code, err := strconv.Atoi(out.ResultCode.String())
	if err != nil {
		return nil, &GatewayError{Op: "stk_query", StatusCode: http.StatusOK, Message: fmt.Sprintf("unexpected ResultCode %q", out.ResultCode)}
	}
	return &QueryResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        code,
		ResultDesc:        out.ResultDesc,
	}, nil
}

func wholeShillings(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() || !d.Equal(d.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	return d.IntPart(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
