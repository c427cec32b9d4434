package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
)

const commandBusinessPayment = "BusinessPayment"

// DisbursementRequest sends money from the business to a customer wallet.
type DisbursementRequest struct {
	// OriginatorConversationID is echoed on the result callback
	OriginatorConversationID string
	Phone                    string
	Amount                   decimal.Decimal
	Remarks                  string
	Occasion                 string
}

// DisbursementResponse is the synchronous acknowledgement; the final result
// arrives later on the B2C result URL.
type DisbursementResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occassion"`
}

// B2CEnabled reports whether disbursement credentials are configured
func (c *Client) B2CEnabled() bool {
	return c.cfg.InitiatorName != "" && c.cfg.B2CShortCode != ""
}

// Disburse submits a B2C BusinessPayment.
func (c *Client) Disburse(ctx context.Context, req DisbursementRequest) (*DisbursementResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	amount, err := wholeShillings(req.Amount)
	if err != nil {
		return nil, err
	}
	if !c.B2CEnabled() {
		return nil, &GatewayError{Op: "b2c", Message: "b2c initiator is not configured"}
	}
	if req.OriginatorConversationID == "" {
		return nil, &GatewayError{Op: "b2c", Message: "missing OriginatorConversationID"}
	}

	payload := b2cRequest{
		OriginatorConversationID: req.OriginatorConversationID,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.cfg.SecurityCredential,
		CommandID:                commandBusinessPayment,
		Amount:                   amount,
		PartyA:                   c.cfg.B2CShortCode,
		PartyB:                   phone,
		Remarks:                  truncate(req.Remarks, 100),
		QueueTimeOutURL:          c.cfg.B2CTimeoutURL,
		ResultURL:                c.cfg.B2CResultURL,
		Occasion:                 truncate(req.Occasion, 100),
	}

	var out DisbursementResponse
	if err := c.postJSON(ctx, "b2c", b2cPath, payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, &GatewayError{Op: "b2c", StatusCode: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	return &out, nil
}

// B2CResult is the asynchronous outcome of a disbursement.
type B2CResult struct {
	ResultCode               int
	ResultDesc               string
	OriginatorConversationID string
	ConversationID           string
	TransactionID            string
}

// Succeeded reports whether the money left the business account.
func (r *B2CResult) Succeeded() bool {
	return r.ResultCode == 0
}

type b2cEnvelope struct {
	Result *struct {
		ResultType               json.Number `json:"ResultType"`
		ResultCode               json.Number `json:"ResultCode"`
		ResultDesc               string      `json:"ResultDesc"`
		OriginatorConversationID string      `json:"OriginatorConversationID"`
		ConversationID           string      `json:"ConversationID"`
		TransactionID            string      `json:"TransactionID"`
	} `json:"Result"`
}

// ParseB2CResult decodes the body posted to the B2C result or timeout URL.
func ParseB2CResult(r io.Reader) (*B2CResult, error) {
	var env b2cEnvelope
	if err := json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if env.Result == nil || env.Result.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing ConversationID", ErrMalformedCallback)
	}
	code, err := strconv.Atoi(env.Result.ResultCode.String())
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode %q", ErrMalformedCallback, env.Result.ResultCode)
	}
	return &B2CResult{
		ResultCode:               code,
		ResultDesc:               env.Result.ResultDesc,
		OriginatorConversationID: env.Result.OriginatorConversationID,
		ConversationID:           env.Result.ConversationID,
		TransactionID:            env.Result.TransactionID,
	}, nil
}
