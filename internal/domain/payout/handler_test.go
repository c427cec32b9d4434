package payout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/jwt"
)

func dealerRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithIdentity(req.Context(), uuid.New(), jwt.RoleDealer))
}

func TestRequestHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ledgerErr error
		status    int
		want      string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
		{"bad amount", `{"amount":"abc","phone_number":"0712345678"}`, nil, http.StatusUnprocessableEntity, "amount"},
		{"below minimum", `{"amount":"100","phone_number":"0712345678"}`, nil, http.StatusUnprocessableEntity, "Amount is below the minimum payout"},
		{"bad phone", `{"amount":"1000","phone_number":"123"}`, nil, http.StatusUnprocessableEntity, "phone_number"},
		{"insufficient", `{"amount":"1000","phone_number":"0712345678"}`, wallet.ErrInsufficientFunds, http.StatusConflict, "Insufficient balance."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.err = tt.ledgerErr
			if tt.ledgerErr != nil {
				f.mock.ExpectBegin()
				f.mock.ExpectQuery("INSERT INTO payouts").
					WillReturnRows(sqlmock.NewRows([]string{"id", "disbursement_status", "created_at", "updated_at"}).
						AddRow(uuid.NewString(), "NONE", time.Now(), time.Now()))
				f.mock.ExpectRollback()
			}

			rr := httptest.NewRecorder()
			NewHandler(f.svc).Request(rr, dealerRequest(http.MethodPost, "/payouts", tt.body))

			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.want != "" {
				assert.Contains(t, rr.Body.String(), tt.want)
			}
		})
	}
}

func TestB2CResultAlwaysAcknowledged(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	rr := httptest.NewRecorder()
	h.B2CResult(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/b2c/result", strings.NewReader(`garbage`)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rr.Body.String())

	f.mock.ExpectQuery("UPDATE payouts SET disbursement_status").WillReturnRows(sqlmock.NewRows(payoutRowColumns))
	f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	body := `{"Result":{"ResultType":0,"ResultCode":2001,"ResultDesc":"The initiator information is invalid.",
		"OriginatorConversationID":"29112-34801843-1","ConversationID":"AG_404","TransactionID":"NLJ0000000"}}`
	rr = httptest.NewRecorder()
	h.B2CResult(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/b2c/result", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rr.Body.String())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAdminListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	NewHandler(f.svc).AdminList(rr, httptest.NewRequest(http.MethodGet, "/admin/payouts?status=LOST", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApproveHandler_NotFound(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FROM payouts WHERE id").WillReturnRows(sqlmock.NewRows(payoutRowColumns))
	f.mock.ExpectRollback()

	id := uuid.New()
	req := dealerRequest(http.MethodPost, "/admin/payouts/"+id.String()+"/approve", "")
	rctx := chiContext(req, id.String())
	rr := httptest.NewRecorder()
	NewHandler(f.svc).Approve(rr, rctx)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func chiContext(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
