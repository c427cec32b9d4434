package payout

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/notify"
)

type fakeLedger struct {
	debits   []wallet.DebitInput
	restores []wallet.DebitInput
	err      error
}

func (f *fakeLedger) DebitTx(_ context.Context, _ *sqlx.Tx, in wallet.DebitInput) (*wallet.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.debits = append(f.debits, in)
	return &wallet.Entry{UserID: in.UserID, Amount: in.Amount.Neg(), Kind: wallet.EntryDebit}, nil
}

func (f *fakeLedger) RestoreTx(_ context.Context, _ *sqlx.Tx, in wallet.DebitInput) (*wallet.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.restores = append(f.restores, in)
	return &wallet.Entry{UserID: in.UserID, Amount: in.Amount, Kind: wallet.EntryCredit}, nil
}

type fakeDisburser struct {
	mu       sync.Mutex
	requests []mpesa.DisbursementRequest
	err      error
	// beforeReturn runs while the request is still in flight
	beforeReturn func(req mpesa.DisbursementRequest)
}

func (f *fakeDisburser) Disburse(_ context.Context, req mpesa.DisbursementRequest) (*mpesa.DisbursementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.beforeReturn != nil {
		f.beforeReturn(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mpesa.DisbursementResponse{
		ConversationID:      "AG_20191219_00005797af5d7d75f652",
		ResponseCode:        "0",
		ResponseDescription: "Accept the service request successfully.",
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(msgs ...notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msgs...)
}

type fixture struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	ledger    *fakeLedger
	disburser *fakeDisburser
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := sqlx.NewDb(raw, "postgres")
	f := &fixture{mock: mock, ledger: &fakeLedger{}, disburser: &fakeDisburser{}, notifier: &recordingNotifier{}}
	f.svc = NewService(db, NewRepository(db), f.ledger, f.disburser, f.notifier, decimal.NewFromInt(500))
	return f
}

var payoutRowColumns = []string{
	"id", "user_id", "amount", "phone", "status", "disbursement_status", "originator_conversation_id", "conversation_id",
	"transaction_id", "result_desc", "admin_note", "reviewed_by", "created_at", "processed_at", "updated_at",
}

func payoutRow(p *Payout) *sqlmock.Rows {
	ds := p.DisbursementStatus
	if ds == "" {
		ds = DisbursementNone
	}
	var originator, conversation interface{}
	if p.OriginatorConversationID.Valid {
		originator = p.OriginatorConversationID.String
	}
	if p.ConversationID.Valid {
		conversation = p.ConversationID.String
	}
	return sqlmock.NewRows(payoutRowColumns).AddRow(
		p.ID.String(), p.UserID.String(), p.Amount.String(), p.Phone, string(p.Status), string(ds),
		originator, conversation, nil, p.ResultDesc, p.AdminNote, nil, time.Now(), nil, time.Now(),
	)
}

func pendingPayout() *Payout {
	return &Payout{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(2000),
		Phone:  "254712345678",
		Status: StatusPending,
	}
}

func TestRequest(t *testing.T) {
	f := newFixture(t)
	userID, payoutID := uuid.New(), uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO payouts").
		WithArgs(userID, "1500", "254712345678", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "disbursement_status", "created_at", "updated_at"}).
			AddRow(payoutID.String(), "NONE", time.Now(), time.Now()))
	f.mock.ExpectCommit()

	p, err := f.svc.Request(context.Background(), userID, decimal.NewFromInt(1500), "0712345678")
	require.NoError(t, err)

	assert.Equal(t, payoutID, p.ID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, DisbursementNone, p.DisbursementStatus)
	require.Len(t, f.ledger.debits, 1)
	d := f.ledger.debits[0]
	assert.Equal(t, "payout:"+payoutID.String()+":reserve", d.Key)
	assert.Equal(t, "Payout Request", d.Description)
	assert.Equal(t, "Pending Approval", d.Reference)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(1500)))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRequest_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	f.ledger.err = wallet.ErrInsufficientFunds

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO payouts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "disbursement_status", "created_at", "updated_at"}).
			AddRow(uuid.NewString(), "NONE", time.Now(), time.Now()))
	f.mock.ExpectRollback()

	_, err := f.svc.Request(context.Background(), uuid.New(), decimal.NewFromInt(9000), "0712345678")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRequest_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Request(context.Background(), uuid.New(), decimal.NewFromInt(499), "0712345678")
	assert.ErrorIs(t, err, ErrBelowMinimum)
	assert.Contains(t, err.Error(), "KES 500.00")

	_, err = f.svc.Request(context.Background(), uuid.New(), decimal.RequireFromString("600.005"), "0712345678")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.Request(context.Background(), uuid.New(), decimal.NewFromInt(600), "0812")
	assert.ErrorIs(t, err, mpesa.ErrInvalidPhone)

	assert.Empty(t, f.ledger.debits)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func expectReview(mock sqlmock.Sqlmock, p *Payout, adminID uuid.UUID, to Status, note string) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM payouts WHERE id = .+ FOR UPDATE").
		WithArgs(p.ID).
		WillReturnRows(payoutRow(p))
	mock.ExpectExec("UPDATE payouts SET status").
		WithArgs(p.ID, string(to), adminID, note).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectSubmitting(mock sqlmock.Sqlmock, p *Payout) {
	mock.ExpectExec("UPDATE payouts SET disbursement_status = 'SUBMITTING', originator_conversation_id = .+ WHERE id = .+").
		WithArgs(p.ID, "payout-"+p.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func submissionResult(status DisbursementStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"disbursement_status"}).AddRow(string(status))
}

func TestApprove_SubmitsDisbursement(t *testing.T) {
	f := newFixture(t)
	p, adminID := pendingPayout(), uuid.New()

	expectReview(f.mock, p, adminID, StatusProcessed, "")
	expectSubmitting(f.mock, p)
	f.mock.ExpectCommit()
	f.mock.ExpectQuery("UPDATE payouts SET conversation_id = COALESCE.+ WHERE id = .+ RETURNING disbursement_status").
		WithArgs(p.ID, "SUBMITTED", "AG_20191219_00005797af5d7d75f652", "Accept the service request successfully.").
		WillReturnRows(submissionResult(DisbursementSubmitted))

	got, err := f.svc.Approve(context.Background(), adminID, p.ID)
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, StatusProcessed, got.Status)
	assert.Equal(t, DisbursementSubmitting, got.DisbursementStatus)
	require.Len(t, f.disburser.requests, 1)
	assert.Equal(t, "payout-"+p.ID.String(), f.disburser.requests[0].OriginatorConversationID)
	assert.Equal(t, "254712345678", f.disburser.requests[0].Phone)
	assert.True(t, f.disburser.requests[0].Amount.Equal(decimal.NewFromInt(2000)))
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notify.KindPayoutProcessed, f.notifier.msgs[0].Kind)
	assert.Empty(t, f.ledger.restores)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestApprove_DisbursementFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.disburser.err = &mpesa.GatewayError{Op: "b2c", StatusCode: 500, Message: "The initiator information is invalid."}
	p, adminID := pendingPayout(), uuid.New()

	expectReview(f.mock, p, adminID, StatusProcessed, "")
	expectSubmitting(f.mock, p)
	f.mock.ExpectCommit()
	f.mock.ExpectQuery("UPDATE payouts SET conversation_id").
		WithArgs(p.ID, "FAILED", nil, sqlmock.AnyArg()).
		WillReturnRows(submissionResult(DisbursementFailed))

	_, err := f.svc.Approve(context.Background(), adminID, p.ID)
	require.NoError(t, err)
	f.svc.Close()

	assert.Empty(t, f.ledger.restores)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestApprove_ResultBeforeSubmissionIsKept(t *testing.T) {
	f := newFixture(t)
	p, adminID := pendingPayout(), uuid.New()
	originator := "payout-" + p.ID.String()

	expectReview(f.mock, p, adminID, StatusProcessed, "")
	expectSubmitting(f.mock, p)
	f.mock.ExpectCommit()

	done := *p
	done.Status = StatusProcessed
	done.DisbursementStatus = DisbursementSucceeded
	done.OriginatorConversationID = sql.NullString{String: originator, Valid: true}
	done.ConversationID = sql.NullString{String: "AG_20191219_00005797af5d7d75f652", Valid: true}
	f.mock.ExpectQuery("UPDATE payouts SET disbursement_status").
		WithArgs(originator, "AG_20191219_00005797af5d7d75f652", "SUCCEEDED", "NLJ41HAY6Q", sqlmock.AnyArg()).
		WillReturnRows(payoutRow(&done))
	f.mock.ExpectQuery("UPDATE payouts SET conversation_id").
		WithArgs(p.ID, "SUBMITTED", "AG_20191219_00005797af5d7d75f652", sqlmock.AnyArg()).
		WillReturnRows(submissionResult(DisbursementSucceeded))

	var applied bool
	var resultErr error
	f.disburser.beforeReturn = func(req mpesa.DisbursementRequest) {
		applied, resultErr = f.svc.RecordDisbursementResult(context.Background(), &mpesa.B2CResult{
			ResultCode:               0,
			ResultDesc:               "The service request is processed successfully.",
			OriginatorConversationID: req.OriginatorConversationID,
			ConversationID:           "AG_20191219_00005797af5d7d75f652",
			TransactionID:            "NLJ41HAY6Q",
		})
	}

	_, err := f.svc.Approve(context.Background(), adminID, p.ID)
	require.NoError(t, err)
	f.svc.Close()

	require.NoError(t, resultErr)
	assert.True(t, applied)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestApprove_AlreadyReviewed(t *testing.T) {
	f := newFixture(t)
	p := pendingPayout()
	p.Status = StatusRejected

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FROM payouts WHERE id = .+ FOR UPDATE").WillReturnRows(payoutRow(p))
	f.mock.ExpectRollback()

	_, err := f.svc.Approve(context.Background(), uuid.New(), p.ID)
	assert.ErrorIs(t, err, ErrNotPending)
	f.svc.Close()
	assert.Empty(t, f.disburser.requests)
	assert.Empty(t, f.notifier.msgs)
}

func TestReject_RestoresBalance(t *testing.T) {
	f := newFixture(t)
	p, adminID := pendingPayout(), uuid.New()

	expectReview(f.mock, p, adminID, StatusRejected, "Number not registered")
	f.mock.ExpectCommit()

	got, err := f.svc.Reject(context.Background(), adminID, p.ID, "Number not registered")
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, got.Status)
	require.Len(t, f.ledger.restores, 1)
	r := f.ledger.restores[0]
	assert.Equal(t, p.UserID, r.UserID)
	assert.True(t, r.Amount.Equal(p.Amount))
	assert.Equal(t, "payout reversed", r.Reference)
	assert.Equal(t, "payout:"+p.ID.String()+":reverse", r.Key)
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notify.KindPayoutRejected, f.notifier.msgs[0].Kind)
	assert.Empty(t, f.disburser.requests)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReject_RestoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.ledger.err = errors.New("deadlock detected")
	p, adminID := pendingPayout(), uuid.New()

	expectReview(f.mock, p, adminID, StatusRejected, "")
	f.mock.ExpectRollback()

	_, err := f.svc.Reject(context.Background(), adminID, p.ID, "")
	require.Error(t, err)
	assert.Empty(t, f.notifier.msgs)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecordDisbursementResult(t *testing.T) {
	f := newFixture(t)
	p := pendingPayout()
	p.Status = StatusProcessed
	p.DisbursementStatus = DisbursementSucceeded
	p.ConversationID = sql.NullString{String: "AG_1", Valid: true}
	res := &mpesa.B2CResult{
		ResultCode:               0,
		ResultDesc:               "The service request is processed successfully.",
		OriginatorConversationID: "payout-" + p.ID.String(),
		ConversationID:           "AG_1",
		TransactionID:            "NLJ41HAY6Q",
	}

	f.mock.ExpectQuery("UPDATE payouts SET disbursement_status .+ WHERE \\(originator_conversation_id = .+ OR conversation_id = .+\\)").
		WithArgs(res.OriginatorConversationID, "AG_1", "SUCCEEDED", "NLJ41HAY6Q", res.ResultDesc).
		WillReturnRows(payoutRow(p))
	applied, err := f.svc.RecordDisbursementResult(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, applied)

	f.mock.ExpectQuery("UPDATE payouts SET disbursement_status").WillReturnRows(sqlmock.NewRows(payoutRowColumns))
	f.mock.ExpectQuery("SELECT EXISTS").WithArgs(res.OriginatorConversationID, "AG_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	applied, err = f.svc.RecordDisbursementResult(context.Background(), res)
	require.NoError(t, err)
	assert.False(t, applied)

	f.mock.ExpectQuery("UPDATE payouts SET disbursement_status").WillReturnRows(sqlmock.NewRows(payoutRowColumns))
	f.mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = f.svc.RecordDisbursementResult(context.Background(), &mpesa.B2CResult{ResultCode: 2001, ConversationID: "AG_404"})
	assert.ErrorIs(t, err, ErrUnknownConversation)

	require.NoError(t, f.mock.ExpectationsWereMet())
}
