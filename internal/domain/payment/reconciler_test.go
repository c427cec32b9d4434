package payment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buycars/buycars-api/internal/pkg/notify"
	"github.com/buycars/buycars-api/internal/pkg/realtime"
)

type fakeSettler struct {
	mu      sync.Mutex
	calls   int
	notices []notify.Message
	err     error
	write   func(ctx context.Context, tx *sqlx.Tx) error
}

func (s *fakeSettler) SettleTx(ctx context.Context, tx *sqlx.Tx, p *Payment) ([]notify.Message, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.write != nil {
		if err := s.write(ctx, tx); err != nil {
			return nil, err
		}
	}
	return s.notices, s.err
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	users  []uuid.UUID
}

func (p *recordingPublisher) Publish(userID uuid.UUID, event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	p.events = append(p.events, event)
}

type reconcilerFixture struct {
	rec      *Reconciler
	mock     sqlmock.Sqlmock
	settler  *fakeSettler
	notifier *recordingNotifier
	rt       *recordingPublisher
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := sqlx.NewDb(raw, "postgres")
	f := &reconcilerFixture{
		mock:     mock,
		settler:  &fakeSettler{},
		notifier: &recordingNotifier{},
		rt:       &recordingPublisher{},
	}
	f.rec = NewReconciler(db, NewRepository(db), f.settler, f.notifier, f.rt)
	return f
}

func settledPayment(status Status, description string) *Payment {
	return &Payment{
		UserID:            uuid.New(),
		CheckoutRequestID: "ws_CO_1",
		Phone:             "254712345678",
		Amount:            decimal.NewFromInt(5000),
		Status:            status,
		Description:       description,
		Receipt:           sql.NullString{String: "NLJ7RT61SV", Valid: status == StatusSuccess},
	}
}

func successResult() Result {
	return Result{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Receipt:           "NLJ7RT61SV",
		Amount:            decimal.NewFromInt(5000),
	}
}

func TestReconcile_AppliesSuccess(t *testing.T) {
	f := newReconcilerFixture(t)
	p := settledPayment(StatusSuccess, DescriptionConfirmed)
	f.settler.notices = []notify.Message{notify.PlanActivated(p.UserID.String(), p.Phone, "NLJ7RT61SV")}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status = .+ WHERE checkout_request_id = .+ AND status = 'PENDING'").
		WithArgs("ws_CO_1", "SUCCESS", "NLJ7RT61SV", DescriptionConfirmed, 0).
		WillReturnRows(paymentRow(p))
	f.mock.ExpectExec("SAVEPOINT settlement").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, f.settler.calls)
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, "Plan Active! Receipt: NLJ7RT61SV", f.notifier.msgs[0].Text)
	require.Len(t, f.rt.events, 1)
	assert.Equal(t, p.UserID, f.rt.users[0])
	assert.Equal(t, "SUCCESS", f.rt.events[0].Status)
	assert.Equal(t, "NLJ7RT61SV", f.rt.events[0].Receipt)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcile_Failure(t *testing.T) {
	f := newReconcilerFixture(t)
	p := settledPayment(StatusFailed, "Request cancelled by user")

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").
		WithArgs("ws_CO_1", "FAILED", nil, "Request cancelled by user", 1032).
		WillReturnRows(paymentRow(p))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), Result{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Zero(t, f.settler.calls)
	assert.Empty(t, f.notifier.msgs)
	require.Len(t, f.rt.events, 1)
	assert.Equal(t, "FAILED", f.rt.events[0].Status)
	assert.Equal(t, "Request cancelled by user", f.rt.events[0].Description)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcile_Duplicate(t *testing.T) {
	f := newReconcilerFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(sqlmock.NewRows(paymentRowColumns))
	f.mock.ExpectQuery("SELECT status FROM payments WHERE checkout_request_id = .+").WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUCCESS"))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyApplied, outcome)
	assert.Zero(t, f.settler.calls)
	assert.Empty(t, f.notifier.msgs)
	assert.Empty(t, f.rt.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcile_ConflictingDuplicateKeepsStoredStatus(t *testing.T) {
	f := newReconcilerFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").
		WithArgs("ws_CO_1", "SUCCESS", "NLJ7RT61SV", DescriptionConfirmed, 0).
		WillReturnRows(sqlmock.NewRows(paymentRowColumns))
	f.mock.ExpectQuery("SELECT status FROM payments").WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAILED"))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyApplied, outcome)
	assert.Zero(t, f.settler.calls)
	assert.Empty(t, f.notifier.msgs)
	assert.Empty(t, f.rt.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcile_UnknownCheckout(t *testing.T) {
	f := newReconcilerFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(sqlmock.NewRows(paymentRowColumns))
	f.mock.ExpectQuery("SELECT status FROM payments").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
	assert.Empty(t, f.rt.events)
}

func TestReconcile_SettlementAnomalyKeepsSuccess(t *testing.T) {
	f := newReconcilerFixture(t)
	p := settledPayment(StatusSuccess, DescriptionConfirmed)
	f.settler.notices = []notify.Message{{Text: "should not be sent"}}
	f.settler.err = &AnomalyError{Kind: "booking_conflict", Err: errors.New("dates taken")}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(paymentRow(p))
	f.mock.ExpectExec("SAVEPOINT settlement").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec("ROLLBACK TO SAVEPOINT settlement").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec("UPDATE payments SET description").
		WithArgs(p.ID, DescriptionNeedsReview).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Empty(t, f.notifier.msgs)
	require.Len(t, f.rt.events, 1)
	assert.Equal(t, "SUCCESS", f.rt.events[0].Status)
	assert.Equal(t, DescriptionNeedsReview, f.rt.events[0].Description)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcile_SettlementErrorRollsBack(t *testing.T) {
	f := newReconcilerFixture(t)
	p := settledPayment(StatusSuccess, DescriptionConfirmed)
	f.settler.err = errors.New("connection reset")

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(paymentRow(p))
	f.mock.ExpectExec("SAVEPOINT settlement").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	outcome, err := f.rec.Reconcile(context.Background(), successResult())
	require.Error(t, err)

	assert.Equal(t, OutcomeUnknown, outcome)
	assert.Empty(t, f.notifier.msgs)
	assert.Empty(t, f.rt.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestResultSucceeded(t *testing.T) {
	res := Result{ResultCode: 0}
	assert.True(t, res.Succeeded())
	assert.False(t, Result{ResultCode: 1037}.Succeeded())
	assert.False(t, receiptOf(Result{ResultCode: 1, Receipt: "X"}).Valid)
	assert.True(t, receiptOf(Result{ResultCode: 0, Receipt: "X"}).Valid)
}

type releasingSettler struct {
	fakeSettler
	released []uuid.UUID
}

func (s *releasingSettler) ReleaseTx(_ context.Context, _ *sqlx.Tx, p *Payment) error {
	s.released = append(s.released, p.BookingID.UUID)
	return nil
}

func newReleasingFixture(t *testing.T) (*Reconciler, sqlmock.Sqlmock, *releasingSettler) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := sqlx.NewDb(raw, "postgres")
	settler := &releasingSettler{}
	return NewReconciler(db, NewRepository(db), settler, nil, nil), mock, settler
}

func failedBookingPayment() *Payment {
	p := settledPayment(StatusFailed, "Request cancelled by user")
	p.setTarget(BookingTarget{BookingID: uuid.New()})
	return p
}

func cancelledResult() Result {
	return Result{CheckoutRequestID: "ws_CO_1", ResultCode: 1032, ResultDesc: "Request cancelled by user"}
}

func TestReconcile_FailureReleasesBookingHold(t *testing.T) {
	rec, mock, settler := newReleasingFixture(t)
	p := failedBookingPayment()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(paymentRow(p))
	mock.ExpectQuery("SELECT EXISTS .+ WHERE booking_id = .+ AND status = 'PENDING' AND id <> .+").
		WithArgs(p.BookingID.UUID, p.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectCommit()

	outcome, err := rec.Reconcile(context.Background(), cancelledResult())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, []uuid.UUID{p.BookingID.UUID}, settler.released)
	assert.Zero(t, settler.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_FailureKeepsHoldOfNewerPush(t *testing.T) {
	rec, mock, settler := newReleasingFixture(t)
	p := failedBookingPayment()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payments SET status").WillReturnRows(paymentRow(p))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	_, err := rec.Reconcile(context.Background(), cancelledResult())
	require.NoError(t, err)
	assert.Empty(t, settler.released)
	require.NoError(t, mock.ExpectationsWereMet())
}
