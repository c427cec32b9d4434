package wallet

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decimalArg matches a NUMERIC argument by value, ignoring formatting.
type decimalArg string

func (a decimalArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return got.Equal(decimal.RequireFromString(string(a)))
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := sqlx.NewDb(raw, "postgres")
	return NewService(db, NewRepository(db)), mock
}

func expectLock(mock sqlmock.Sqlmock, userID uuid.UUID, balance, earned string) {
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id, balance, total_earned, updated_at FROM wallets WHERE user_id = .+ FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_earned", "updated_at"}).
			AddRow(userID.String(), balance, earned, time.Now()))
}

func expectNoEntry(mock sqlmock.Sqlmock, userID uuid.UUID, key string) {
	mock.ExpectQuery("FROM wallet_entries WHERE user_id = .+ AND idempotency_key").
		WithArgs(userID, key).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
}

func entryRows(userID uuid.UUID, amount, kind, key string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "amount", "kind", "description", "reference", "idempotency_key", "gross", "commission", "created_at",
	}).AddRow(uuid.NewString(), userID.String(), amount, kind, "", "", key, nil, nil, time.Now())
}

func TestCredit_SplitsCommission(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()
	key := "payment:ws_CO_1:owner"

	mock.ExpectBegin()
	expectLock(mock, userID, "1000.00", "1000.00")
	expectNoEntry(mock, userID, key)
	mock.ExpectQuery("INSERT INTO wallet_entries").
		WithArgs(userID, decimalArg("4500"), "CREDIT", "Booking payment", "Booking #42", key, decimalArg("5000"), decimalArg("500")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.NewString(), time.Now()))
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(userID, decimalArg("5500"), decimalArg("5500")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Credit(context.Background(), CreditInput{
		UserID:      userID,
		Gross:       decimal.NewFromInt(5000),
		Rate:        decimal.RequireFromString("0.10"),
		Description: "Booking payment",
		Reference:   "Booking #42",
		Key:         key,
	})

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Net.Equal(decimal.NewFromInt(4500)))
	assert.True(t, res.Commission.Equal(decimal.NewFromInt(500)))
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(5500)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_ReplayedKeyIsNoop(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()
	key := "payment:ws_CO_1:owner"

	mock.ExpectBegin()
	expectLock(mock, userID, "4500.00", "4500.00")
	mock.ExpectQuery("FROM wallet_entries WHERE user_id = .+ AND idempotency_key").
		WithArgs(userID, key).
		WillReturnRows(entryRows(userID, "4500.00", "CREDIT", key))
	mock.ExpectCommit()

	res, err := svc.Credit(context.Background(), CreditInput{
		UserID: userID,
		Gross:  decimal.NewFromInt(5000),
		Rate:   decimal.RequireFromString("0.10"),
		Key:    key,
	})

	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(4500)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_ReplayedKeyWithDifferentAmount(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectBegin()
	expectLock(mock, userID, "4500.00", "4500.00")
	mock.ExpectQuery("FROM wallet_entries").
		WillReturnRows(entryRows(userID, "4500.00", "CREDIT", "k1"))
	mock.ExpectRollback()

	_, err := svc.Credit(context.Background(), CreditInput{
		UserID: userID,
		Gross:  decimal.NewFromInt(6000),
		Rate:   decimal.RequireFromString("0.10"),
		Key:    "k1",
	})

	assert.ErrorIs(t, err, ErrReferenceConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreditTx(ctx, nil, CreditInput{UserID: userID, Gross: decimal.Zero, Rate: decimal.Zero, Key: "k"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreditTx(ctx, nil, CreditInput{UserID: userID, Gross: decimal.RequireFromString("10.001"), Rate: decimal.Zero, Key: "k"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreditTx(ctx, nil, CreditInput{UserID: userID, Gross: decimal.NewFromInt(10), Rate: decimal.NewFromInt(1), Key: "k"})
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectBegin()
	expectLock(mock, userID, "10000.00", "10000.00")
	expectNoEntry(mock, userID, "payout:1:reserve")
	mock.ExpectRollback()

	_, err := svc.Debit(context.Background(), DebitInput{
		UserID: userID,
		Amount: decimal.NewFromInt(12000),
		Key:    "payout:1:reserve",
	})

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_RequiresKey(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Debit(context.Background(), DebitInput{UserID: uuid.New(), Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreTx_LeavesTotalEarned(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()
	key := "payout:1:reverse"

	mock.ExpectBegin()
	expectLock(mock, userID, "7000.00", "10000.00")
	expectNoEntry(mock, userID, key)
	mock.ExpectQuery("INSERT INTO wallet_entries").
		WithArgs(userID, decimalArg("3000"), "CREDIT", "Payout reversal", "payout reversed", key, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.NewString(), time.Now()))
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(userID, decimalArg("10000"), decimalArg("10000")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := svc.db.Beginx()
	require.NoError(t, err)
	e, err := svc.RestoreTx(context.Background(), tx, DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(3000),
		Description: "Payout reversal",
		Reference:   "payout reversed",
		Key:         key,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, EntryCredit, e.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudit(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery("SELECT user_id, balance, total_earned, updated_at FROM wallets").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_earned", "updated_at"}).
			AddRow(userID.String(), "7000.00", "10000.00", time.Now()))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("7000.00", 2))

	report, err := svc.Audit(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.Entries)

	mock.ExpectQuery("SELECT user_id, balance, total_earned, updated_at FROM wallets").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_earned", "updated_at"}).
			AddRow(userID.String(), "7000.00", "10000.00", time.Now()))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("6999.99", 2))

	report, err = svc.Audit(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, "0.01", report.Difference.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWallet_Missing(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery("FROM wallets").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_earned", "updated_at"}))

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
