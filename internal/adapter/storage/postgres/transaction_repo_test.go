package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clinic-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestTransaction() *domain.Transaction {
	from := uuid.New()
	to := uuid.New()
	invoiceID := uuid.New()
	method := domain.MethodCard
	ref := "pi_3OaQ9w2eZvKYlo2C"
	return &domain.Transaction{
		ID:              uuid.New(),
		FromWalletID:    &from,
		ToWalletID:      &to,
		InvoiceID:       &invoiceID,
		Amount:          decimal.RequireFromString("100.00"),
		Type:            domain.TransactionTypeInvoicePayment,
		DirectionSource: domain.SourceExternalGateway,
		PaymentMethod:   &method,
		ProviderRef:     &ref,
		IdempotencyKey:  domain.GatewayIdempotencyKey(ref),
		Status:          domain.TransactionStatusCompleted,
		Meta:            domain.TransactionMeta{Reason: "invoice payment"},
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func transactionColumnNames() []string {
	return []string{"id", "from_wallet_id", "to_wallet_id", "invoice_id", "amount", "type",
		"direction_source", "payment_method", "provider_ref", "idempotency_key", "status",
		"meta", "created_at"}
}

func transactionRow(t *testing.T, txn *domain.Transaction) *pgxmock.Rows {
	t.Helper()
	meta := mustMarshalJSON(t, txn.Meta)
	return pgxmock.NewRows(transactionColumnNames()).AddRow(
		txn.ID, txn.FromWalletID, txn.ToWalletID, txn.InvoiceID,
		txn.Amount, txn.Type, txn.DirectionSource, txn.PaymentMethod,
		txn.ProviderRef, txn.IdempotencyKey, txn.Status, meta, txn.CreatedAt,
	)
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.FromWalletID, txn.ToWalletID, txn.InvoiceID,
			txn.Amount, txn.Type, txn.DirectionSource, txn.PaymentMethod,
			txn.ProviderRef, txn.IdempotencyKey, txn.Status, pgxmock.AnyArg(), txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByIdempotencyKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE idempotency_key").
		WithArgs(txn.IdempotencyKey).
		WillReturnRows(transactionRow(t, txn))

	result, err := repo.GetByIdempotencyKey(context.Background(), txn.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.True(t, result.Amount.Equal(txn.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByIdempotencyKey_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE idempotency_key").
		WithArgs("gateway:unknown").
		WillReturnRows(pgxmock.NewRows(transactionColumnNames()))

	result, err := repo.GetByIdempotencyKey(context.Background(), "gateway:unknown")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_SumCompletedByInvoice(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	invoiceID := uuid.New()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(invoiceID, domain.TransactionTypeInvoicePayment).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(decimal.RequireFromString("150.00")))

	sum, err := repo.SumCompletedByInvoice(context.Background(), nil, invoiceID, domain.TransactionTypeInvoicePayment)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("150.00")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ExistsByInvoiceAndType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	invoiceID := uuid.New()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(invoiceID, domain.TransactionTypePayout).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByInvoiceAndType(context.Background(), invoiceID, domain.TransactionTypePayout)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByInvoice(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()
	invoiceID := *txn.InvoiceID

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(invoiceID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE invoice_id").
		WithArgs(invoiceID, 20, 0).
		WillReturnRows(transactionRow(t, txn))

	txns, total, err := repo.ListByInvoice(context.Background(), invoiceID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByWallet_Pagination(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	walletID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(walletID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(45)))
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE .+from_wallet_id").
		WithArgs(walletID, 20, 20).
		WillReturnRows(pgxmock.NewRows(transactionColumnNames()))

	txns, total, err := repo.ListByWallet(context.Background(), walletID, 2, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(45), total)
	assert.Empty(t, txns)
	assert.NoError(t, mock.ExpectationsWereMet())
}
