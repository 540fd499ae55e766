package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository. The transactions
// table is append-only: there is no update or delete path.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, from_wallet_id, to_wallet_id, invoice_id, amount, type,
		direction_source, payment_method, provider_ref, idempotency_key, status, meta, created_at`

// Create inserts a new transaction within a database transaction. A unique
// violation on idempotency_key means a concurrent caller already applied the
// same operation; the ledger handles that as a success path.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("marshal transaction meta: %w", err)
	}

	query := `INSERT INTO transactions (id, from_wallet_id, to_wallet_id, invoice_id, amount, type,
		direction_source, payment_method, provider_ref, idempotency_key, status, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		t.ID, t.FromWalletID, t.ToWalletID, t.InvoiceID,
		t.Amount, t.Type, t.DirectionSource, t.PaymentMethod,
		t.ProviderRef, t.IdempotencyKey, t.Status, meta, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a transaction by its idempotency key.
// Returns nil, nil when no transaction carries the key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, key))
}

// SumCompletedByInvoice totals completed transactions of one type for an
// invoice. Passing the surrounding pgx.Tx as q includes rows inserted in it.
func (r *TransactionRepo) SumCompletedByInvoice(ctx context.Context, q ports.Querier, invoiceID uuid.UUID, txType domain.TransactionType) (decimal.Decimal, error) {
	if q == nil {
		q = r.pool
	}
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE invoice_id = $1 AND type = $2 AND status = 'completed'`

	var sum decimal.Decimal
	if err := q.QueryRow(ctx, query, invoiceID, txType).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions for invoice: %w", err)
	}
	return sum, nil
}

// ExistsByInvoiceAndType reports whether the invoice has any completed
// transaction of the given type. Payout and refund preconditions derive from
// this query, not from a flag column.
func (r *TransactionRepo) ExistsByInvoiceAndType(ctx context.Context, invoiceID uuid.UUID, txType domain.TransactionType) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE invoice_id = $1 AND type = $2 AND status = 'completed')`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, invoiceID, txType).Scan(&exists); err != nil {
		return false, fmt.Errorf("check transaction exists: %w", err)
	}
	return exists, nil
}

// ListByInvoice fetches an invoice's transactions, newest first.
func (r *TransactionRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	return r.list(ctx, "invoice_id = $1", invoiceID, page, pageSize)
}

// ListByWallet fetches transactions touching a wallet on either side, newest first.
func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	return r.list(ctx, "(from_wallet_id = $1 OR to_wallet_id = $1)", walletID, page, pageSize)
}

func (r *TransactionRepo) list(ctx context.Context, where string, arg any, page, pageSize int) ([]domain.Transaction, int64, error) {
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions WHERE %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, arg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		transactionColumns, where)

	rows, err := r.pool.Query(ctx, dataQuery, arg, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var meta []byte
	err := row.Scan(
		&t.ID, &t.FromWalletID, &t.ToWalletID, &t.InvoiceID,
		&t.Amount, &t.Type, &t.DirectionSource, &t.PaymentMethod,
		&t.ProviderRef, &t.IdempotencyKey, &t.Status, &meta, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal transaction meta: %w", err)
		}
	}
	return t, nil
}
