package ports

import (
	"context"
	"time"

	"clinic-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Querier is the subset of pgx querying shared by pgxpool.Pool and pgx.Tx.
// Repository methods that must see uncommitted rows take the surrounding
// transaction as a Querier; callers outside a transaction pass the pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside the ledger's transaction boundary and
// rely on pessimistic row locking.
type WalletRepository interface {
	// GetOrCreate returns the wallet for (kind, ownerID), creating it with a
	// zero balance on first reference. Concurrent first-use must yield a
	// single wallet per owner.
	GetOrCreate(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID, currency string) (*domain.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwner(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	// AdjustBalance applies a signed delta to the wallet balance. The ledger
	// is the only caller; the wallet row must already be locked.
	AdjustBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) error
}

// InvoiceRepository defines persistence operations for invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, tx pgx.Tx, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error)
	// UpdateStatus transitions the invoice state machine. paidAt is written
	// as given; callers preserve an existing stamp by passing it back.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.InvoiceStatus, method *domain.PaymentMethod, paidAt *time.Time) error
	// SumAllocatedForEvent returns the total amount of a billable event
	// already allocated into invoices, across all invoices.
	SumAllocatedForEvent(ctx context.Context, q Querier, eventID uuid.UUID) (decimal.Decimal, error)
	// AcquireAllocationLock serializes invoice generation for one
	// practitioner for the duration of tx (advisory xact lock).
	AcquireAllocationLock(ctx context.Context, tx pgx.Tx, practitionerID uuid.UUID) error
}

// TransactionRepository defines persistence for the append-only ledger log.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// GetByIdempotencyKey returns nil, nil when no transaction carries key.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	// SumCompletedByInvoice totals completed transactions of one type for an
	// invoice. Pass the surrounding tx to include rows inserted in it.
	SumCompletedByInvoice(ctx context.Context, q Querier, invoiceID uuid.UUID, txType domain.TransactionType) (decimal.Decimal, error)
	// ExistsByInvoiceAndType reports whether the invoice has any completed
	// transaction of the given type.
	ExistsByInvoiceAndType(ctx context.Context, invoiceID uuid.UUID, txType domain.TransactionType) (bool, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
