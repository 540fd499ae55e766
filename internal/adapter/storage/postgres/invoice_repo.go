package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// InvoiceRepo implements ports.InvoiceRepository.
type InvoiceRepo struct {
	pool Pool
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(pool Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

const invoiceColumns = `id, invoiceable_kind, invoiceable_id, customer_wallet_id,
		subtotal, tax_total, price, status, payment_method, paid_at, meta, created_at, updated_at`

// Create inserts a new invoice within a database transaction.
func (r *InvoiceRepo) Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	meta, err := json.Marshal(inv.Meta)
	if err != nil {
		return fmt.Errorf("marshal invoice meta: %w", err)
	}

	query := `INSERT INTO invoices (id, invoiceable_kind, invoiceable_id, customer_wallet_id,
		subtotal, tax_total, price, status, payment_method, paid_at, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		inv.ID, inv.InvoiceableKind, inv.InvoiceableID, inv.CustomerWalletID,
		inv.Subtotal, inv.TaxTotal, inv.Price, inv.Status,
		inv.PaymentMethod, inv.PaidAt, meta, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetByID fetches an invoice by UUID.
func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return scanInvoice(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an invoice with pessimistic locking.
// This MUST be called within a transaction.
func (r *InvoiceRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	return scanInvoice(tx.QueryRow(ctx, query, id))
}

// UpdateStatus transitions the invoice status within a database transaction.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.InvoiceStatus, method *domain.PaymentMethod, paidAt *time.Time) error {
	query := `UPDATE invoices SET status = $1, payment_method = $2, paid_at = $3, updated_at = NOW() WHERE id = $4`

	tag, err := tx.Exec(ctx, query, status, method, paidAt, id)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice not found: %s", id)
	}
	return nil
}

// SumAllocatedForEvent totals how much of one billable event has been
// allocated into invoices, across all invoices. The allocation record is the
// appointment_amounts map inside the invoice meta document.
func (r *InvoiceRepo) SumAllocatedForEvent(ctx context.Context, q ports.Querier, eventID uuid.UUID) (decimal.Decimal, error) {
	if q == nil {
		q = r.pool
	}
	query := `SELECT COALESCE(SUM((meta->'appointment_amounts'->>($1::text))::numeric), 0)
		FROM invoices
		WHERE meta->'appointment_amounts' ? ($1::text) AND status != 'cancelled'`

	var sum decimal.Decimal
	if err := q.QueryRow(ctx, query, eventID.String()).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum allocated for event: %w", err)
	}
	return sum, nil
}

// AcquireAllocationLock serializes practitioner-invoice generation per
// practitioner for the duration of tx, so two concurrent generations cannot
// both read the same available amounts.
func (r *InvoiceRepo) AcquireAllocationLock(ctx context.Context, tx pgx.Tx, practitionerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, practitionerID.String())
	if err != nil {
		return fmt.Errorf("acquire allocation lock: %w", err)
	}
	return nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	var meta []byte
	err := row.Scan(
		&inv.ID, &inv.InvoiceableKind, &inv.InvoiceableID, &inv.CustomerWalletID,
		&inv.Subtotal, &inv.TaxTotal, &inv.Price, &inv.Status,
		&inv.PaymentMethod, &inv.PaidAt, &meta, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &inv.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal invoice meta: %w", err)
		}
	}
	return inv, nil
}
