package ports

import (
	"context"
	"time"

	"clinic-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Settings holds per-tenant ledger configuration. Passed explicitly into the
// engines instead of read from ambient global state.
type Settings struct {
	Currency string
	// ClinicOwnerID identifies the tenant's system wallet owner.
	ClinicOwnerID uuid.UUID
	// DefaultCommissionPercent applies to invoice payouts when the caller
	// does not override it.
	DefaultCommissionPercent decimal.Decimal
	// OrganizationName labels outbound notifications.
	OrganizationName string
}

// TransactionSpec is the input to the ledger's Apply. Exactly one of
// FromWalletID/ToWalletID may be nil (the external boundary), never both.
type TransactionSpec struct {
	FromWalletID    *uuid.UUID
	ToWalletID      *uuid.UUID
	InvoiceID       *uuid.UUID
	Amount          decimal.Decimal
	Type            domain.TransactionType
	DirectionSource domain.DirectionSource
	PaymentMethod   *domain.PaymentMethod
	ProviderRef     *string
	IdempotencyKey  string
	Meta            domain.TransactionMeta
}

// LedgerService is the single writer of wallet balances. Every money
// movement funnels through Apply.
type LedgerService interface {
	// Apply atomically records a transaction and adjusts the referenced
	// wallets. Replaying an idempotency key returns the prior transaction
	// unchanged; this is a success path, not an error.
	Apply(ctx context.Context, spec TransactionSpec) (*domain.Transaction, error)
}

// InvoiceRecomputer is the slice of invoice behavior the ledger invokes
// inside its transaction boundary.
type InvoiceRecomputer interface {
	// RecomputeStatus re-derives the invoice payment status from the sum of
	// completed invoice_payment transactions. applied is the transaction
	// just inserted in tx; its direction source decides paid vs paid_manual.
	RecomputeStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, applied *domain.Transaction) error
	// RecomputeRefundStatus marks the invoice refunded once cumulative
	// completed refunds reach cumulative completed payments.
	RecomputeRefundStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) error
}

// CreateInvoiceRequest holds validated input for invoice creation by an
// external collaborator (the collaborator computes the prices).
type CreateInvoiceRequest struct {
	InvoiceableKind    domain.InvoiceableKind
	InvoiceableID      uuid.UUID
	CustomerOwnerKind  domain.OwnerKind
	CustomerOwnerID    uuid.UUID
	Subtotal           decimal.Decimal
	TaxTotal           decimal.Decimal
	LineItems          []domain.LineItem
	PrimaryPractitioner *uuid.UUID
}

// PractitionerInvoiceRequest holds input for aggregated practitioner-invoice
// generation over completed billable events.
type PractitionerInvoiceRequest struct {
	PractitionerID uuid.UUID
	Events         []domain.BillableEvent
	// TargetAmount caps the aggregation; nil means take everything available.
	TargetAmount *decimal.Decimal
}

// InvoiceService defines invoice business logic.
type InvoiceService interface {
	InvoiceRecomputer
	Create(ctx context.Context, req CreateInvoiceRequest) (*domain.Invoice, error)
	GeneratePractitionerInvoice(ctx context.Context, req PractitionerInvoiceRequest) (*domain.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	// RemainingBalance is max(0, price - total completed payments).
	RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
}

// GatewayPaymentRequest is a payment confirmation from an external gateway.
type GatewayPaymentRequest struct {
	InvoiceID   uuid.UUID
	ProviderRef string
	// Amount nil means pay the invoice's current remaining balance.
	Amount *decimal.Decimal
}

// ManualPaymentRequest is a point-of-sale or cash entry.
type ManualPaymentRequest struct {
	InvoiceID  uuid.UUID
	Method     domain.PaymentMethod
	ReceiptRef *string
	Amount     *decimal.Decimal
	// AttemptID guards against double-submission of the same UI action.
	AttemptID string
}

// PaymentService turns external payment confirmations into ledger entries.
type PaymentService interface {
	ApplyGatewayPayment(ctx context.Context, req GatewayPaymentRequest) (*domain.Transaction, error)
	ApplyManualPayment(ctx context.Context, req ManualPaymentRequest) (*domain.Transaction, error)
}

// InvoicePayoutRequest pays out a fully-paid invoice to its practitioner.
type InvoicePayoutRequest struct {
	InvoiceID uuid.UUID
	// CommissionPercent nil uses the configured default.
	CommissionPercent *decimal.Decimal
}

// RefundRequest moves money back out across the external boundary.
type RefundRequest struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Reason    string
	AttemptID string
}

// PractitionerPayoutRequest is a direct clinic->practitioner transfer outside
// the invoice-payout flow.
type PractitionerPayoutRequest struct {
	PractitionerID uuid.UUID
	Amount         decimal.Decimal
	InvoiceID      *uuid.UUID
	AttemptID      string
}

// PayoutService derives commission-adjusted payouts and processes refunds.
type PayoutService interface {
	PayInvoicePayout(ctx context.Context, req InvoicePayoutRequest) (*domain.Transaction, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (*domain.Transaction, error)
	PayoutToPractitioner(ctx context.Context, req PractitionerPayoutRequest) (*domain.Transaction, error)
}

// ReportingService exposes read-side views over wallets and the ledger log.
type ReportingService interface {
	GetOwnerWallet(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID) (*domain.Wallet, error)
	// GetWalletStatement returns the wallet and a page of its transactions,
	// newest first.
	GetWalletStatement(ctx context.Context, walletID uuid.UUID, page, pageSize int) (*domain.Wallet, []domain.Transaction, int64, error)
	ListInvoiceTransactions(ctx context.Context, invoiceID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
}

// IdempotencyCache is the fast-path idempotency check in front of the
// database unique key.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Notification describes a committed financial event for a recipient.
type Notification struct {
	Invoice      *domain.Invoice
	Transaction  *domain.Transaction
	RecipientID  uuid.UUID
	Audience     domain.OwnerKind
	Organization string
}

// Notifier delivers best-effort notifications after a transaction commits.
// Delivery failure must never roll back the financial transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
