package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeInvoicePayment TransactionType = "invoice_payment"
	TransactionTypePayout         TransactionType = "payout"
	TransactionTypeRefund         TransactionType = "refund"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeInvoicePayment, TransactionTypePayout, TransactionTypeRefund:
		return true
	}
	return false
}

// DirectionSource records where the money crossed the ledger boundary.
type DirectionSource string

const (
	SourceExternalGateway DirectionSource = "external_gateway"
	SourceExternalCash    DirectionSource = "external_cash"
	SourceExternalPOS     DirectionSource = "external_pos"
	SourceInternalWallet  DirectionSource = "internal_wallet"
)

// Valid reports whether s is a known direction source.
func (s DirectionSource) Valid() bool {
	switch s {
	case SourceExternalGateway, SourceExternalCash, SourceExternalPOS, SourceInternalWallet:
		return true
	}
	return false
}

// External reports whether the source crosses the ledger boundary.
func (s DirectionSource) External() bool {
	return s != SourceInternalWallet
}

// TransactionStatus is the lifecycle state of a transaction. Transactions are
// never partially applied: once persisted they are completed.
type TransactionStatus string

const TransactionStatusCompleted TransactionStatus = "completed"

// TransactionMeta is the audit document stored with a transaction.
type TransactionMeta struct {
	Reason            string           `json:"reason,omitempty"`
	ReceiptRef        string           `json:"receipt_ref,omitempty"`
	AttemptID         string           `json:"attempt_id,omitempty"`
	GrossAmount       *decimal.Decimal `json:"gross_amount,omitempty"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	CommissionAmount  *decimal.Decimal `json:"commission_amount,omitempty"`
}

// Transaction is the immutable unit of money movement. A nil FromWalletID
// means money entered from outside the ledger (e.g. a card payment); a nil
// ToWalletID means money left it (e.g. a refund to a card). Corrections are
// modeled as new offsetting transactions, never edits.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	FromWalletID    *uuid.UUID        `json:"from_wallet_id,omitempty"`
	ToWalletID      *uuid.UUID        `json:"to_wallet_id,omitempty"`
	InvoiceID       *uuid.UUID        `json:"invoice_id,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Type            TransactionType   `json:"type"`
	DirectionSource DirectionSource   `json:"direction_source"`
	PaymentMethod   *PaymentMethod    `json:"payment_method,omitempty"`
	ProviderRef     *string           `json:"provider_ref,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Status          TransactionStatus `json:"status"`
	Meta            TransactionMeta   `json:"meta"`
	CreatedAt       time.Time         `json:"created_at"`
}

// GatewayIdempotencyKey derives the key for a gateway payment confirmation.
// The provider's payment reference is the idempotency anchor, so duplicate
// webhooks collapse onto one transaction.
func GatewayIdempotencyKey(providerRef string) string {
	return "gateway:" + providerRef
}

// ManualIdempotencyKey derives the key for a manual/POS payment entry. The
// attempt id protects against double-submission of the same UI action.
func ManualIdempotencyKey(attemptID string) string {
	return "manual:" + attemptID
}

// RefundIdempotencyKey derives the key for a refund attempt.
func RefundIdempotencyKey(attemptID string) string {
	return "refund:" + attemptID
}

// InvoicePayoutIdempotencyKey derives the key for an invoice payout. One key
// per invoice: an invoice is paid out at most once.
func InvoicePayoutIdempotencyKey(invoiceID uuid.UUID) string {
	return "payout:invoice:" + invoiceID.String()
}

// PractitionerPayoutIdempotencyKey derives the key for a direct payout to a
// practitioner outside the invoice flow.
func PractitionerPayoutIdempotencyKey(practitionerID uuid.UUID, attemptID string) string {
	return "payout:practitioner:" + practitionerID.String() + ":" + attemptID
}
