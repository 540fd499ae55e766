package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one billed line in an invoice request or response.
type LineItem struct {
	Description string          `json:"description" binding:"required,max=200"`
	EventID     *string         `json:"event_id,omitempty" binding:"omitempty,uuid"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

// CreateInvoiceRequest is the request body for invoice creation. Prices are
// computed by the caller; the ledger records them.
type CreateInvoiceRequest struct {
	InvoiceableKind   string          `json:"invoiceable_kind" binding:"required"`
	InvoiceableID     string          `json:"invoiceable_id" binding:"required,uuid"`
	CustomerOwnerKind string          `json:"customer_owner_kind" binding:"required"`
	CustomerOwnerID   string          `json:"customer_owner_id" binding:"required,uuid"`
	Subtotal          decimal.Decimal `json:"subtotal" binding:"required"`
	TaxTotal          decimal.Decimal `json:"tax_total"`
	LineItems         []LineItem      `json:"line_items" binding:"omitempty,dive"`
	PractitionerID    *string         `json:"practitioner_id,omitempty" binding:"omitempty,uuid"`
}

// BillableEvent is one completed billable unit in a practitioner invoice
// generation request.
type BillableEvent struct {
	ID          string          `json:"id" binding:"required,uuid"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	CompletedAt time.Time       `json:"completed_at" binding:"required"`
}

// PractitionerInvoiceRequest is the request body for aggregated practitioner
// invoice generation.
type PractitionerInvoiceRequest struct {
	PractitionerID string           `json:"practitioner_id" binding:"required,uuid"`
	Events         []BillableEvent  `json:"events" binding:"required,min=1,dive"`
	TargetAmount   *decimal.Decimal `json:"target_amount,omitempty"`
}

// GatewayPaymentRequest is a payment confirmation from the external gateway.
type GatewayPaymentRequest struct {
	InvoiceID   string           `json:"invoice_id" binding:"required,uuid"`
	ProviderRef string           `json:"provider_ref" binding:"required,safe_id,max=100"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

// ManualPaymentRequest is an operator-entered cash, POS, or transfer payment.
type ManualPaymentRequest struct {
	InvoiceID  string           `json:"invoice_id" binding:"required,uuid"`
	Method     string           `json:"method" binding:"required,oneof=cash pos transfer"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	ReceiptRef *string          `json:"receipt_ref,omitempty" binding:"omitempty,max=100"`
	AttemptID  string           `json:"attempt_id" binding:"required,safe_id,max=100"`
}

// InvoicePayoutRequest pays out a settled invoice to its practitioner.
type InvoicePayoutRequest struct {
	InvoiceID         string           `json:"invoice_id" binding:"required,uuid"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
}

// PractitionerPayoutRequest is a direct clinic-to-practitioner transfer.
type PractitionerPayoutRequest struct {
	PractitionerID string          `json:"practitioner_id" binding:"required,uuid"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	InvoiceID      *string         `json:"invoice_id,omitempty" binding:"omitempty,uuid"`
	AttemptID      string          `json:"attempt_id" binding:"required,safe_id,max=100"`
}

// RefundRequest is the request body for refund processing.
type RefundRequest struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Reason    string          `json:"reason" binding:"required,max=500"`
	AttemptID string          `json:"attempt_id" binding:"required,safe_id,max=100"`
}

// InvoiceResponse is the response body for invoice queries.
type InvoiceResponse struct {
	ID              string           `json:"id"`
	InvoiceableKind string           `json:"invoiceable_kind"`
	InvoiceableID   string           `json:"invoiceable_id"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	TaxTotal        decimal.Decimal  `json:"tax_total"`
	Price           decimal.Decimal  `json:"price"`
	Status          string           `json:"status"`
	PaymentMethod   *string          `json:"payment_method,omitempty"`
	PaidAt          *string          `json:"paid_at,omitempty"`
	Remaining       *decimal.Decimal `json:"remaining,omitempty"`
	LineItems       []LineItem       `json:"line_items,omitempty"`
	CreatedAt       string           `json:"created_at"`
}

// TransactionResponse is the response body for ledger entries.
type TransactionResponse struct {
	ID              string          `json:"id"`
	FromWalletID    *string         `json:"from_wallet_id,omitempty"`
	ToWalletID      *string         `json:"to_wallet_id,omitempty"`
	InvoiceID       *string         `json:"invoice_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type"`
	DirectionSource string          `json:"direction_source"`
	PaymentMethod   *string         `json:"payment_method,omitempty"`
	ProviderRef     *string         `json:"provider_ref,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
}

// WalletResponse is the response body for wallet queries.
type WalletResponse struct {
	ID        string          `json:"id"`
	OwnerKind string          `json:"owner_kind"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// WalletStatementResponse is a wallet with a page of its ledger entries.
type WalletStatementResponse struct {
	Wallet       WalletResponse        `json:"wallet"`
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
}
