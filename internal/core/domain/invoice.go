package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceableKind identifies what kind of debt an invoice represents.
type InvoiceableKind string

const (
	// InvoiceableSystem is a clinic-owed invoice, e.g. a patient paying for
	// an appointment. Money flows into the clinic wallet from outside.
	InvoiceableSystem InvoiceableKind = "system"
	// InvoiceablePractitioner is a clinic->practitioner payable. Paying it
	// moves money internally from the clinic wallet to the practitioner.
	InvoiceablePractitioner InvoiceableKind = "practitioner"
)

// Valid reports whether k is a known invoiceable kind.
func (k InvoiceableKind) Valid() bool {
	return k == InvoiceableSystem || k == InvoiceablePractitioner
}

// InvoiceStatus is the payment-status state machine of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusPartial    InvoiceStatus = "partial"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusPaidManual InvoiceStatus = "paid_manual"
	InvoiceStatusRefunded   InvoiceStatus = "refunded"
	InvoiceStatusCancelled  InvoiceStatus = "cancelled"
)

// PaymentMethod is how a payment was collected.
type PaymentMethod string

const (
	MethodCard     PaymentMethod = "card"
	MethodCash     PaymentMethod = "cash"
	MethodPOS      PaymentMethod = "pos"
	MethodTransfer PaymentMethod = "transfer"
)

// LineItem is one billed line inside an invoice.
type LineItem struct {
	Description string          `json:"description"`
	EventID     *uuid.UUID      `json:"event_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceMeta is the JSON document stored alongside an invoice.
// AppointmentAmounts records, for aggregated practitioner invoices, how much
// of each billable event was allocated into this invoice. The sum of a given
// event's allocations across all invoices must never exceed the event price.
type InvoiceMeta struct {
	LineItems          []LineItem                    `json:"line_items,omitempty"`
	AppointmentAmounts map[uuid.UUID]decimal.Decimal `json:"appointment_amounts,omitempty"`
	PractitionerID     *uuid.UUID                    `json:"practitioner_id,omitempty"`
}

// Invoice records an amount owed by one party to another.
type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	InvoiceableKind InvoiceableKind `json:"invoiceable_kind"`
	InvoiceableID   uuid.UUID       `json:"invoiceable_id"`
	CustomerWalletID *uuid.UUID     `json:"customer_wallet_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	Price           decimal.Decimal `json:"price"`
	Status          InvoiceStatus   `json:"status"`
	PaymentMethod   *PaymentMethod  `json:"payment_method,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Meta            InvoiceMeta     `json:"meta"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsPaid reports whether the invoice has reached a paid state.
func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusPaidManual
}

// IsOpen reports whether the invoice can still accept payments.
func (i *Invoice) IsOpen() bool {
	switch i.Status {
	case InvoiceStatusPending, InvoiceStatusPartial:
		return true
	}
	return false
}

// BillableEvent is a completed billable unit of work supplied by an external
// collaborator (e.g. a finished appointment with its price). The ledger never
// computes event prices itself.
type BillableEvent struct {
	ID          uuid.UUID       `json:"id"`
	Price       decimal.Decimal `json:"price"`
	CompletedAt time.Time       `json:"completed_at"`
}
