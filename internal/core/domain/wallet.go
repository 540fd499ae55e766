package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerKind classifies who a wallet belongs to.
type OwnerKind string

const (
	OwnerSystem       OwnerKind = "system" // the clinic itself
	OwnerPractitioner OwnerKind = "practitioner"
	OwnerPatient      OwnerKind = "patient"
	OwnerUser         OwnerKind = "user"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerSystem, OwnerPractitioner, OwnerPatient, OwnerUser:
		return true
	}
	return false
}

// Wallet holds a durable balance for one owner. Balances are mutated only by
// applying a Transaction through the ledger; wallets are never deleted so
// historical balances stay attributable.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	OwnerKind OwnerKind       `json:"owner_kind"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanCover reports whether the wallet balance covers a debit of amount.
func (w *Wallet) CanCover(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}
