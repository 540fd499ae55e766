package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InvoiceServiceImpl implements ports.InvoiceService. Invoice payment status
// is always derived from the transaction log, never set directly.
type InvoiceServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	txRepo      ports.TransactionRepository
	walletRepo  ports.WalletRepository
	transactor  ports.DBTransactor
	settings    ports.Settings
	log         zerolog.Logger
}

// NewInvoiceService creates a new InvoiceServiceImpl.
func NewInvoiceService(
	invoiceRepo ports.InvoiceRepository,
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	settings ports.Settings,
	log zerolog.Logger,
) *InvoiceServiceImpl {
	return &InvoiceServiceImpl{
		invoiceRepo: invoiceRepo,
		txRepo:      txRepo,
		walletRepo:  walletRepo,
		transactor:  transactor,
		settings:    settings,
		log:         log,
	}
}

// Create records a new invoice. Prices come from the calling collaborator;
// the ledger stores them, it does not compute them.
func (s *InvoiceServiceImpl) Create(ctx context.Context, req ports.CreateInvoiceRequest) (*domain.Invoice, error) {
	if !req.InvoiceableKind.Valid() {
		return nil, apperror.Validation("unknown invoiceable kind")
	}
	if !req.CustomerOwnerKind.Valid() {
		return nil, apperror.Validation("unknown customer owner kind")
	}
	if req.Subtotal.IsNegative() || req.TaxTotal.IsNegative() {
		return nil, apperror.ErrInvalidAmount()
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, req.CustomerOwnerKind, req.CustomerOwnerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get or create customer wallet: %w", err))
	}

	now := time.Now().UTC()
	inv := &domain.Invoice{
		ID:               uuid.New(),
		InvoiceableKind:  req.InvoiceableKind,
		InvoiceableID:    req.InvoiceableID,
		CustomerWalletID: &wallet.ID,
		Subtotal:         req.Subtotal,
		TaxTotal:         req.TaxTotal,
		Price:            req.Subtotal.Add(req.TaxTotal),
		Status:           domain.InvoiceStatusPending,
		Meta: domain.InvoiceMeta{
			LineItems:      req.LineItems,
			PractitionerID: req.PrimaryPractitioner,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.invoiceRepo.Create(ctx, dbTx, inv); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create invoice: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("kind", string(inv.InvoiceableKind)).
		Str("price", inv.Price.String()).
		Msg("invoice created")

	return inv, nil
}

// GeneratePractitionerInvoice aggregates completed billable events into one
// practitioner payable. Each event contributes at most its unallocated
// remainder, so the sum of an event's allocations across all invoices never
// exceeds its price. Events are consumed newest-first; an optional target
// amount caps the total.
func (s *InvoiceServiceImpl) GeneratePractitionerInvoice(ctx context.Context, req ports.PractitionerInvoiceRequest) (*domain.Invoice, error) {
	if len(req.Events) == 0 {
		return nil, apperror.ErrNoAvailableAmount()
	}
	if req.TargetAmount != nil && !req.TargetAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	// The payable settles into the practitioner's wallet; record it on the
	// invoice up front so the payment engine never has to guess.
	wallet, err := s.walletRepo.GetOrCreate(ctx, domain.OwnerPractitioner, req.PractitionerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get or create practitioner wallet: %w", err))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Serialize generation per practitioner; two concurrent generations
	// must not both read the same unallocated remainders.
	if err := s.invoiceRepo.AcquireAllocationLock(ctx, dbTx, req.PractitionerID); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	events := make([]domain.BillableEvent, len(req.Events))
	copy(events, req.Events)
	sort.Slice(events, func(i, j int) bool {
		return events[i].CompletedAt.After(events[j].CompletedAt)
	})

	allocations := make(map[uuid.UUID]decimal.Decimal)
	var lineItems []domain.LineItem
	total := decimal.Zero

	for _, ev := range events {
		if req.TargetAmount != nil && total.GreaterThanOrEqual(*req.TargetAmount) {
			break
		}
		if !ev.Price.IsPositive() {
			continue
		}

		allocated, err := s.invoiceRepo.SumAllocatedForEvent(ctx, dbTx, ev.ID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("sum allocated for event: %w", err))
		}
		available := ev.Price.Sub(allocated)
		if !available.IsPositive() {
			continue
		}

		take := available
		if req.TargetAmount != nil {
			headroom := req.TargetAmount.Sub(total)
			if take.GreaterThan(headroom) {
				take = headroom
			}
		}

		allocations[ev.ID] = take
		eventID := ev.ID
		lineItems = append(lineItems, domain.LineItem{
			Description: fmt.Sprintf("Appointment %s", ev.CompletedAt.Format("2006-01-02")),
			EventID:     &eventID,
			Amount:      take,
		})
		total = total.Add(take)
	}

	if total.IsZero() {
		return nil, apperror.ErrNoAvailableAmount()
	}

	now := time.Now().UTC()
	practitionerID := req.PractitionerID
	inv := &domain.Invoice{
		ID:               uuid.New(),
		InvoiceableKind:  domain.InvoiceablePractitioner,
		InvoiceableID:    req.PractitionerID,
		CustomerWalletID: &wallet.ID,
		Subtotal:         total,
		TaxTotal:         decimal.Zero,
		Price:            total,
		Status:           domain.InvoiceStatusPending,
		Meta: domain.InvoiceMeta{
			LineItems:          lineItems,
			AppointmentAmounts: allocations,
			PractitionerID:     &practitionerID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.invoiceRepo.Create(ctx, dbTx, inv); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create practitioner invoice: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("practitioner_id", req.PractitionerID.String()).
		Str("total", total.String()).
		Int("events", len(allocations)).
		Msg("practitioner invoice generated")

	return inv, nil
}

// GetByID fetches an invoice.
func (s *InvoiceServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	return inv, nil
}

// RemainingBalance is max(0, price - total completed payments).
func (s *InvoiceServiceImpl) RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	paid, err := s.txRepo.SumCompletedByInvoice(ctx, nil, invoiceID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return decimal.Zero, apperror.ErrDatabaseError(err)
	}
	remaining := inv.Price.Sub(paid)
	if remaining.IsNegative() {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// RecomputeStatus re-derives the invoice payment status from the sum of
// completed payments, inside the ledger's transaction. The invoice row lock
// serializes concurrent payments against the same invoice, so the cumulative
// check here is race-free.
func (s *InvoiceServiceImpl) RecomputeStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, applied *domain.Transaction) error {
	inv, err := s.invoiceRepo.GetByIDForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return apperror.ErrNotFound("invoice")
	}
	if inv.Status == domain.InvoiceStatusCancelled || inv.Status == domain.InvoiceStatusRefunded {
		return apperror.ErrInvoiceNotPayable()
	}

	paid, err := s.txRepo.SumCompletedByInvoice(ctx, tx, invoiceID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if paid.GreaterThan(inv.Price) {
		// A concurrent payment raced past the remaining-balance check.
		// Failing here rolls the whole application back.
		return apperror.Validation("payments exceed invoice price")
	}

	var status domain.InvoiceStatus
	method := inv.PaymentMethod
	paidAt := inv.PaidAt
	switch {
	case paid.Equal(inv.Price):
		status = paidStatusFor(applied)
		if applied != nil {
			method = applied.PaymentMethod
		}
		// paid_at marks the first time the invoice reached paid; a later
		// recompute over the same log must not move it.
		if paidAt == nil {
			now := time.Now().UTC()
			paidAt = &now
		}
	case paid.IsPositive():
		status = domain.InvoiceStatusPartial
	default:
		status = domain.InvoiceStatusPending
	}

	if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, status, method, paidAt); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	return nil
}

// RecomputeRefundStatus marks the invoice refunded once cumulative completed
// refunds reach cumulative completed payments.
func (s *InvoiceServiceImpl) RecomputeRefundStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) error {
	inv, err := s.invoiceRepo.GetByIDForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return apperror.ErrNotFound("invoice")
	}

	paid, err := s.txRepo.SumCompletedByInvoice(ctx, tx, invoiceID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	refunded, err := s.txRepo.SumCompletedByInvoice(ctx, tx, invoiceID, domain.TransactionTypeRefund)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}

	if refunded.GreaterThan(paid) {
		// A concurrent refund raced past the available-amount check.
		// Failing here rolls the whole application back.
		return apperror.ErrRefundExceedsPaid()
	}

	if paid.IsPositive() && refunded.Equal(paid) {
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, domain.InvoiceStatusRefunded, inv.PaymentMethod, inv.PaidAt); err != nil {
			return apperror.ErrDatabaseError(err)
		}
	}
	return nil
}

// paidStatusFor decides paid vs paid_manual from how the final payment was
// collected: cash and POS entries are operator-recorded, everything else is
// machine-confirmed.
func paidStatusFor(applied *domain.Transaction) domain.InvoiceStatus {
	if applied == nil {
		return domain.InvoiceStatusPaid
	}
	switch applied.DirectionSource {
	case domain.SourceExternalCash, domain.SourceExternalPOS:
		return domain.InvoiceStatusPaidManual
	}
	return domain.InvoiceStatusPaid
}
