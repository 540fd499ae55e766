package service

import (
	"context"
	"fmt"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// PayoutServiceImpl implements ports.PayoutService: commission-adjusted
// practitioner payouts and refunds back across the external boundary.
type PayoutServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	txRepo      ports.TransactionRepository
	walletRepo  ports.WalletRepository
	ledger      ports.LedgerService
	notifier    ports.Notifier
	settings    ports.Settings
	log         zerolog.Logger
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	invoiceRepo ports.InvoiceRepository,
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	ledger ports.LedgerService,
	notifier ports.Notifier,
	settings ports.Settings,
	log zerolog.Logger,
) *PayoutServiceImpl {
	return &PayoutServiceImpl{
		invoiceRepo: invoiceRepo,
		txRepo:      txRepo,
		walletRepo:  walletRepo,
		ledger:      ledger,
		notifier:    notifier,
		settings:    settings,
		log:         log,
	}
}

// PayInvoicePayout moves a paid clinic invoice's practitioner share from the
// clinic wallet to the practitioner wallet, net of commission. One payout per
// invoice: the idempotency key is derived from the invoice alone.
func (s *PayoutServiceImpl) PayInvoicePayout(ctx context.Context, req ports.InvoicePayoutRequest) (*domain.Transaction, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if inv.InvoiceableKind != domain.InvoiceableSystem {
		return nil, apperror.Validation("payouts derive from clinic invoices only")
	}
	// The precondition reads the transaction log, not just the status
	// column: a payout needs at least one completed payment behind it.
	hasPayment, err := s.txRepo.ExistsByInvoiceAndType(ctx, inv.ID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check invoice payments: %w", err))
	}
	if !hasPayment || !inv.IsPaid() {
		return nil, apperror.ErrPayoutWithoutPayment()
	}
	if inv.Meta.PractitionerID == nil {
		return nil, apperror.Validation("invoice has no practitioner to pay out")
	}

	pct := s.settings.DefaultCommissionPercent
	if req.CommissionPercent != nil {
		pct = *req.CommissionPercent
	}
	if pct.IsNegative() || pct.GreaterThan(oneHundred) {
		return nil, apperror.Validation("commission percent must be between 0 and 100")
	}

	gross := inv.Price
	commission := gross.Mul(pct).Div(oneHundred).Round(2)
	net := gross.Sub(commission)
	if !net.IsPositive() {
		return nil, apperror.Validation("commission leaves nothing to pay out")
	}

	clinic, err := s.clinicWallet(ctx)
	if err != nil {
		return nil, err
	}
	practitioner, err := s.walletRepo.GetOrCreate(ctx, domain.OwnerPractitioner, *inv.Meta.PractitionerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get practitioner wallet: %w", err))
	}

	method := domain.MethodTransfer
	invoiceID := inv.ID
	txn, err := s.ledger.Apply(ctx, ports.TransactionSpec{
		FromWalletID:    &clinic.ID,
		ToWalletID:      &practitioner.ID,
		InvoiceID:       &invoiceID,
		Amount:          net,
		Type:            domain.TransactionTypePayout,
		DirectionSource: domain.SourceInternalWallet,
		PaymentMethod:   &method,
		IdempotencyKey:  domain.InvoicePayoutIdempotencyKey(inv.ID),
		Meta: domain.TransactionMeta{
			Reason:            "invoice payout",
			GrossAmount:       &gross,
			CommissionPercent: &pct,
			CommissionAmount:  &commission,
		},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, inv, txn, *inv.Meta.PractitionerID, domain.OwnerPractitioner)
	return txn, nil
}

// ProcessRefund moves money back out across the external boundary, capped at
// what was actually paid minus what was already refunded.
func (s *PayoutServiceImpl) ProcessRefund(ctx context.Context, req ports.RefundRequest) (*domain.Transaction, error) {
	if req.AttemptID == "" {
		return nil, apperror.Validation("attempt id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	idempKey := domain.RefundIdempotencyKey(req.AttemptID)
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, idempKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("idempotency precheck: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	inv, err := s.invoiceRepo.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}

	paid, err := s.txRepo.SumCompletedByInvoice(ctx, nil, inv.ID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	refunded, err := s.txRepo.SumCompletedByInvoice(ctx, nil, inv.ID, domain.TransactionTypeRefund)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if req.Amount.GreaterThan(paid.Sub(refunded)) {
		return nil, apperror.ErrRefundExceedsPaid()
	}

	clinic, err := s.clinicWallet(ctx)
	if err != nil {
		return nil, err
	}

	invoiceID := inv.ID
	txn, err := s.ledger.Apply(ctx, ports.TransactionSpec{
		FromWalletID:    &clinic.ID,
		InvoiceID:       &invoiceID,
		Amount:          req.Amount,
		Type:            domain.TransactionTypeRefund,
		DirectionSource: refundDirection(inv.PaymentMethod),
		PaymentMethod:   inv.PaymentMethod,
		IdempotencyKey:  idempKey,
		Meta:            domain.TransactionMeta{Reason: req.Reason, AttemptID: req.AttemptID},
	})
	if err != nil {
		return nil, err
	}

	recipient, audience := notificationTarget(ctx, s.walletRepo, inv)
	s.notify(ctx, inv, txn, recipient, audience)
	return txn, nil
}

// PayoutToPractitioner is a direct clinic->practitioner transfer outside the
// invoice-payout flow, e.g. a discretionary adjustment.
func (s *PayoutServiceImpl) PayoutToPractitioner(ctx context.Context, req ports.PractitionerPayoutRequest) (*domain.Transaction, error) {
	if req.AttemptID == "" {
		return nil, apperror.Validation("attempt id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	clinic, err := s.clinicWallet(ctx)
	if err != nil {
		return nil, err
	}
	practitioner, err := s.walletRepo.GetOrCreate(ctx, domain.OwnerPractitioner, req.PractitionerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get practitioner wallet: %w", err))
	}

	method := domain.MethodTransfer
	txn, err := s.ledger.Apply(ctx, ports.TransactionSpec{
		FromWalletID:    &clinic.ID,
		ToWalletID:      &practitioner.ID,
		InvoiceID:       req.InvoiceID,
		Amount:          req.Amount,
		Type:            domain.TransactionTypePayout,
		DirectionSource: domain.SourceInternalWallet,
		PaymentMethod:   &method,
		IdempotencyKey:  domain.PractitionerPayoutIdempotencyKey(req.PractitionerID, req.AttemptID),
		Meta:            domain.TransactionMeta{Reason: "direct practitioner payout", AttemptID: req.AttemptID},
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, nil, txn, req.PractitionerID, domain.OwnerPractitioner)
	return txn, nil
}

func (s *PayoutServiceImpl) clinicWallet(ctx context.Context) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetOrCreate(ctx, domain.OwnerSystem, s.settings.ClinicOwnerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get clinic wallet: %w", err))
	}
	return w, nil
}

func (s *PayoutServiceImpl) notify(ctx context.Context, inv *domain.Invoice, txn *domain.Transaction, recipient uuid.UUID, audience domain.OwnerKind) {
	n := ports.Notification{
		Invoice:      inv,
		Transaction:  txn,
		RecipientID:  recipient,
		Audience:     audience,
		Organization: s.settings.OrganizationName,
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("payout notification failed")
	}
}

// refundDirection picks the boundary a refund leaves through: back through
// the gateway for card payments, otherwise out the manual channel it came in.
func refundDirection(method *domain.PaymentMethod) domain.DirectionSource {
	if method == nil {
		return domain.SourceExternalGateway
	}
	switch *method {
	case domain.MethodCash:
		return domain.SourceExternalCash
	case domain.MethodPOS:
		return domain.SourceExternalPOS
	}
	return domain.SourceExternalGateway
}
