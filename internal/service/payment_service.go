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

// PaymentServiceImpl implements ports.PaymentService. It turns external
// payment confirmations into ledger entries; the money has already moved in
// the real world by the time these methods run.
type PaymentServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	txRepo      ports.TransactionRepository
	walletRepo  ports.WalletRepository
	ledger      ports.LedgerService
	notifier    ports.Notifier
	settings    ports.Settings
	log         zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	invoiceRepo ports.InvoiceRepository,
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	ledger ports.LedgerService,
	notifier ports.Notifier,
	settings ports.Settings,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		invoiceRepo: invoiceRepo,
		txRepo:      txRepo,
		walletRepo:  walletRepo,
		ledger:      ledger,
		notifier:    notifier,
		settings:    settings,
		log:         log,
	}
}

// ApplyGatewayPayment records a confirmed card payment from the payment
// gateway. The provider reference anchors idempotency, so duplicate webhook
// deliveries collapse onto one transaction.
func (s *PaymentServiceImpl) ApplyGatewayPayment(ctx context.Context, req ports.GatewayPaymentRequest) (*domain.Transaction, error) {
	if req.ProviderRef == "" {
		return nil, apperror.Validation("provider reference is required")
	}

	// Replayed webhooks return the prior transaction before any invoice
	// state checks; a paid invoice must not fail its own duplicate.
	idempKey := domain.GatewayIdempotencyKey(req.ProviderRef)
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, idempKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("idempotency precheck: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	inv, err := s.getOpenInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceableKind != domain.InvoiceableSystem {
		return nil, apperror.Validation("gateway payments apply to clinic invoices only")
	}

	amount, err := s.resolveAmount(ctx, inv, req.Amount)
	if err != nil {
		return nil, err
	}

	clinic, err := s.clinicWallet(ctx)
	if err != nil {
		return nil, err
	}

	method := domain.MethodCard
	providerRef := req.ProviderRef
	invoiceID := inv.ID
	txn, err := s.ledger.Apply(ctx, ports.TransactionSpec{
		ToWalletID:      &clinic.ID,
		InvoiceID:       &invoiceID,
		Amount:          amount,
		Type:            domain.TransactionTypeInvoicePayment,
		DirectionSource: domain.SourceExternalGateway,
		PaymentMethod:   &method,
		ProviderRef:     &providerRef,
		IdempotencyKey:  idempKey,
		Meta:            domain.TransactionMeta{Reason: "gateway payment"},
	})
	if err != nil {
		return nil, err
	}

	s.notifyPayment(ctx, inv, txn)
	return txn, nil
}

// ApplyManualPayment records an operator-entered payment. Cash and POS
// entries settle clinic invoices from outside; a transfer settles a
// practitioner invoice from the clinic wallet.
func (s *PaymentServiceImpl) ApplyManualPayment(ctx context.Context, req ports.ManualPaymentRequest) (*domain.Transaction, error) {
	if req.AttemptID == "" {
		return nil, apperror.Validation("attempt id is required")
	}

	idempKey := domain.ManualIdempotencyKey(req.AttemptID)
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, idempKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("idempotency precheck: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	inv, err := s.getOpenInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	amount, err := s.resolveAmount(ctx, inv, req.Amount)
	if err != nil {
		return nil, err
	}

	clinic, err := s.clinicWallet(ctx)
	if err != nil {
		return nil, err
	}

	invoiceID := inv.ID
	method := req.Method
	spec := ports.TransactionSpec{
		InvoiceID:      &invoiceID,
		Amount:         amount,
		Type:           domain.TransactionTypeInvoicePayment,
		PaymentMethod:  &method,
		IdempotencyKey: idempKey,
		Meta:           domain.TransactionMeta{Reason: "manual payment", AttemptID: req.AttemptID},
	}
	if req.ReceiptRef != nil {
		spec.Meta.ReceiptRef = *req.ReceiptRef
	}

	switch inv.InvoiceableKind {
	case domain.InvoiceableSystem:
		switch req.Method {
		case domain.MethodCash:
			spec.DirectionSource = domain.SourceExternalCash
		case domain.MethodPOS:
			spec.DirectionSource = domain.SourceExternalPOS
		default:
			return nil, apperror.Validation("manual clinic payments must be cash or pos")
		}
		spec.ToWalletID = &clinic.ID

	case domain.InvoiceablePractitioner:
		if req.Method != domain.MethodTransfer {
			return nil, apperror.Validation("practitioner invoices are settled by transfer")
		}
		// The practitioner's wallet was recorded on the invoice at
		// generation; getOpenInvoice already rejected a missing one.
		spec.DirectionSource = domain.SourceInternalWallet
		spec.FromWalletID = &clinic.ID
		spec.ToWalletID = inv.CustomerWalletID

	default:
		return nil, apperror.Validation("unknown invoiceable kind")
	}

	txn, err := s.ledger.Apply(ctx, spec)
	if err != nil {
		return nil, err
	}

	s.notifyPayment(ctx, inv, txn)
	return txn, nil
}

func (s *PaymentServiceImpl) getOpenInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if !inv.IsOpen() {
		return nil, apperror.ErrInvoiceNotPayable()
	}
	if inv.CustomerWalletID == nil {
		return nil, apperror.ErrMissingCustomerWallet()
	}
	return inv, nil
}

// resolveAmount defaults a nil amount to the invoice's remaining balance and
// rejects amounts that would overpay.
func (s *PaymentServiceImpl) resolveAmount(ctx context.Context, inv *domain.Invoice, requested *decimal.Decimal) (decimal.Decimal, error) {
	paid, err := s.txRepo.SumCompletedByInvoice(ctx, nil, inv.ID, domain.TransactionTypeInvoicePayment)
	if err != nil {
		return decimal.Zero, apperror.ErrDatabaseError(err)
	}
	remaining := inv.Price.Sub(paid)
	if !remaining.IsPositive() {
		return decimal.Zero, apperror.ErrInvoiceNotPayable()
	}

	if requested == nil {
		return remaining, nil
	}
	if !requested.IsPositive() {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	if requested.GreaterThan(remaining) {
		return decimal.Zero, apperror.Validation("amount exceeds remaining invoice balance")
	}
	return *requested, nil
}

func (s *PaymentServiceImpl) clinicWallet(ctx context.Context) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetOrCreate(ctx, domain.OwnerSystem, s.settings.ClinicOwnerID, s.settings.Currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get clinic wallet: %w", err))
	}
	return w, nil
}

// notifyPayment fires a best-effort notification after commit. Failure here
// never affects the recorded payment.
func (s *PaymentServiceImpl) notifyPayment(ctx context.Context, inv *domain.Invoice, txn *domain.Transaction) {
	recipient, audience := notificationTarget(ctx, s.walletRepo, inv)
	n := ports.Notification{
		Invoice:      inv,
		Transaction:  txn,
		RecipientID:  recipient,
		Audience:     audience,
		Organization: s.settings.OrganizationName,
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("payment notification failed")
	}
}

// notificationTarget resolves who should hear about an invoice event: the
// practitioner for practitioner invoices, otherwise the customer wallet owner.
func notificationTarget(ctx context.Context, wallets ports.WalletRepository, inv *domain.Invoice) (uuid.UUID, domain.OwnerKind) {
	if inv.InvoiceableKind == domain.InvoiceablePractitioner {
		if inv.Meta.PractitionerID != nil {
			return *inv.Meta.PractitionerID, domain.OwnerPractitioner
		}
		return inv.InvoiceableID, domain.OwnerPractitioner
	}
	if inv.CustomerWalletID != nil {
		if w, err := wallets.GetByID(ctx, *inv.CustomerWalletID); err == nil && w != nil {
			return w.OwnerID, w.OwnerKind
		}
	}
	return inv.InvoiceableID, domain.OwnerUser
}
