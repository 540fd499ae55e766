package service

import (
	"context"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"

	"github.com/google/uuid"
)

const defaultPageSize = 20

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
) ports.ReportingService {
	return &reportingService{
		txRepo:     txRepo,
		walletRepo: walletRepo,
	}
}

// GetOwnerWallet returns the wallet for an owner, without creating one.
func (s *reportingService) GetOwnerWallet(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID) (*domain.Wallet, error) {
	if !kind.Valid() {
		return nil, apperror.Validation("unknown owner kind")
	}
	wallet, err := s.walletRepo.GetByOwner(ctx, kind, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// GetWalletStatement returns the wallet and a page of transactions touching
// it on either side, newest first.
func (s *reportingService) GetWalletStatement(ctx context.Context, walletID uuid.UUID, page, pageSize int) (*domain.Wallet, []domain.Transaction, int64, error) {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, nil, 0, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, nil, 0, apperror.ErrNotFound("wallet")
	}

	page, pageSize = normalizePage(page, pageSize)
	txns, total, err := s.txRepo.ListByWallet(ctx, walletID, page, pageSize)
	if err != nil {
		return nil, nil, 0, apperror.ErrDatabaseError(err)
	}
	return wallet, txns, total, nil
}

// ListInvoiceTransactions returns a page of an invoice's transactions.
func (s *reportingService) ListInvoiceTransactions(ctx context.Context, invoiceID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	txns, total, err := s.txRepo.ListByInvoice(ctx, invoiceID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return txns, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	return page, pageSize
}
