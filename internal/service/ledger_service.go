package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// LedgerServiceImpl implements ports.LedgerService. It is the only component
// that mutates wallet balances; payments, payouts and refunds all funnel
// their movements through Apply.
type LedgerServiceImpl struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	recomputer ports.InvoiceRecomputer
	idempCache ports.IdempotencyCache
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	recomputer ports.InvoiceRecomputer,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		recomputer: recomputer,
		idempCache: idempCache,
		transactor: transactor,
		log:        log,
	}
}

// Apply atomically records a transaction and adjusts the referenced wallets.
// Replaying an idempotency key returns the previously applied transaction.
func (s *LedgerServiceImpl) Apply(ctx context.Context, spec ports.TransactionSpec) (*domain.Transaction, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, spec.IdempotencyKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", spec.IdempotencyKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return unmarshalCachedTransaction(cached)
	}

	// Layer 2: DB idempotency check
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, spec.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	from, to, err := s.lockWallets(ctx, dbTx, spec.FromWalletID, spec.ToWalletID)
	if err != nil {
		return nil, err
	}

	// Business rule: sufficient funds on the debited side
	if from != nil && !from.CanCover(spec.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	if from != nil {
		if err := s.walletRepo.AdjustBalance(ctx, dbTx, from.ID, spec.Amount.Neg()); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("debit wallet: %w", err))
		}
	}
	if to != nil {
		if err := s.walletRepo.AdjustBalance(ctx, dbTx, to.ID, spec.Amount); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("credit wallet: %w", err))
		}
	}

	txn := &domain.Transaction{
		ID:              uuid.New(),
		FromWalletID:    spec.FromWalletID,
		ToWalletID:      spec.ToWalletID,
		InvoiceID:       spec.InvoiceID,
		Amount:          spec.Amount,
		Type:            spec.Type,
		DirectionSource: spec.DirectionSource,
		PaymentMethod:   spec.PaymentMethod,
		ProviderRef:     spec.ProviderRef,
		IdempotencyKey:  spec.IdempotencyKey,
		Status:          domain.TransactionStatusCompleted,
		Meta:            spec.Meta,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if isUniqueViolation(err) {
			// A concurrent caller won the race on the same idempotency key.
			// Our balance adjustments roll back; theirs is the answer.
			_ = dbTx.Rollback(ctx)
			return s.fetchWinner(ctx, spec.IdempotencyKey)
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}

	// Invoice status is re-derived inside the same transaction so the
	// invoice can never be observed paid without its payment committed.
	if spec.InvoiceID != nil {
		switch spec.Type {
		case domain.TransactionTypeInvoicePayment:
			if err := s.recomputer.RecomputeStatus(ctx, dbTx, *spec.InvoiceID, txn); err != nil {
				return nil, err
			}
		case domain.TransactionTypeRefund:
			if err := s.recomputer.RecomputeRefundStatus(ctx, dbTx, *spec.InvoiceID); err != nil {
				return nil, err
			}
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	// Post-process: cache in Redis (best-effort)
	respJSON, err := json.Marshal(txn)
	if err == nil {
		if err := s.idempCache.Set(ctx, spec.IdempotencyKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", spec.IdempotencyKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.String()).
		Str("idempotency_key", txn.IdempotencyKey).
		Msg("ledger transaction applied")

	return txn, nil
}

// lockWallets acquires FOR UPDATE locks on the referenced wallets. When both
// sides are present the locks are taken in ascending wallet-ID order so two
// concurrent transfers between the same pair cannot deadlock.
func (s *LedgerServiceImpl) lockWallets(ctx context.Context, dbTx pgx.Tx, fromID, toID *uuid.UUID) (*domain.Wallet, *domain.Wallet, error) {
	lock := func(id uuid.UUID) (*domain.Wallet, error) {
		w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
		}
		if w == nil {
			return nil, apperror.ErrNotFound("wallet")
		}
		return w, nil
	}

	var from, to *domain.Wallet
	var err error

	switch {
	case fromID != nil && toID != nil:
		first, second := *fromID, *toID
		if second.String() < first.String() {
			first, second = second, first
		}
		var w1, w2 *domain.Wallet
		if w1, err = lock(first); err != nil {
			return nil, nil, err
		}
		if w2, err = lock(second); err != nil {
			return nil, nil, err
		}
		if first == *fromID {
			from, to = w1, w2
		} else {
			from, to = w2, w1
		}
	case fromID != nil:
		if from, err = lock(*fromID); err != nil {
			return nil, nil, err
		}
	case toID != nil:
		if to, err = lock(*toID); err != nil {
			return nil, nil, err
		}
	}
	return from, to, nil
}

// fetchWinner returns the transaction that beat us to an idempotency key.
func (s *LedgerServiceImpl) fetchWinner(ctx context.Context, key string) (*domain.Transaction, error) {
	winner, err := s.txRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch winning transaction: %w", err))
	}
	if winner == nil {
		return nil, apperror.InternalError(fmt.Errorf("unique violation but no transaction for key %s", key))
	}
	return winner, nil
}

func validateSpec(spec ports.TransactionSpec) error {
	if !spec.Amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if spec.IdempotencyKey == "" {
		return apperror.Validation("idempotency key is required")
	}
	if !spec.Type.Valid() {
		return apperror.Validation("unknown transaction type")
	}
	if !spec.DirectionSource.Valid() {
		return apperror.Validation("unknown direction source")
	}

	from, to := spec.FromWalletID, spec.ToWalletID
	if from == nil && to == nil {
		return apperror.ErrInvalidWalletPairing()
	}
	if from != nil && to != nil && *from == *to {
		return apperror.ErrInvalidWalletPairing()
	}
	if spec.DirectionSource == domain.SourceInternalWallet {
		if from == nil || to == nil {
			return apperror.ErrInvalidWalletPairing()
		}
	} else {
		// External sources cross the boundary on exactly one side.
		if from != nil && to != nil {
			return apperror.ErrInvalidWalletPairing()
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// unmarshalCachedTransaction deserializes a cached transaction.
func unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	if err := json.Unmarshal(data, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached tx: %w", err))
	}
	return txn, nil
}
