package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	_ ports.WalletRepository      = (*inMemoryWalletRepo)(nil)
	_ ports.InvoiceRepository     = (*inMemoryInvoiceRepo)(nil)
	_ ports.TransactionRepository = (*inMemoryTransactionRepo)(nil)
	_ ports.DBTransactor          = (*lockingTransactor)(nil)
)

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func (r *inMemoryWalletRepo) GetOrCreate(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.OwnerKind == kind && w.OwnerID == ownerID {
			cp := *w
			return &cp, nil
		}
	}
	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerKind: kind,
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.wallets[w.ID] = w
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetByOwner(ctx context.Context, kind domain.OwnerKind, ownerID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.OwnerKind == kind && w.OwnerID == ownerID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryWalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryWalletRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return fmt.Errorf("wallet not found")
	}
	w.Balance = w.Balance.Add(delta)
	w.UpdatedAt = time.Now().UTC()
	registerUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if w, ok := r.wallets[id]; ok {
			w.Balance = w.Balance.Sub(delta)
		}
	})
	return nil
}

// --- In-Memory Invoice Repo ---

type inMemoryInvoiceRepo struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*domain.Invoice
}

func newInMemoryInvoiceRepo() *inMemoryInvoiceRepo {
	return &inMemoryInvoiceRepo{invoices: make(map[uuid.UUID]*domain.Invoice)}
}

func (r *inMemoryInvoiceRepo) Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.invoices[inv.ID] = &cp
	id := inv.ID
	registerUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.invoices, id)
	})
	return nil
}

func (r *inMemoryInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (r *inMemoryInvoiceRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryInvoiceRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.InvoiceStatus, method *domain.PaymentMethod, paidAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return fmt.Errorf("invoice not found")
	}
	prevStatus, prevMethod, prevPaidAt := inv.Status, inv.PaymentMethod, inv.PaidAt
	inv.Status = status
	inv.PaymentMethod = method
	inv.PaidAt = paidAt
	inv.UpdatedAt = time.Now().UTC()
	registerUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if inv, ok := r.invoices[id]; ok {
			inv.Status = prevStatus
			inv.PaymentMethod = prevMethod
			inv.PaidAt = prevPaidAt
		}
	})
	return nil
}

func (r *inMemoryInvoiceRepo) SumAllocatedForEvent(ctx context.Context, q ports.Querier, eventID uuid.UUID) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	for _, inv := range r.invoices {
		if amount, ok := inv.Meta.AppointmentAmounts[eventID]; ok {
			total = total.Add(amount)
		}
	}
	return total, nil
}

// AcquireAllocationLock is a no-op: the locking transactor already serializes
// all in-memory transactions.
func (r *inMemoryInvoiceRepo) AcquireAllocationLock(ctx context.Context, tx pgx.Tx, practitionerID uuid.UUID) error {
	return nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.IdempotencyKey == t.IdempotencyKey {
			// Mirror the unique index on idempotency_key.
			return &pgconn.PgError{Code: "23505", ConstraintName: "transactions_idempotency_key_key"}
		}
	}
	cp := *t
	r.transactions[t.ID] = &cp
	id := t.ID
	registerUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.transactions, id)
	})
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) SumCompletedByInvoice(ctx context.Context, q ports.Querier, invoiceID uuid.UUID, txType domain.TransactionType) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	for _, t := range r.transactions {
		if t.InvoiceID != nil && *t.InvoiceID == invoiceID && t.Type == txType && t.Status == domain.TransactionStatusCompleted {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r *inMemoryTransactionRepo) ExistsByInvoiceAndType(ctx context.Context, invoiceID uuid.UUID, txType domain.TransactionType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.InvoiceID != nil && *t.InvoiceID == invoiceID && t.Type == txType && t.Status == domain.TransactionStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryTransactionRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.Transaction
	for _, t := range r.transactions {
		if t.InvoiceID != nil && *t.InvoiceID == invoiceID {
			matched = append(matched, *t)
		}
	}
	return paginate(matched, page, pageSize)
}

func (r *inMemoryTransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.Transaction
	for _, t := range r.transactions {
		from := t.FromWalletID != nil && *t.FromWalletID == walletID
		to := t.ToWalletID != nil && *t.ToWalletID == walletID
		if from || to {
			matched = append(matched, *t)
		}
	}
	return paginate(matched, page, pageSize)
}

// paginate sorts newest-first and slices out one page, matching the SQL
// ORDER BY created_at DESC LIMIT/OFFSET the real repo uses.
func paginate(txns []domain.Transaction, page, pageSize int) ([]domain.Transaction, int64, error) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.After(txns[j].CreatedAt)
		}
		return txns[i].ID.String() > txns[j].ID.String()
	})
	total := int64(len(txns))
	start := (page - 1) * pageSize
	if start >= len(txns) {
		return []domain.Transaction{}, total, nil
	}
	end := start + pageSize
	if end > len(txns) {
		end = len(txns)
	}
	return txns[start:end], total, nil
}

// --- Locking Transactor ---

// lockingTransactor serializes all transactions behind one mutex, standing in
// for Postgres row locking. The fake tx keeps an undo journal so a rollback
// really reverts repo state, which the ledger's duplicate-key and overpay
// paths depend on.
type lockingTransactor struct {
	mu sync.Mutex
}

func newLockingTransactor() *lockingTransactor {
	return &lockingTransactor{}
}

func (t *lockingTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &memTx{mu: &t.mu}, nil
}

// registerUndo records a compensating action on the surrounding fake tx, if
// there is one.
func registerUndo(tx pgx.Tx, fn func()) {
	if mt, ok := tx.(*memTx); ok {
		mt.undo = append(mt.undo, fn)
	}
}

// memTx is the in-memory pgx.Tx. Commit discards the undo journal; Rollback
// replays it in reverse. Both release the transactor's lock exactly once.
type memTx struct {
	mu   *sync.Mutex
	undo []func()
	done bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.mu.Unlock()
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }
