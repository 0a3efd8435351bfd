package store

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/punchamoorthee/faktor/internal/token"
)

// MemoryStore keeps every record in process memory. Write transactions are
// serialized behind a single lock and journal an undo step per mutation, so a
// transaction that returns an error leaves no trace. token.Bank mutations made
// with the transaction's context are journaled too.
type MemoryStore struct {
	mu        sync.RWMutex
	payments  map[domain.Address]*domain.Payment
	logs      map[domain.Address]*domain.TransferLog
	logsByPay map[domain.Address][]domain.Address
	treasury  *domain.Treasury
	wallets   map[string]int64
	invoices  map[domain.Address]*domain.Invoice
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[domain.Address]*domain.Payment),
		logs:      make(map[domain.Address]*domain.TransferLog),
		logsByPay: make(map[domain.Address][]domain.Address),
		wallets:   make(map[string]int64),
		invoices:  make(map[domain.Address]*domain.Invoice),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	ctx = token.WithRollback(ctx, tx.journal)
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[addr]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	out := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if filter.Matches(p) {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NextTransferAt != out[j].NextTransferAt {
			return out[i].NextTransferAt < out[j].NextTransferAt
		}
		return out[i].Address < out[j].Address
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[addr]
	if !ok {
		return nil, domain.ErrTransferLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListTransferLogs(ctx context.Context, payment domain.Address) ([]domain.TransferLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.payments[payment]; !ok {
		return nil, domain.ErrPaymentNotFound
	}
	out := make([]domain.TransferLog, 0, len(s.logsByPay[payment]))
	for _, addr := range s.logsByPay[payment] {
		out = append(out, *s.logs[addr])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *MemoryStore) GetTreasury(ctx context.Context) (*domain.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.treasury == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}
	cp := *s.treasury
	return &cp, nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, owner string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.wallets[owner]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &domain.Wallet{Owner: owner, Balance: bal}, nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[addr]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

// memTx runs with MemoryStore.mu held for writing.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) journal(fn func()) { t.undo = append(t.undo, fn) }

func (t *memTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.s.payments[p.Address]; ok {
		return domain.ErrDuplicateKey
	}
	cp := *p
	t.s.payments[p.Address] = &cp
	t.journal(func() { delete(t.s.payments, p.Address) })
	return nil
}

func (t *memTx) LockPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error) {
	p, ok := t.s.payments[addr]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	prev, ok := t.s.payments[p.Address]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	cp := *p
	t.s.payments[p.Address] = &cp
	t.journal(func() { t.s.payments[p.Address] = prev })
	return nil
}

func (t *memTx) GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error) {
	l, ok := t.s.logs[addr]
	if !ok {
		return nil, domain.ErrTransferLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) InsertTransferLog(ctx context.Context, l *domain.TransferLog) error {
	if _, ok := t.s.logs[l.Address]; ok {
		return domain.ErrDuplicateLog
	}
	cp := *l
	t.s.logs[l.Address] = &cp
	prevIndex := t.s.logsByPay[l.Payment]
	t.s.logsByPay[l.Payment] = append(append([]domain.Address(nil), prevIndex...), l.Address)
	t.journal(func() {
		delete(t.s.logs, l.Address)
		t.s.logsByPay[l.Payment] = prevIndex
	})
	return nil
}

func (t *memTx) InitTreasury(ctx context.Context, tr *domain.Treasury) error {
	if t.s.treasury != nil {
		return domain.ErrTreasuryExists
	}
	cp := *tr
	if cp.Address == "" {
		cp.Address = address.Treasury()
	}
	t.s.treasury = &cp
	t.journal(func() { t.s.treasury = nil })
	return nil
}

func (t *memTx) GetTreasury(ctx context.Context) (*domain.Treasury, error) {
	if t.s.treasury == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}
	cp := *t.s.treasury
	return &cp, nil
}

func (t *memTx) CreditTreasury(ctx context.Context, amount int64) error {
	if t.s.treasury == nil {
		return domain.ErrTreasuryNotInitialized
	}
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	prev := t.s.treasury.Balance
	next, err := fees.CheckedAdd(prev, amount)
	if err != nil {
		return err
	}
	t.s.treasury.Balance = next
	t.journal(func() { t.s.treasury.Balance = prev })
	return nil
}

func (t *memTx) DebitWallet(ctx context.Context, owner string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	prev, ok := t.s.wallets[owner]
	if prev < amount {
		return domain.ErrInsufficientFunds
	}
	t.s.wallets[owner] = prev - amount
	t.journal(func() { t.restoreWallet(owner, prev, ok) })
	return nil
}

func (t *memTx) CreditWallet(ctx context.Context, owner string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	prev, ok := t.s.wallets[owner]
	next, err := fees.CheckedAdd(prev, amount)
	if err != nil {
		return err
	}
	t.s.wallets[owner] = next
	t.journal(func() { t.restoreWallet(owner, prev, ok) })
	return nil
}

func (t *memTx) restoreWallet(owner string, balance int64, existed bool) {
	if !existed {
		delete(t.s.wallets, owner)
		return
	}
	t.s.wallets[owner] = balance
}

func (t *memTx) InsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	if _, ok := t.s.invoices[inv.Address]; ok {
		return domain.ErrDuplicateInvoice
	}
	cp := *inv
	t.s.invoices[inv.Address] = &cp
	t.journal(func() { delete(t.s.invoices, inv.Address) })
	return nil
}

func (t *memTx) LockInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error) {
	inv, ok := t.s.invoices[addr]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	prev, ok := t.s.invoices[inv.Address]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	cp := *inv
	t.s.invoices[inv.Address] = &cp
	t.journal(func() { t.s.invoices[inv.Address] = prev })
	return nil
}

func (t *memTx) DeleteInvoice(ctx context.Context, addr domain.Address) error {
	prev, ok := t.s.invoices[addr]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	delete(t.s.invoices, addr)
	t.journal(func() { t.s.invoices[addr] = prev })
	return nil
}
