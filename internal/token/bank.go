package token

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/punchamoorthee/faktor/internal/domain"
)

// Bank is an in-memory Movement used by the development server and tests.
type Bank struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func NewBank() *Bank {
	return &Bank{accounts: make(map[string]*Account)}
}

// Open registers a token account with an initial balance.
func (b *Bank) Open(ctx context.Context, ref, owner, assetType string, balance int64) error {
	if balance < 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[ref]; ok {
		return fmt.Errorf("%s: %w", ref, ErrAccountExists)
	}
	b.accounts[ref] = &Account{Ref: ref, Owner: owner, AssetType: assetType, Balance: balance}
	return nil
}

func (b *Bank) Account(ctx context.Context, ref string) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[ref]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

// Accounts returns every account owned by owner, ordered by ref.
func (b *Bank) Accounts(owner string) []Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Account
	for _, acc := range b.accounts {
		if acc.Owner == owner {
			out = append(out, *acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

func (b *Bank) Approve(ctx context.Context, owner, ref, delegate string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[ref]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if acc.Owner != owner {
		return domain.ErrUnauthorized
	}
	prev := *acc
	acc.Delegate = delegate
	acc.DelegatedAmount = amount
	if amount == 0 {
		acc.Delegate = ""
	}
	b.onRollback(ctx, acc, prev)
	return nil
}

func (b *Bank) Revoke(ctx context.Context, owner, ref string) error {
	return b.Approve(ctx, owner, ref, "", 0)
}

func (b *Bank) Transfer(ctx context.Context, authority, source, destination string, amount int64) (Outcome, error) {
	if amount <= 0 {
		return Outcome{}, domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.accounts[source]
	dst := b.accounts[destination]
	outcome := Check(src, dst, authority, amount)
	if outcome.Succeeded {
		prevSrc, prevDst := *src, *dst
		Apply(src, dst, amount)
		b.onRollback(ctx, src, prevSrc)
		b.onRollback(ctx, dst, prevDst)
	}
	return outcome, nil
}

type rollbackKey struct{}

// WithRollback returns a context under which Bank mutations hand a
// compensating step to register. A transaction that aborts runs the steps in
// reverse order to put the accounts back.
func WithRollback(ctx context.Context, register func(undo func())) context.Context {
	return context.WithValue(ctx, rollbackKey{}, register)
}

func (b *Bank) onRollback(ctx context.Context, acc *Account, prev Account) {
	register, ok := ctx.Value(rollbackKey{}).(func(undo func()))
	if !ok {
		return
	}
	register(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		*acc = prev
	})
}
