package service

import (
	"context"

	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/store"
)

// WalletService exposes native balances. Deposit exists for development
// environments; production wallets are funded by the seeder or custody.
type WalletService struct {
	deps Deps
}

func NewWalletService(deps Deps) *WalletService {
	return &WalletService{deps: deps.withDefaults()}
}

func (s *WalletService) Deposit(ctx context.Context, owner string, amount int64) (*domain.Wallet, error) {
	if owner == "" {
		return nil, domain.ErrInvalidRequest
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	err := s.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreditWallet(ctx, owner, amount)
	})
	if err != nil {
		return nil, err
	}
	return s.deps.Store.GetWallet(ctx, owner)
}

func (s *WalletService) Get(ctx context.Context, owner string) (*domain.Wallet, error) {
	return s.deps.Store.GetWallet(ctx, owner)
}
