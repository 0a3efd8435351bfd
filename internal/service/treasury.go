package service

import (
	"context"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/store"
	"go.uber.org/zap"
)

// TreasuryService performs the one-time treasury setup.
type TreasuryService struct {
	deps      Deps
	authority string
	log       *zap.Logger
}

// NewTreasuryService only lets authority initialize the treasury.
func NewTreasuryService(deps Deps, authority string) *TreasuryService {
	deps = deps.withDefaults()
	return &TreasuryService{deps: deps, authority: authority, log: deps.Log.Named("treasury")}
}

func (s *TreasuryService) Initialize(ctx context.Context, caller string) (*domain.Treasury, error) {
	if caller == "" || caller != s.authority {
		return nil, domain.ErrUnauthorized
	}
	tr := &domain.Treasury{
		Address:   address.Treasury(),
		Authority: caller,
		CreatedAt: s.deps.Clock.Now(),
	}
	err := s.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InitTreasury(ctx, tr)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("treasury initialized", zap.String("authority", caller))
	return tr, nil
}

func (s *TreasuryService) Get(ctx context.Context) (*domain.Treasury, error) {
	return s.deps.Store.GetTreasury(ctx)
}
