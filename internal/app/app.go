// Package app assembles the store, token movement, event publisher and
// services from configuration. Both the API server and the keeper start here.
package app

import (
	"context"

	"github.com/punchamoorthee/faktor/internal/clock"
	"github.com/punchamoorthee/faktor/internal/config"
	"github.com/punchamoorthee/faktor/internal/events"
	"github.com/punchamoorthee/faktor/internal/service"
	"github.com/punchamoorthee/faktor/internal/store"
	"github.com/punchamoorthee/faktor/internal/token"
	"go.uber.org/zap"
)

type App struct {
	Store    store.Store
	Tokens   token.Movement
	Registry token.Registry
	Events   events.Publisher

	Ledger   *service.Ledger
	Engine   *service.Engine
	Treasury *service.TreasuryService
	Invoices *service.InvoiceService
	Wallets  *service.WalletService
}

// New connects to Postgres when DB_SOURCE is set and falls back to the
// in-memory store and token bank otherwise.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}
	if cfg.UsesPostgres() {
		pg, err := store.NewPostgres(ctx, cfg.DBSource, log)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		tokens := store.NewPostgresTokens(pg.Db)
		a.Store, a.Tokens, a.Registry = pg, tokens, tokens
		log.Info("using postgres store")
	} else {
		bank := token.NewBank()
		a.Store, a.Tokens, a.Registry = store.NewMemoryStore(), bank, bank
		log.Warn("DB_SOURCE not set, using in-memory store")
	}

	a.Events = events.New(cfg.AMQPURL, cfg.EventsExchange, log)

	deps := service.Deps{
		Store:  a.Store,
		Tokens: a.Tokens,
		Policy: cfg.FeePolicy(),
		Clock:  clock.System{},
		Events: a.Events,
		Log:    log,
	}
	a.Ledger = service.NewLedger(deps)
	a.Engine = service.NewEngine(deps)
	a.Treasury = service.NewTreasuryService(deps, cfg.TreasuryAuthority)
	a.Invoices = service.NewInvoiceService(deps)
	a.Wallets = service.NewWalletService(deps)
	return a, nil
}

func (a *App) Close() {
	a.Events.Close()
	a.Store.Close()
}
