package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/faktor/internal/config"
	"github.com/punchamoorthee/faktor/internal/logger"
	"github.com/punchamoorthee/faktor/internal/store"
	"go.uber.org/zap"
)

var (
	identities    int
	walletBalance int64
	tokenBalance  int64
	assetType     string
)

func init() {
	flag.IntVar(&identities, "identities", 1000, "Number of identities to create")
	flag.Int64Var(&walletBalance, "wallet", 10_000_000, "Native wallet balance per identity")
	flag.Int64Var(&tokenBalance, "tokens", 100_000, "Token balance per asset account")
	flag.StringVar(&assetType, "asset", "usdc", "Asset type of the seeded token accounts")
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireDatabase("seeder"); err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, cfg.DBSource, logg)
	if err != nil {
		logg.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		logg.Fatal("migration failed", zap.Error(err))
	}

	var count int
	if err := pg.Db.QueryRow(ctx, "SELECT COUNT(*) FROM wallets").Scan(&count); err != nil {
		logg.Fatal("count wallets", zap.Error(err))
	}
	if count >= identities {
		logg.Info("database already seeded, skipping", zap.Int("wallets", count))
		return
	}

	wallets := make([][]interface{}, 0, identities)
	accounts := make([][]interface{}, 0, identities)
	for i := 0; i < identities; i++ {
		owner := identity(i)
		wallets = append(wallets, []interface{}{owner, walletBalance})
		accounts = append(accounts, []interface{}{accountRef(i, assetType), owner, assetType, tokenBalance})
	}

	// CopyFrom is all-or-nothing per table, so both tables are loaded in one tx.
	tx, err := pg.Db.Begin(ctx)
	if err != nil {
		logg.Fatal("begin", zap.Error(err))
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"wallets"}, []string{"owner", "balance"}, pgx.CopyFromRows(wallets))
	if err != nil {
		logg.Fatal("bulk insert wallets failed", zap.Error(err))
	}
	m, err := tx.CopyFrom(ctx, pgx.Identifier{"token_accounts"},
		[]string{"ref", "owner", "asset_type", "balance"}, pgx.CopyFromRows(accounts))
	if err != nil {
		logg.Fatal("bulk insert token accounts failed", zap.Error(err))
	}
	if err := tx.Commit(ctx); err != nil {
		logg.Fatal("commit", zap.Error(err))
	}

	logg.Info("seeded", zap.Int64("wallets", n), zap.Int64("token_accounts", m))
}

// cmd/benchmark derives the same names.
func identity(i int) string { return fmt.Sprintf("user-%04d", i) }

func accountRef(i int, asset string) string { return fmt.Sprintf("user-%04d-%s", i, asset) }
