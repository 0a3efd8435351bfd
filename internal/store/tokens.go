package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/token"
)

// PostgresTokens implements token.Movement over the token_accounts table. When
// called inside Postgres.RunInTx it joins that transaction, so a distribution
// and its token movement commit or roll back together.
type PostgresTokens struct {
	db *pgxpool.Pool
}

func NewPostgresTokens(db *pgxpool.Pool) *PostgresTokens {
	return &PostgresTokens{db: db}
}

// Open creates a token account. Used by the seeder and tests.
func (p *PostgresTokens) Open(ctx context.Context, ref, owner, assetType string, balance int64) error {
	_, err := p.querier(ctx).Exec(ctx,
		"INSERT INTO token_accounts (ref, owner, asset_type, balance) VALUES ($1, $2, $3, $4)",
		ref, owner, assetType, balance,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", ref, token.ErrAccountExists)
	}
	return err
}

func (p *PostgresTokens) Account(ctx context.Context, ref string) (*token.Account, error) {
	return scanTokenAccount(p.querier(ctx).QueryRow(ctx,
		"SELECT ref, owner, asset_type, balance, delegate, delegated_amount FROM token_accounts WHERE ref = $1",
		ref))
}

func (p *PostgresTokens) Approve(ctx context.Context, owner, ref, delegate string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	if amount == 0 {
		delegate = ""
	}
	q := p.querier(ctx)
	tag, err := q.Exec(ctx,
		"UPDATE token_accounts SET delegate = $1, delegated_amount = $2 WHERE ref = $3 AND owner = $4",
		delegate, amount, ref, owner,
	)
	if err != nil {
		return fmt.Errorf("approve failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.Account(ctx, ref); err != nil {
			return err
		}
		return domain.ErrUnauthorized
	}
	return nil
}

func (p *PostgresTokens) Revoke(ctx context.Context, owner, ref string) error {
	return p.Approve(ctx, owner, ref, "", 0)
}

func (p *PostgresTokens) Transfer(ctx context.Context, authority, source, destination string, amount int64) (token.Outcome, error) {
	if amount <= 0 {
		return token.Outcome{}, domain.ErrInvalidAmount
	}
	if tx, ok := txFromContext(ctx); ok {
		return p.transfer(ctx, tx, authority, source, destination, amount)
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return token.Outcome{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	outcome, err := p.transfer(ctx, tx, authority, source, destination, amount)
	if err != nil {
		return token.Outcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return token.Outcome{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return outcome, nil
}

func (p *PostgresTokens) transfer(ctx context.Context, tx pgx.Tx, authority, source, destination string, amount int64) (token.Outcome, error) {
	// Lock both accounts in ref order so opposing transfers cannot deadlock.
	first, second := source, destination
	if first > second {
		first, second = second, first
	}
	locked := make(map[string]*token.Account, 2)
	for _, ref := range []string{first, second} {
		acc, err := scanTokenAccount(tx.QueryRow(ctx,
			"SELECT ref, owner, asset_type, balance, delegate, delegated_amount FROM token_accounts WHERE ref = $1 FOR UPDATE",
			ref))
		if errors.Is(err, domain.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return token.Outcome{}, fmt.Errorf("lock acquisition failed: %w", err)
		}
		locked[ref] = acc
	}

	src, dst := locked[source], locked[destination]
	outcome := token.Check(src, dst, authority, amount)
	if !outcome.Succeeded {
		return outcome, nil
	}
	token.Apply(src, dst, amount)

	for _, acc := range []*token.Account{src, dst} {
		if _, err := tx.Exec(ctx,
			"UPDATE token_accounts SET balance = $1, delegate = $2, delegated_amount = $3 WHERE ref = $4",
			acc.Balance, acc.Delegate, acc.DelegatedAmount, acc.Ref,
		); err != nil {
			return token.Outcome{}, fmt.Errorf("token account update failed: %w", err)
		}
	}

	movementID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO token_entries (movement_id, authority, account_ref, delta)
		 VALUES ($1, $2, $3, $4), ($1, $2, $5, $6)`,
		movementID, authority, source, -amount, destination, amount,
	); err != nil {
		return token.Outcome{}, fmt.Errorf("token entry failed: %w", err)
	}
	return outcome, nil
}

func (p *PostgresTokens) querier(ctx context.Context) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return p.db
}

func scanTokenAccount(row pgx.Row) (*token.Account, error) {
	var acc token.Account
	err := row.Scan(&acc.Ref, &acc.Owner, &acc.AssetType, &acc.Balance, &acc.Delegate, &acc.DelegatedAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
