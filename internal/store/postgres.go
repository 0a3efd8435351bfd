package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/domain"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const paymentColumns = `address, idempotency_key, debtor, creditor, debtor_asset_account,
	creditor_asset_account, asset_type, amount, recurrence_interval, next_transfer_at,
	completed_at, status, memo, reserve, created_at, updated_at`

const transferLogColumns = `address, payment, distributor, status, slot, amount,
	distributor_fee, treasury_fee, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// txFromContext returns the pgx transaction RunInTx placed in ctx, if any, so
// collaborators such as PostgresTokens join the same unit of work.
func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

type Postgres struct {
	Db  *pgxpool.Pool
	log *zap.Logger
}

func NewPostgres(ctx context.Context, connString string, log *zap.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool, log: log.Named("store.postgres")}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.log.Info("schema migrated")
	return nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) GetPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE address = $1", addr)
	return scanPayment(row)
}

func (s *Postgres) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	query := "SELECT " + paymentColumns + ` FROM payments
		WHERE ($1 = '' OR debtor = $1)
		  AND ($2 = '' OR creditor = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::bigint = 0 OR (next_transfer_at <> 0 AND next_transfer_at <= $4::bigint))
		ORDER BY next_transfer_at, address`
	args := []any{filter.Debtor, filter.Creditor, string(filter.Status), filter.DueBefore}
	if filter.Limit > 0 {
		query += " LIMIT $5"
		args = append(args, filter.Limit)
	}

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments failed: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (s *Postgres) GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error) {
	return getTransferLog(ctx, s.Db, addr)
}

func (s *Postgres) ListTransferLogs(ctx context.Context, payment domain.Address) ([]domain.TransferLog, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM payments WHERE address = $1)", payment).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrPaymentNotFound
	}

	rows, err := s.Db.Query(ctx,
		"SELECT "+transferLogColumns+" FROM transfer_logs WHERE payment = $1 ORDER BY slot",
		payment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.TransferLog, 0)
	for rows.Next() {
		l, err := scanTransferLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer log of %s: %w", payment, err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (s *Postgres) GetTreasury(ctx context.Context) (*domain.Treasury, error) {
	return getTreasury(ctx, s.Db)
}

func (s *Postgres) GetWallet(ctx context.Context, owner string) (*domain.Wallet, error) {
	w := domain.Wallet{Owner: owner}
	err := s.Db.QueryRow(ctx, "SELECT balance FROM wallets WHERE owner = $1", owner).Scan(&w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Postgres) GetInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error) {
	return getInvoice(ctx, s.Db, addr, false)
}

// pgTx implements Tx on top of one pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.q.Exec(ctx, "INSERT INTO payments ("+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.Address, p.IdempotencyKey, p.Debtor, p.Creditor, p.DebtorAssetAccount,
		p.CreditorAssetAccount, p.AssetType, p.Amount, p.RecurrenceInterval, p.NextTransferAt,
		p.CompletedAt, string(p.Status), p.Memo, p.Reserve, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("payment insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) LockPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error) {
	row := t.q.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE address = $1 FOR UPDATE", addr)
	return scanPayment(row)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE payments SET status = $1, next_transfer_at = $2, reserve = $3, updated_at = $4
		 WHERE address = $5`,
		string(p.Status), p.NextTransferAt, p.Reserve, p.UpdatedAt, p.Address,
	)
	if err != nil {
		return fmt.Errorf("payment update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (t *pgTx) GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error) {
	return getTransferLog(ctx, t.q, addr)
}

func (t *pgTx) InsertTransferLog(ctx context.Context, l *domain.TransferLog) error {
	_, err := t.q.Exec(ctx, "INSERT INTO transfer_logs ("+transferLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.Address, l.Payment, l.Distributor, string(l.Status), l.Slot, l.Amount,
		l.DistributorFee, l.TreasuryFee, l.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateLog
	}
	if err != nil {
		return fmt.Errorf("transfer log insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) InitTreasury(ctx context.Context, tr *domain.Treasury) error {
	addr := tr.Address
	if addr == "" {
		addr = address.Treasury()
	}
	_, err := t.q.Exec(ctx,
		"INSERT INTO treasury (address, authority, balance, created_at) VALUES ($1, $2, 0, $3)",
		addr, tr.Authority, tr.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrTreasuryExists
	}
	if err != nil {
		return fmt.Errorf("treasury insert failed: %w", err)
	}
	return nil
}

// GetTreasury does not lock the row. CreditTreasury is a single atomic
// UPDATE, and a shared lock here would deadlock two concurrent credits.
func (t *pgTx) GetTreasury(ctx context.Context) (*domain.Treasury, error) {
	return getTreasury(ctx, t.q)
}

func (t *pgTx) CreditTreasury(ctx context.Context, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	tag, err := t.q.Exec(ctx, "UPDATE treasury SET balance = balance + $1 WHERE address = $2", amount, address.Treasury())
	if err != nil {
		return fmt.Errorf("treasury credit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTreasuryNotInitialized
	}
	return nil
}

func (t *pgTx) DebitWallet(ctx context.Context, owner string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	tag, err := t.q.Exec(ctx,
		"UPDATE wallets SET balance = balance - $1 WHERE owner = $2 AND balance >= $1",
		amount, owner,
	)
	if err != nil {
		return fmt.Errorf("wallet debit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (t *pgTx) CreditWallet(ctx context.Context, owner string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallets (owner, balance) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		owner, amount,
	)
	if err != nil {
		return fmt.Errorf("wallet credit failed: %w", err)
	}
	return nil
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO invoices (address, creditor, debtor, balance, memo, reserve, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.Address, inv.Creditor, inv.Debtor, inv.Balance, inv.Memo, inv.Reserve, inv.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateInvoice
	}
	if err != nil {
		return fmt.Errorf("invoice insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) LockInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error) {
	return getInvoice(ctx, t.q, addr, true)
}

func (t *pgTx) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	tag, err := t.q.Exec(ctx, "UPDATE invoices SET balance = $1 WHERE address = $2", inv.Balance, inv.Address)
	if err != nil {
		return fmt.Errorf("invoice update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

func (t *pgTx) DeleteInvoice(ctx context.Context, addr domain.Address) error {
	tag, err := t.q.Exec(ctx, "DELETE FROM invoices WHERE address = $1", addr)
	if err != nil {
		return fmt.Errorf("invoice delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	err := row.Scan(&p.Address, &p.IdempotencyKey, &p.Debtor, &p.Creditor, &p.DebtorAssetAccount,
		&p.CreditorAssetAccount, &p.AssetType, &p.Amount, &p.RecurrenceInterval, &p.NextTransferAt,
		&p.CompletedAt, &status, &p.Memo, &p.Reserve, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment scan failed: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func scanTransferLog(row pgx.Row) (*domain.TransferLog, error) {
	var l domain.TransferLog
	var status string
	err := row.Scan(&l.Address, &l.Payment, &l.Distributor, &status, &l.Slot, &l.Amount,
		&l.DistributorFee, &l.TreasuryFee, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransferLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transfer log scan failed: %w", err)
	}
	l.Status = domain.TransferStatus(status)
	return &l, nil
}

func getTransferLog(ctx context.Context, q querier, addr domain.Address) (*domain.TransferLog, error) {
	return scanTransferLog(q.QueryRow(ctx, "SELECT "+transferLogColumns+" FROM transfer_logs WHERE address = $1", addr))
}

func getTreasury(ctx context.Context, q querier) (*domain.Treasury, error) {
	query := "SELECT address, authority, balance, created_at FROM treasury WHERE address = $1"
	var tr domain.Treasury
	err := q.QueryRow(ctx, query, address.Treasury()).Scan(&tr.Address, &tr.Authority, &tr.Balance, &tr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTreasuryNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("treasury query failed: %w", err)
	}
	return &tr, nil
}

func getInvoice(ctx context.Context, q querier, addr domain.Address, lock bool) (*domain.Invoice, error) {
	query := "SELECT address, creditor, debtor, balance, memo, reserve, created_at FROM invoices WHERE address = $1"
	if lock {
		query += " FOR UPDATE"
	}
	var inv domain.Invoice
	err := q.QueryRow(ctx, query, addr).Scan(&inv.Address, &inv.Creditor, &inv.Debtor, &inv.Balance,
		&inv.Memo, &inv.Reserve, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invoice query failed: %w", err)
	}
	return &inv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
