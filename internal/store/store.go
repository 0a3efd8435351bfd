package store

import (
	"context"

	"github.com/punchamoorthee/faktor/internal/domain"
)

// Tx is the unit of work a service operation runs in. Everything written
// through a Tx becomes visible atomically when the enclosing RunInTx returns
// nil, and is discarded otherwise.
type Tx interface {
	InsertPayment(ctx context.Context, p *domain.Payment) error
	// LockPayment loads a payment and holds its record lock until the
	// transaction ends.
	LockPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error

	GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error)
	InsertTransferLog(ctx context.Context, l *domain.TransferLog) error

	InitTreasury(ctx context.Context, t *domain.Treasury) error
	GetTreasury(ctx context.Context) (*domain.Treasury, error)
	CreditTreasury(ctx context.Context, amount int64) error

	DebitWallet(ctx context.Context, owner string, amount int64) error
	CreditWallet(ctx context.Context, owner string, amount int64) error

	InsertInvoice(ctx context.Context, inv *domain.Invoice) error
	LockInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *domain.Invoice) error
	DeleteInvoice(ctx context.Context, addr domain.Address) error
}

// Store persists payments, transfer logs, the treasury, wallets and invoices.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetPayment(ctx context.Context, addr domain.Address) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
	GetTransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error)
	ListTransferLogs(ctx context.Context, payment domain.Address) ([]domain.TransferLog, error)
	GetTreasury(ctx context.Context) (*domain.Treasury, error)
	GetWallet(ctx context.Context, owner string) (*domain.Wallet, error)
	GetInvoice(ctx context.Context, addr domain.Address) (*domain.Invoice, error)

	Close()
}
