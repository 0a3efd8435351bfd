package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/clock"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/events"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/punchamoorthee/faktor/internal/store"
	"github.com/punchamoorthee/faktor/internal/token"
	"go.uber.org/zap"
)

// Deps bundles the collaborators shared by every service in this package.
type Deps struct {
	Store  store.Store
	Tokens token.Movement
	Policy fees.Policy
	Clock  clock.Clock
	Events events.Publisher
	Log    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = &events.Fallback{Log: d.Log}
	}
	return d
}

// Ledger owns payment records: creation, delegation and reclamation.
type Ledger struct {
	deps Deps
	log  *zap.Logger
}

func NewLedger(deps Deps) *Ledger {
	deps = deps.withDefaults()
	return &Ledger{deps: deps, log: deps.Log.Named("ledger")}
}

// Create registers a payment obligation. The debtor's wallet funds the reserve
// and the payment address is approved as delegate on the debtor's asset
// account for every expected attempt.
func (l *Ledger) Create(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" || req.Debtor == "" || req.Creditor == "" {
		return nil, domain.ErrInvalidRequest
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	attempts, err := fees.ExpectedAttempts(req.NextTransferAt, req.CompletedAt, req.RecurrenceInterval)
	if err != nil {
		return nil, err
	}
	// The request sizes both products, so an overflow here is the caller's
	// schedule or amount being out of range.
	reserve, err := l.deps.Policy.Reserve(attempts)
	if errors.Is(err, domain.ErrArithmeticOverflow) {
		return nil, fmt.Errorf("%d attempts: %w", attempts, domain.ErrInvalidSchedule)
	}
	if err != nil {
		return nil, err
	}
	allowance, err := fees.CheckedMul(attempts, req.Amount)
	if errors.Is(err, domain.ErrArithmeticOverflow) {
		return nil, fmt.Errorf("%d attempts of %d: %w", attempts, req.Amount, domain.ErrInvalidAmount)
	}
	if err != nil {
		return nil, err
	}

	if err := l.checkAccount(ctx, req.DebtorAssetAccount, req.Debtor, req.AssetType); err != nil {
		return nil, err
	}
	if err := l.checkAccount(ctx, req.CreditorAssetAccount, req.Creditor, req.AssetType); err != nil {
		return nil, err
	}

	now := l.deps.Clock.Now()
	p := &domain.Payment{
		Address:              address.Payment(req.IdempotencyKey, req.Debtor, req.Creditor),
		IdempotencyKey:       req.IdempotencyKey,
		Debtor:               req.Debtor,
		Creditor:             req.Creditor,
		DebtorAssetAccount:   req.DebtorAssetAccount,
		CreditorAssetAccount: req.CreditorAssetAccount,
		AssetType:            req.AssetType,
		Amount:               req.Amount,
		RecurrenceInterval:   req.RecurrenceInterval,
		NextTransferAt:       req.NextTransferAt,
		CompletedAt:          req.CompletedAt,
		Status:               domain.PaymentStatusScheduled,
		Memo:                 req.Memo,
		Reserve:              reserve,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = l.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if err := tx.DebitWallet(ctx, p.Debtor, reserve); err != nil {
			return err
		}
		return l.deps.Tokens.Approve(ctx, p.Debtor, p.DebtorAssetAccount, p.Address.String(), allowance)
	})
	if err != nil {
		return nil, err
	}

	paymentsCreatedTotal.Inc()
	l.log.Info("payment created",
		zap.String("payment", p.Address.String()),
		zap.String("debtor", p.Debtor),
		zap.Int64("attempts", attempts),
		zap.Int64("reserve", reserve),
	)
	l.publish(ctx, events.RoutingPaymentCreated, events.PaymentEvent{Payment: *p, Timestamp: now})
	return p, nil
}

func (l *Ledger) checkAccount(ctx context.Context, ref, owner, assetType string) error {
	if ref == "" {
		return domain.ErrInvalidAssetAccount
	}
	acc, err := l.deps.Tokens.Account(ctx, ref)
	if err != nil {
		return err
	}
	if acc.Owner != owner || acc.AssetType != assetType {
		return fmt.Errorf("%s: %w", ref, domain.ErrInvalidAssetAccount)
	}
	return nil
}

// Authorize re-grants the payment's delegation over the debtor's asset account
// for the attempts that remain.
func (l *Ledger) Authorize(ctx context.Context, addr domain.Address, debtor string) (*domain.Payment, error) {
	var p *domain.Payment
	err := l.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.LockPayment(ctx, addr)
		if err != nil {
			return err
		}
		if p.Debtor != debtor {
			return domain.ErrUnauthorized
		}
		if p.Status == domain.PaymentStatusCompleted {
			return domain.ErrPaymentCompleted
		}
		remaining, err := fees.ExpectedAttempts(p.NextTransferAt, p.CompletedAt, p.RecurrenceInterval)
		if err != nil {
			return err
		}
		allowance, err := fees.CheckedMul(remaining, p.Amount)
		if err != nil {
			return err
		}
		return l.deps.Tokens.Approve(ctx, p.Debtor, p.DebtorAssetAccount, p.Address.String(), allowance)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("payment authorized", zap.String("payment", addr.String()))
	return p, nil
}

// Close returns the residual reserve of a completed payment to its debtor. The
// record is kept with a zero reserve; closing twice reclaims nothing.
func (l *Ledger) Close(ctx context.Context, addr domain.Address, debtor string) (*domain.Payment, int64, error) {
	var (
		p         *domain.Payment
		reclaimed int64
	)
	now := l.deps.Clock.Now()
	err := l.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.LockPayment(ctx, addr)
		if err != nil {
			return err
		}
		if p.Debtor != debtor {
			return domain.ErrUnauthorized
		}
		if p.Status != domain.PaymentStatusCompleted {
			return domain.ErrPaymentNotCompleted
		}
		reclaimed = p.Reserve
		if reclaimed == 0 {
			return nil
		}
		if err := tx.CreditWallet(ctx, debtor, reclaimed); err != nil {
			return err
		}
		p.Reserve = 0
		p.UpdatedAt = now
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, 0, err
	}

	if reclaimed > 0 {
		l.log.Info("payment closed", zap.String("payment", addr.String()), zap.Int64("reclaimed", reclaimed))
		l.publish(ctx, events.RoutingPaymentClosed, events.PaymentEvent{Payment: *p, Reclaimed: reclaimed, Timestamp: now})
	}
	return p, reclaimed, nil
}

func (l *Ledger) Get(ctx context.Context, addr domain.Address) (*domain.Payment, error) {
	return l.deps.Store.GetPayment(ctx, addr)
}

func (l *Ledger) List(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	if filter.Limit < 0 {
		return nil, domain.ErrInvalidRequest
	}
	return l.deps.Store.ListPayments(ctx, filter)
}

func (l *Ledger) TransferLog(ctx context.Context, addr domain.Address) (*domain.TransferLog, error) {
	return l.deps.Store.GetTransferLog(ctx, addr)
}

// TransferLogs lists the attempts recorded against a payment, oldest slot first.
func (l *Ledger) TransferLogs(ctx context.Context, payment domain.Address) ([]domain.TransferLog, error) {
	if _, err := l.deps.Store.GetPayment(ctx, payment); err != nil {
		return nil, err
	}
	return l.deps.Store.ListTransferLogs(ctx, payment)
}

func (l *Ledger) publish(ctx context.Context, routingKey string, body interface{}) {
	publish(ctx, l.deps.Events, l.log, routingKey, body)
}

// publish is best effort: the ledger has already committed.
func publish(ctx context.Context, p events.Publisher, log *zap.Logger, routingKey string, body interface{}) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Publish(pubCtx, routingKey, body); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
