package service

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/clock"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/events"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/punchamoorthee/faktor/internal/store"
	"go.uber.org/zap"
)

// Engine runs distribution attempts. Any identity may distribute any payment
// and earns the distributor fee for doing so.
type Engine struct {
	deps Deps
	log  *zap.Logger
}

func NewEngine(deps Deps) *Engine {
	deps = deps.withDefaults()
	return &Engine{deps: deps, log: deps.Log.Named("distribution")}
}

// Distribute executes one attempt against the payment's current slot.
//
// The attempt either is rejected with no state change (ErrNotDue,
// ErrDuplicateLog, ErrTreasuryNotInitialized, ErrPaymentNotFound) or commits
// all of: the token movement outcome, fee settlement, the schedule advance
// and a TransferLog keyed by the consumed slot. A declined token movement is
// recorded as a Failed log; the slot is consumed either way.
func (e *Engine) Distribute(ctx context.Context, addr domain.Address, distributor string) (*domain.TransferLog, error) {
	if distributor == "" {
		return nil, domain.ErrInvalidRequest
	}
	timer := time.Now()
	defer func() { distributionDuration.Observe(time.Since(timer).Seconds()) }()

	now := e.deps.Clock.Now()
	unixNow := now.Unix()
	distributorFee, treasuryFee := e.deps.Policy.PerAttempt()
	cost, err := e.deps.Policy.AttemptCost()
	if err != nil {
		return nil, err
	}

	var (
		p   *domain.Payment
		log *domain.TransferLog
	)
	err = e.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.LockPayment(ctx, addr)
		if err != nil {
			return err
		}
		if !p.IsDue(unixNow) {
			return domain.ErrNotDue
		}
		if _, err := tx.GetTreasury(ctx); err != nil {
			return err
		}

		slot := p.NextTransferAt
		logAddr := address.TransferLog(p.Address, slot)
		if _, err := tx.GetTransferLog(ctx, logAddr); err == nil {
			return domain.ErrDuplicateLog
		} else if !errors.Is(err, domain.ErrTransferLogNotFound) {
			return err
		}

		reserve, err := fees.CheckedSub(p.Reserve, cost)
		if err != nil {
			return err
		}
		if reserve < 0 {
			return domain.ErrReserveExhausted
		}
		next, status := advance(p)

		outcome, err := e.deps.Tokens.Transfer(ctx, p.Address.String(), p.DebtorAssetAccount, p.CreditorAssetAccount, p.Amount)
		if err != nil {
			return err
		}

		if err := tx.CreditWallet(ctx, distributor, distributorFee); err != nil {
			return err
		}
		if err := tx.CreditTreasury(ctx, treasuryFee); err != nil {
			return err
		}

		log = &domain.TransferLog{
			Address:        logAddr,
			Payment:        p.Address,
			Distributor:    distributor,
			Status:         domain.TransferStatusFailed,
			Slot:           slot,
			Amount:         p.Amount,
			DistributorFee: distributorFee,
			TreasuryFee:    treasuryFee,
			CreatedAt:      now,
		}
		if outcome.Succeeded {
			log.Status = domain.TransferStatusSucceeded
		}
		if err := tx.InsertTransferLog(ctx, log); err != nil {
			return err
		}

		p.Reserve = reserve
		p.NextTransferAt = next
		p.Status = status
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		if !outcome.Succeeded {
			e.log.Warn("token movement declined",
				zap.String("payment", p.Address.String()),
				zap.Int64("slot", slot),
				zap.String("reason", outcome.Reason),
			)
		}
		return nil
	})
	if err != nil {
		if domain.IsValidation(err) {
			distributionsTotal.WithLabelValues("rejected").Inc()
			e.log.Debug("distribution rejected", zap.String("payment", addr.String()), zap.Error(err))
		} else {
			e.log.Error("distribution failed", zap.String("payment", addr.String()), zap.Error(err))
		}
		return nil, err
	}

	distributionsTotal.WithLabelValues(string(log.Status)).Inc()
	feesSettledTotal.WithLabelValues("distributor").Add(float64(distributorFee))
	feesSettledTotal.WithLabelValues("treasury").Add(float64(treasuryFee))
	e.log.Info("payment distributed",
		zap.String("payment", p.Address.String()),
		zap.Int64("slot", log.Slot),
		zap.String("status", string(log.Status)),
		zap.String("distributor", distributor),
	)
	publish(ctx, e.deps.Events, e.log, events.RoutingPaymentDistributed, events.PaymentEvent{Payment: *p, Transfer: log, Timestamp: now})
	return log, nil
}

// advance returns the schedule after the current slot is consumed. A one-time
// payment, or one whose next slot would pass CompletedAt, terminates.
func advance(p *domain.Payment) (int64, domain.PaymentStatus) {
	if p.RecurrenceInterval == 0 {
		return 0, domain.PaymentStatusCompleted
	}
	// CompletedAt fits in an int64, so a slot that overflows is past it.
	next, err := fees.CheckedAdd(p.NextTransferAt, p.RecurrenceInterval)
	if errors.Is(err, domain.ErrArithmeticOverflow) || next > p.CompletedAt {
		return 0, domain.PaymentStatusCompleted
	}
	return next, domain.PaymentStatusScheduled
}

// Due lists scheduled payments whose current slot has been reached.
func (e *Engine) Due(ctx context.Context, limit int) ([]domain.Payment, error) {
	return e.deps.Store.ListPayments(ctx, domain.PaymentFilter{
		Status:    domain.PaymentStatusScheduled,
		DueBefore: clock.Unix(e.deps.Clock),
		Limit:     limit,
	})
}
