package service

import (
	"context"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/events"
	"github.com/punchamoorthee/faktor/internal/store"
	"go.uber.org/zap"
)

// InvoiceService handles single-shot invoices. One invoice may be open per
// (creditor, debtor) pair.
type InvoiceService struct {
	deps Deps
	log  *zap.Logger
}

func NewInvoiceService(deps Deps) *InvoiceService {
	deps = deps.withDefaults()
	return &InvoiceService{deps: deps, log: deps.Log.Named("invoice")}
}

// Issue opens an invoice. The creditor funds the record's base reserve.
func (s *InvoiceService) Issue(ctx context.Context, req domain.IssueInvoiceRequest) (*domain.Invoice, error) {
	if req.Creditor == "" || req.Debtor == "" {
		return nil, domain.ErrInvalidRequest
	}
	if req.Balance <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	inv := &domain.Invoice{
		Address:   address.Invoice(req.Creditor, req.Debtor),
		Creditor:  req.Creditor,
		Debtor:    req.Debtor,
		Balance:   req.Balance,
		Memo:      req.Memo,
		Reserve:   s.deps.Policy.BaseReserve,
		CreatedAt: s.deps.Clock.Now(),
	}
	err := s.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.DebitWallet(ctx, inv.Creditor, inv.Reserve)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice issued", zap.String("invoice", inv.Address.String()), zap.Int64("balance", inv.Balance))
	return inv, nil
}

// Pay moves up to amount from the debtor's wallet to the creditor's. Payment
// beyond the open balance is not taken. Settling the balance removes the
// invoice and refunds its reserve to the creditor.
func (s *InvoiceService) Pay(ctx context.Context, addr domain.Address, payer string, amount int64) (*domain.InvoicePayment, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	var result domain.InvoicePayment
	err := s.deps.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.LockInvoice(ctx, addr)
		if err != nil {
			return err
		}
		if inv.Debtor != payer {
			return domain.ErrUnauthorized
		}

		paid := min(amount, inv.Balance)
		if err := tx.DebitWallet(ctx, payer, paid); err != nil {
			return err
		}
		if err := tx.CreditWallet(ctx, inv.Creditor, paid); err != nil {
			return err
		}
		inv.Balance -= paid
		result = domain.InvoicePayment{Paid: paid}

		if inv.Balance == 0 {
			if err := tx.DeleteInvoice(ctx, addr); err != nil {
				return err
			}
			if err := tx.CreditWallet(ctx, inv.Creditor, inv.Reserve); err != nil {
				return err
			}
			result.Settled = true
		} else if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		result.Invoice = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice paid",
		zap.String("invoice", addr.String()),
		zap.Int64("paid", result.Paid),
		zap.Bool("settled", result.Settled),
	)
	publish(ctx, s.deps.Events, s.log, events.RoutingInvoicePaid, events.InvoiceEvent{Payment: result, Timestamp: s.deps.Clock.Now()})
	return &result, nil
}

func (s *InvoiceService) Get(ctx context.Context, addr domain.Address) (*domain.Invoice, error) {
	return s.deps.Store.GetInvoice(ctx, addr)
}
