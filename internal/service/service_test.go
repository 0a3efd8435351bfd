package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/faktor/internal/address"
	"github.com/punchamoorthee/faktor/internal/clock"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/events"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/punchamoorthee/faktor/internal/store"
	"github.com/punchamoorthee/faktor/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	aliceFunds  int64 = 10_000_000
	aliceTokens int64 = 1_000
)

// tokenBank is the token side of a backend: the movement the services use
// plus account opening for fixtures.
type tokenBank interface {
	token.Movement
	token.Registry
}

type harness struct {
	ctx      context.Context
	store    store.Store
	bank     tokenBank
	clock    *clock.FakeClock
	events   *events.Recorder
	policy   fees.Policy
	ledger   *Ledger
	engine   *Engine
	treasury *TreasuryService
	invoices *InvoiceService
	wallets  *WalletService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bank := token.NewBank()
	return newHarnessOn(t, store.NewMemoryStore(), bank)
}

func newHarnessOn(t *testing.T, st store.Store, bank tokenBank) *harness {
	t.Helper()
	h := &harness{
		ctx:    context.Background(),
		store:  st,
		bank:   bank,
		clock:  clock.NewFakeClock(time.Unix(1_700_000_000, 0)),
		events: &events.Recorder{},
		policy: fees.DefaultPolicy(),
	}
	deps := Deps{
		Store:  h.store,
		Tokens: h.bank,
		Policy: h.policy,
		Clock:  h.clock,
		Events: h.events,
		Log:    zap.NewNop(),
	}
	h.ledger = NewLedger(deps)
	h.engine = NewEngine(deps)
	h.treasury = NewTreasuryService(deps, "admin")
	h.invoices = NewInvoiceService(deps)
	h.wallets = NewWalletService(deps)

	require.NoError(t, h.bank.Open(context.Background(), "alice-usdc", "alice", "usdc", aliceTokens))
	require.NoError(t, h.bank.Open(context.Background(), "bob-usdc", "bob", "usdc", 0))
	_, err := h.wallets.Deposit(h.ctx, "alice", aliceFunds)
	require.NoError(t, err)
	return h
}

// forEachBackend runs fn against the in-memory backend and, when
// TEST_DB_SOURCE is set, against Postgres.
func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) { fn(t, newHarness(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresHarness(t)) })
}

func (h *harness) initTreasury(t *testing.T) {
	t.Helper()
	_, err := h.treasury.Initialize(h.ctx, "admin")
	require.NoError(t, err)
}

func (h *harness) now() int64 { return h.clock.Now().Unix() }

func (h *harness) request(key string, interval, next, completed int64) domain.CreatePaymentRequest {
	return domain.CreatePaymentRequest{
		IdempotencyKey:       key,
		Debtor:               "alice",
		Creditor:             "bob",
		DebtorAssetAccount:   "alice-usdc",
		CreditorAssetAccount: "bob-usdc",
		AssetType:            "usdc",
		Amount:               100,
		RecurrenceInterval:   interval,
		NextTransferAt:       next,
		CompletedAt:          completed,
		Memo:                 "rent",
	}
}

func (h *harness) walletBalance(t *testing.T, owner string) int64 {
	t.Helper()
	w, err := h.wallets.Get(h.ctx, owner)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return 0
	}
	require.NoError(t, err)
	return w.Balance
}

func (h *harness) treasuryBalance(t *testing.T) int64 {
	t.Helper()
	tr, err := h.treasury.Get(h.ctx)
	require.NoError(t, err)
	return tr.Balance
}

func (h *harness) tokenBalance(t *testing.T, ref string) int64 {
	t.Helper()
	acc, err := h.bank.Account(h.ctx, ref)
	require.NoError(t, err)
	return acc.Balance
}

func TestOneTimePayment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()

		p, err := h.ledger.Create(h.ctx, h.request("1", 0, t0, t0))
		require.NoError(t, err)
		assert.Equal(t, address.Payment("1", "alice", "bob"), p.Address)
		assert.Equal(t, fees.DefaultBaseReserve+2000, p.Reserve)
		assert.Equal(t, aliceFunds-p.Reserve, h.walletBalance(t, "alice"))

		acc, err := h.bank.Account(h.ctx, "alice-usdc")
		require.NoError(t, err)
		assert.Equal(t, p.Address.String(), acc.Delegate)
		assert.Equal(t, int64(100), acc.DelegatedAmount)

		log, err := h.engine.Distribute(h.ctx, p.Address, "carol")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSucceeded, log.Status)
		assert.Equal(t, t0, log.Slot)
		assert.Equal(t, address.TransferLog(p.Address, t0), log.Address)

		got, err := h.ledger.Get(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
		assert.Zero(t, got.NextTransferAt)
		assert.Equal(t, fees.DefaultBaseReserve, got.Reserve)

		assert.Equal(t, int64(100), h.tokenBalance(t, "bob-usdc"))
		assert.Equal(t, aliceTokens-100, h.tokenBalance(t, "alice-usdc"))
		assert.Equal(t, fees.DefaultDistributorFee, h.walletBalance(t, "carol"))
		assert.Equal(t, fees.DefaultTreasuryFee, h.treasuryBalance(t))

		_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
		assert.ErrorIs(t, err, domain.ErrNotDue)
		assert.Equal(t, []string{events.RoutingPaymentCreated, events.RoutingPaymentDistributed}, h.events.Keys())
	})
}

func TestRecurringPaymentArithmetic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()

		p, err := h.ledger.Create(h.ctx, h.request("rec", 5, t0+5, t0+20))
		require.NoError(t, err)
		startReserve := p.Reserve
		assert.Equal(t, fees.DefaultBaseReserve+4*2000, startReserve)

		for i := int64(1); i <= 4; i++ {
			h.clock.Advance(5 * time.Second)
			log, err := h.engine.Distribute(h.ctx, p.Address, "carol")
			require.NoError(t, err, "attempt %d", i)
			assert.Equal(t, domain.TransferStatusSucceeded, log.Status)
			assert.Equal(t, t0+5*i, log.Slot)

			got, err := h.ledger.Get(h.ctx, p.Address)
			require.NoError(t, err)
			if i < 4 {
				assert.Equal(t, domain.PaymentStatusScheduled, got.Status)
				assert.Equal(t, t0+5*(i+1), got.NextTransferAt)
			} else {
				assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
				assert.Zero(t, got.NextTransferAt)
			}

			// Conservation: every fee unit leaving the reserve lands with the
			// distributor or the treasury.
			spent := startReserve - got.Reserve
			assert.Equal(t, spent, h.walletBalance(t, "carol")+h.treasuryBalance(t))
		}

		got, err := h.ledger.Get(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(4*2000), startReserve-got.Reserve)
		assert.Equal(t, int64(400), h.tokenBalance(t, "bob-usdc"))

		h.clock.Advance(5 * time.Second)
		_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
		assert.ErrorIs(t, err, domain.ErrNotDue)

		logs, err := h.ledger.TransferLogs(h.ctx, p.Address)
		require.NoError(t, err)
		require.Len(t, logs, 4)
		for i, l := range logs {
			assert.Equal(t, t0+5*int64(i+1), l.Slot)
		}
	})
}

func TestDistributeBeforeDueChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.initTreasury(t)
	t0 := h.now()

	p, err := h.ledger.Create(h.ctx, h.request("later", 0, t0+3600, t0+3600))
	require.NoError(t, err)

	_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
	require.ErrorIs(t, err, domain.ErrNotDue)

	got, err := h.ledger.Get(h.ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, *p, *got)
	logs, err := h.ledger.TransferLogs(h.ctx, p.Address)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, h.treasuryBalance(t))
	assert.Zero(t, h.walletBalance(t, "carol"))
	assert.Zero(t, h.tokenBalance(t, "bob-usdc"))
}

func TestRevokedAuthorizationConsumesSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()

		p, err := h.ledger.Create(h.ctx, h.request("revoked", 5, t0+5, t0+20))
		require.NoError(t, err)
		require.NoError(t, h.bank.Revoke(h.ctx, "alice", "alice-usdc"))

		h.clock.Advance(5 * time.Second)
		log, err := h.engine.Distribute(h.ctx, p.Address, "carol")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusFailed, log.Status)

		got, err := h.ledger.Get(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusScheduled, got.Status)
		assert.Equal(t, t0+10, got.NextTransferAt)
		assert.Equal(t, p.Reserve-2000, got.Reserve)
		assert.Equal(t, fees.DefaultDistributorFee, h.walletBalance(t, "carol"))
		assert.Equal(t, fees.DefaultTreasuryFee, h.treasuryBalance(t))
		assert.Zero(t, h.tokenBalance(t, "bob-usdc"))

		// The failed slot is not retried.
		_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
		assert.ErrorIs(t, err, domain.ErrNotDue)

		_, err = h.ledger.Authorize(h.ctx, p.Address, "mallory")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = h.ledger.Authorize(h.ctx, p.Address, "alice")
		require.NoError(t, err)
		acc, err := h.bank.Account(h.ctx, "alice-usdc")
		require.NoError(t, err)
		assert.Equal(t, int64(300), acc.DelegatedAmount)

		h.clock.Advance(5 * time.Second)
		log, err = h.engine.Distribute(h.ctx, p.Address, "dave")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSucceeded, log.Status)
		assert.Equal(t, t0+10, log.Slot)
		assert.Equal(t, int64(100), h.tokenBalance(t, "bob-usdc"))
	})
}

func TestConcurrentDistributorsShareOneSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()

		p, err := h.ledger.Create(h.ctx, h.request("race", 0, t0, t0))
		require.NoError(t, err)

		const workers = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			success  int
			rejected int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := h.engine.Distribute(h.ctx, p.Address, "keeper")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case errors.Is(err, domain.ErrNotDue), errors.Is(err, domain.ErrDuplicateLog):
					rejected++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, success)
		assert.Equal(t, workers-1, rejected)
		logs, err := h.ledger.TransferLogs(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.Equal(t, fees.DefaultTreasuryFee, h.treasuryBalance(t))
		assert.Equal(t, fees.DefaultDistributorFee, h.walletBalance(t, "keeper"))
	})
}

func TestCreateIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		t0 := h.now()

		first, err := h.ledger.Create(h.ctx, h.request("1", 0, t0, t0))
		require.NoError(t, err)
		_, err = h.ledger.Create(h.ctx, h.request("1", 0, t0, t0))
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
		assert.Equal(t, aliceFunds-first.Reserve, h.walletBalance(t, "alice"))

		second, err := h.ledger.Create(h.ctx, h.request("2", 0, t0, t0))
		require.NoError(t, err)
		assert.NotEqual(t, first.Address, second.Address)

		all, err := h.ledger.List(h.ctx, domain.PaymentFilter{Debtor: "alice"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	t0 := h.now()
	require.NoError(t, h.bank.Open(context.Background(), "bob-eur", "bob", "eur", 0))

	cases := []struct {
		name   string
		mutate func(*domain.CreatePaymentRequest)
		want   error
	}{
		{"zero amount", func(r *domain.CreatePaymentRequest) { r.Amount = 0 }, domain.ErrInvalidAmount},
		{"completed before next", func(r *domain.CreatePaymentRequest) { r.CompletedAt = r.NextTransferAt - 1 }, domain.ErrInvalidSchedule},
		{"negative interval", func(r *domain.CreatePaymentRequest) { r.RecurrenceInterval = -5 }, domain.ErrInvalidSchedule},
		{"missing key", func(r *domain.CreatePaymentRequest) { r.IdempotencyKey = " " }, domain.ErrInvalidRequest},
		{"unknown account", func(r *domain.CreatePaymentRequest) { r.DebtorAssetAccount = "nope" }, domain.ErrAccountNotFound},
		{"foreign account", func(r *domain.CreatePaymentRequest) { r.DebtorAssetAccount = "bob-usdc" }, domain.ErrInvalidAssetAccount},
		{"asset mismatch", func(r *domain.CreatePaymentRequest) { r.CreditorAssetAccount = "bob-eur" }, domain.ErrInvalidAssetAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.request("v-"+tc.name, 5, t0+5, t0+20)
			tc.mutate(&req)
			_, err := h.ledger.Create(h.ctx, req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsValidation(err))
		})
	}
	assert.Equal(t, aliceFunds, h.walletBalance(t, "alice"))
}

func TestCreateInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	t0 := h.now()
	require.NoError(t, h.bank.Open(context.Background(), "dave-usdc", "dave", "usdc", 500))

	req := h.request("poor", 0, t0, t0)
	req.Debtor = "dave"
	req.DebtorAssetAccount = "dave-usdc"
	_, err := h.ledger.Create(h.ctx, req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = h.ledger.Get(h.ctx, address.Payment("poor", "dave", "bob"))
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	acc, err := h.bank.Account(h.ctx, "dave-usdc")
	require.NoError(t, err)
	assert.Empty(t, acc.Delegate)
}

func TestDistributeRequiresTreasury(t *testing.T) {
	h := newHarness(t)
	t0 := h.now()
	p, err := h.ledger.Create(h.ctx, h.request("1", 0, t0, t0))
	require.NoError(t, err)

	_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
	require.ErrorIs(t, err, domain.ErrTreasuryNotInitialized)
	assert.Zero(t, h.tokenBalance(t, "bob-usdc"))

	_, err = h.treasury.Initialize(h.ctx, "carol")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	h.initTreasury(t)
	_, err = h.treasury.Initialize(h.ctx, "admin")
	assert.ErrorIs(t, err, domain.ErrTreasuryExists)

	_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
	require.NoError(t, err)
}

func TestDistributeUnknownPayment(t *testing.T) {
	h := newHarness(t)
	h.initTreasury(t)
	_, err := h.engine.Distribute(h.ctx, "missing", "carol")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	_, err = h.engine.Distribute(h.ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestClosePayment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()
		p, err := h.ledger.Create(h.ctx, h.request("1", 0, t0, t0))
		require.NoError(t, err)

		_, _, err = h.ledger.Close(h.ctx, p.Address, "alice")
		require.ErrorIs(t, err, domain.ErrPaymentNotCompleted)

		_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
		require.NoError(t, err)

		_, _, err = h.ledger.Close(h.ctx, p.Address, "bob")
		require.ErrorIs(t, err, domain.ErrUnauthorized)

		closed, reclaimed, err := h.ledger.Close(h.ctx, p.Address, "alice")
		require.NoError(t, err)
		assert.Equal(t, fees.DefaultBaseReserve, reclaimed)
		assert.Zero(t, closed.Reserve)
		assert.Equal(t, aliceFunds-2000, h.walletBalance(t, "alice"))

		_, reclaimed, err = h.ledger.Close(h.ctx, p.Address, "alice")
		require.NoError(t, err)
		assert.Zero(t, reclaimed)

		_, err = h.ledger.Authorize(h.ctx, p.Address, "alice")
		assert.ErrorIs(t, err, domain.ErrPaymentCompleted)
		assert.Equal(t, []string{
			events.RoutingPaymentCreated,
			events.RoutingPaymentDistributed,
			events.RoutingPaymentClosed,
		}, h.events.Keys())
	})
}

func TestDueListsOnlyReachedSlots(t *testing.T) {
	h := newHarness(t)
	t0 := h.now()
	_, err := h.ledger.Create(h.ctx, h.request("now", 0, t0, t0))
	require.NoError(t, err)
	_, err = h.ledger.Create(h.ctx, h.request("later", 0, t0+60, t0+60))
	require.NoError(t, err)

	due, err := h.engine.Due(h.ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "now", due[0].IdempotencyKey)

	h.clock.Advance(time.Minute)
	due, err = h.engine.Due(h.ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestCreateRejectsOutOfRangeTotals(t *testing.T) {
	h := newHarness(t)
	t0 := h.now()

	cases := []struct {
		name   string
		mutate func(*domain.CreatePaymentRequest)
		want   error
	}{
		{"allowance overflows", func(r *domain.CreatePaymentRequest) {
			r.Amount = math.MaxInt64 / 2
			r.RecurrenceInterval = 1
			r.CompletedAt = r.NextTransferAt + 3
		}, domain.ErrInvalidAmount},
		{"reserve overflows", func(r *domain.CreatePaymentRequest) {
			r.Amount = 1
			r.RecurrenceInterval = 1
			r.CompletedAt = math.MaxInt64
		}, domain.ErrInvalidSchedule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.request("big-"+tc.name, 0, t0, t0)
			tc.mutate(&req)
			_, err := h.ledger.Create(h.ctx, req)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsValidation(err))
			assert.NotErrorIs(t, err, domain.ErrArithmeticOverflow)
		})
	}
	assert.Equal(t, aliceFunds, h.walletBalance(t, "alice"))
	all, err := h.ledger.List(h.ctx, domain.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDistributeFinalSlotAtInt64Limit(t *testing.T) {
	h := newHarness(t)
	h.initTreasury(t)
	t0 := h.now()

	p, err := h.ledger.Create(h.ctx, h.request("edge", math.MaxInt64-1, t0, math.MaxInt64))
	require.NoError(t, err)

	log, err := h.engine.Distribute(h.ctx, p.Address, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusSucceeded, log.Status)

	got, err := h.ledger.Get(h.ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.Zero(t, got.NextTransferAt)
}

func TestFailedSettlementLeavesTokensInPlace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()
		p, err := h.ledger.Create(h.ctx, h.request("stuck", 0, t0, t0))
		require.NoError(t, err)

		// carol's wallet cannot take another fee.
		_, err = h.wallets.Deposit(h.ctx, "carol", math.MaxInt64-10)
		require.NoError(t, err)

		_, err = h.engine.Distribute(h.ctx, p.Address, "carol")
		require.Error(t, err)

		assert.Zero(t, h.tokenBalance(t, "bob-usdc"))
		assert.Equal(t, aliceTokens, h.tokenBalance(t, "alice-usdc"))
		acc, err := h.bank.Account(h.ctx, "alice-usdc")
		require.NoError(t, err)
		assert.Equal(t, p.Address.String(), acc.Delegate)
		assert.Equal(t, int64(100), acc.DelegatedAmount)

		got, err := h.ledger.Get(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusScheduled, got.Status)
		assert.Equal(t, t0, got.NextTransferAt)
		assert.Equal(t, p.Reserve, got.Reserve)
		logs, err := h.ledger.TransferLogs(h.ctx, p.Address)
		require.NoError(t, err)
		assert.Empty(t, logs)
		assert.Zero(t, h.treasuryBalance(t))

		log, err := h.engine.Distribute(h.ctx, p.Address, "dave")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSucceeded, log.Status)
		assert.Equal(t, int64(100), h.tokenBalance(t, "bob-usdc"))
	})
}

func TestConcurrentCreateKeepsOneRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		t0 := h.now()
		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			created   int
			duplicate int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.ledger.Create(h.ctx, h.request("same", 0, t0, t0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrDuplicateKey):
					duplicate++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, workers-1, duplicate)
		p, err := h.ledger.Get(h.ctx, address.Payment("same", "alice", "bob"))
		require.NoError(t, err)
		assert.Equal(t, aliceFunds-p.Reserve, h.walletBalance(t, "alice"))
	})
}

func TestConcurrentDistributionsSettleEveryFee(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.initTreasury(t)
		t0 := h.now()

		const payments = 6
		addrs := make([]domain.Address, 0, payments)
		for i := 0; i < payments; i++ {
			ref := fmt.Sprintf("alice-usdc-%d", i)
			require.NoError(t, h.bank.Open(h.ctx, ref, "alice", "usdc", 100))
			req := h.request(fmt.Sprintf("fan-%d", i), 0, t0, t0)
			req.DebtorAssetAccount = ref
			p, err := h.ledger.Create(h.ctx, req)
			require.NoError(t, err)
			addrs = append(addrs, p.Address)
		}

		var wg sync.WaitGroup
		errs := make([]error, payments)
		for i, addr := range addrs {
			wg.Add(1)
			go func(i int, addr domain.Address) {
				defer wg.Done()
				_, errs[i] = h.engine.Distribute(h.ctx, addr, "keeper")
			}(i, addr)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "payment %d", i)
		}
		assert.Equal(t, payments*fees.DefaultTreasuryFee, h.treasuryBalance(t))
		assert.Equal(t, payments*fees.DefaultDistributorFee, h.walletBalance(t, "keeper"))
		assert.Equal(t, int64(payments*100), h.tokenBalance(t, "bob-usdc"))
	})
}
