package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/faktor/internal/clock"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/punchamoorthee/faktor/internal/service"
	"github.com/punchamoorthee/faktor/internal/store"
	"github.com/punchamoorthee/faktor/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *mux.Router
	clock  *clock.FakeClock
	bank   *token.Bank
}

func newTestServer(t *testing.T, allowDeposits bool) *testServer {
	t.Helper()
	clk := clock.NewFakeClock(time.Unix(1_700_000_000, 0))
	bank := token.NewBank()
	deps := service.Deps{
		Store:  store.NewMemoryStore(),
		Tokens: bank,
		Policy: fees.DefaultPolicy(),
		Clock:  clk,
		Log:    zap.NewNop(),
	}
	h := NewHandler(Services{
		Ledger:   service.NewLedger(deps),
		Engine:   service.NewEngine(deps),
		Treasury: service.NewTreasuryService(deps, "admin"),
		Invoices: service.NewInvoiceService(deps),
		Wallets:  service.NewWalletService(deps),
		Tokens:   bank,
		Registry: bank,
	}, allowDeposits, zap.NewNop())

	r := mux.NewRouter()
	h.Register(r)

	require.NoError(t, bank.Open(context.Background(), "alice-usdc", "alice", "usdc", 1_000))
	require.NoError(t, bank.Open(context.Background(), "bob-usdc", "bob", "usdc", 0))
	_, err := service.NewWalletService(deps).Deposit(context.Background(), "alice", 10_000_000)
	require.NoError(t, err)
	return &testServer{router: r, clock: clk, bank: bank}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) createPayment(t *testing.T, key string, next int64) domain.Payment {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"debtor":                 "alice",
		"creditor":               "bob",
		"debtor_asset_account":   "alice-usdc",
		"creditor_asset_account": "bob-usdc",
		"asset_type":             "usdc",
		"amount":                 100,
		"next_transfer_at":       next,
		"completed_at":           next,
	}, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var p domain.Payment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, fmt.Sprintf("/api/v1/payments/%s", p.Address), rr.Header().Get("Location"))
	return p
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, false)
	rr := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestCreatePayment_Validation(t *testing.T) {
	s := newTestServer(t, false)
	now := s.clock.Now().Unix()

	rr := s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{"amount": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{"bogus": 1},
		map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"idempotency_key": "other", "debtor": "alice", "creditor": "bob",
	}, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"debtor": "alice", "creditor": "bob",
		"debtor_asset_account": "alice-usdc", "creditor_asset_account": "bob-usdc", "asset_type": "usdc",
		"amount": 100, "next_transfer_at": now + 10, "completed_at": now,
	}, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	s.createPayment(t, "dup", now)
	rr = s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"debtor": "alice", "creditor": "bob",
		"debtor_asset_account": "alice-usdc", "creditor_asset_account": "bob-usdc", "asset_type": "usdc",
		"amount": 100, "next_transfer_at": now, "completed_at": now,
	}, map[string]string{"Idempotency-Key": "dup"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreatePayment_OutOfRangeTotals(t *testing.T) {
	s := newTestServer(t, false)
	now := s.clock.Now().Unix()

	cases := []struct {
		name      string
		amount    int64
		completed int64
	}{
		{"amount", math.MaxInt64 / 2, now + 3},
		{"schedule", 1, math.MaxInt64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
				"debtor": "alice", "creditor": "bob",
				"debtor_asset_account": "alice-usdc", "creditor_asset_account": "bob-usdc", "asset_type": "usdc",
				"amount": tc.amount, "recurrence_interval": 1, "next_transfer_at": now, "completed_at": tc.completed,
			}, map[string]string{"Idempotency-Key": "big-" + tc.name})
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
		})
	}
}

func TestDistributeFlow(t *testing.T) {
	s := newTestServer(t, false)
	now := s.clock.Now().Unix()
	p := s.createPayment(t, "1", now+30)

	rr := s.do(t, http.MethodPost, "/api/v1/payments/"+p.Address.String()+"/distribute",
		map[string]string{"distributor": "carol"}, nil)
	assert.Equal(t, http.StatusTooEarly, rr.Code)

	s.clock.Advance(30 * time.Second)
	rr = s.do(t, http.MethodPost, "/api/v1/payments/"+p.Address.String()+"/distribute",
		map[string]string{"distributor": "carol"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "treasury must be initialized first")

	rr = s.do(t, http.MethodPost, "/api/v1/treasury", map[string]string{"authority": "mallory"}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPost, "/api/v1/treasury", map[string]string{"authority": "admin"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/payments/"+p.Address.String()+"/distribute",
		map[string]string{"distributor": "carol"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var log domain.TransferLog
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &log))
	assert.Equal(t, domain.TransferStatusSucceeded, log.Status)

	rr = s.do(t, http.MethodGet, "/api/v1/transfers/"+log.Address.String(), nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/payments/"+p.Address.String()+"/transfers", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var logs []domain.TransferLog
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &logs))
	assert.Len(t, logs, 1)

	rr = s.do(t, http.MethodGet, "/api/v1/payments/"+p.Address.String(), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got domain.Payment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)

	rr = s.do(t, http.MethodGet, "/api/v1/treasury", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var tr domain.Treasury
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tr))
	assert.Equal(t, fees.DefaultTreasuryFee, tr.Balance)

	rr = s.do(t, http.MethodGet, "/api/v1/wallets/carol", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var w domain.Wallet
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &w))
	assert.Equal(t, fees.DefaultDistributorFee, w.Balance)

	rr = s.do(t, http.MethodPost, "/api/v1/payments/"+p.Address.String()+"/close",
		map[string]string{"debtor": "alice"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var closed closeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &closed))
	assert.Equal(t, fees.DefaultBaseReserve, closed.Reclaimed)

	rr = s.do(t, http.MethodPost, "/api/v1/payments/"+p.Address.String()+"/authorize",
		map[string]string{"debtor": "alice"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListPayments(t *testing.T) {
	s := newTestServer(t, false)
	now := s.clock.Now().Unix()
	s.createPayment(t, "a", now)
	s.createPayment(t, "b", now+100)

	rr := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/payments?status=scheduled&due_before=%d", now), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var due []domain.Payment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &due))
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].IdempotencyKey)

	rr = s.do(t, http.MethodGet, "/api/v1/payments?creditor=nobody", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/api/v1/payments?limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = s.do(t, http.MethodGet, "/api/v1/payments?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, false)
	for _, path := range []string{
		"/api/v1/payments/missing",
		"/api/v1/payments/missing/transfers",
		"/api/v1/transfers/missing",
		"/api/v1/wallets/nobody",
		"/api/v1/invoices/missing",
		"/api/v1/treasury",
	} {
		rr := s.do(t, http.MethodGet, path, nil, nil)
		if path == "/api/v1/treasury" {
			assert.Equal(t, http.StatusConflict, rr.Code, path)
			continue
		}
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestDepositRoute(t *testing.T) {
	s := newTestServer(t, false)
	rr := s.do(t, http.MethodPost, "/api/v1/wallets/bob", map[string]int64{"amount": 10}, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	s = newTestServer(t, true)
	rr = s.do(t, http.MethodPost, "/api/v1/wallets/bob", map[string]int64{"amount": 10}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var w domain.Wallet
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &w))
	assert.Equal(t, int64(10), w.Balance)
}

func TestTokenAccountRoutes(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodPost, "/api/v1/accounts",
		map[string]interface{}{"ref": "carol-usdc", "owner": "carol", "asset_type": "usdc", "balance": 50}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/api/v1/accounts",
		map[string]interface{}{"ref": "carol-usdc", "owner": "carol", "asset_type": "usdc"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/accounts/carol-usdc", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var acc token.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &acc))
	assert.Equal(t, int64(50), acc.Balance)

	rr = s.do(t, http.MethodGet, "/api/v1/accounts/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	s = newTestServer(t, false)
	rr = s.do(t, http.MethodPost, "/api/v1/accounts",
		map[string]interface{}{"ref": "x", "owner": "y", "asset_type": "usdc"}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvoiceRoutes(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodPost, "/api/v1/wallets/bob", map[string]int64{"amount": 1_000}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/invoices",
		domain.IssueInvoiceRequest{Creditor: "alice", Debtor: "bob", Balance: 300, Memo: "dinner"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inv domain.Invoice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inv))

	rr = s.do(t, http.MethodPost, "/api/v1/invoices/"+inv.Address.String()+"/pay",
		map[string]interface{}{"payer": "alice", "amount": 300}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/invoices/"+inv.Address.String()+"/pay",
		map[string]interface{}{"payer": "bob", "amount": 500}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var paid domain.InvoicePayment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paid))
	assert.Equal(t, int64(300), paid.Paid)
	assert.True(t, paid.Settled)

	rr = s.do(t, http.MethodGet, "/api/v1/invoices/"+inv.Address.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooEarly, statusFor(domain.ErrNotDue))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrapped: %w", domain.ErrDuplicateLog)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrInsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrReserveExhausted))
}
