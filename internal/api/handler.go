package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/service"
	"github.com/punchamoorthee/faktor/internal/token"
	"go.uber.org/zap"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faktor_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faktor_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	ledger        *service.Ledger
	engine        *service.Engine
	treasury      *service.TreasuryService
	invoices      *service.InvoiceService
	wallets       *service.WalletService
	tokens        token.Movement
	registry      token.Registry
	allowDeposits bool
	log           *zap.Logger
}

type Services struct {
	Ledger   *service.Ledger
	Engine   *service.Engine
	Treasury *service.TreasuryService
	Invoices *service.InvoiceService
	Wallets  *service.WalletService
	Tokens   token.Movement
	Registry token.Registry
}

// NewHandler wires the services. allowDeposits enables the wallet deposit and
// token account endpoints, which must stay off in production.
func NewHandler(svc Services, allowDeposits bool, log *zap.Logger) *Handler {
	return &Handler{
		ledger:        svc.Ledger,
		engine:        svc.Engine,
		treasury:      svc.Treasury,
		invoices:      svc.Invoices,
		wallets:       svc.Wallets,
		tokens:        svc.Tokens,
		registry:      svc.Registry,
		allowDeposits: allowDeposits,
		log:           log.Named("api"),
	}
}

// Register mounts every route under /api/v1 plus /health.
func (h *Handler) Register(r *mux.Router) {
	r.Use(instrument)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	v1.HandleFunc("/payments", h.ListPayments).Methods("GET")
	v1.HandleFunc("/payments/{address}", h.GetPayment).Methods("GET")
	v1.HandleFunc("/payments/{address}/distribute", h.DistributePayment).Methods("POST")
	v1.HandleFunc("/payments/{address}/authorize", h.AuthorizePayment).Methods("POST")
	v1.HandleFunc("/payments/{address}/close", h.ClosePayment).Methods("POST")
	v1.HandleFunc("/payments/{address}/transfers", h.ListTransferLogs).Methods("GET")
	v1.HandleFunc("/transfers/{address}", h.GetTransferLog).Methods("GET")

	v1.HandleFunc("/treasury", h.InitTreasury).Methods("POST")
	v1.HandleFunc("/treasury", h.GetTreasury).Methods("GET")

	v1.HandleFunc("/wallets/{owner}", h.GetWallet).Methods("GET")
	v1.HandleFunc("/accounts/{ref}", h.GetTokenAccount).Methods("GET")
	if h.allowDeposits {
		v1.HandleFunc("/wallets/{owner}", h.Deposit).Methods("POST")
		if h.registry != nil {
			v1.HandleFunc("/accounts", h.OpenTokenAccount).Methods("POST")
		}
	}

	v1.HandleFunc("/invoices", h.IssueInvoice).Methods("POST")
	v1.HandleFunc("/invoices/{address}", h.GetInvoice).Methods("GET")
	v1.HandleFunc("/invoices/{address}/pay", h.PayInvoice).Methods("POST")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotDue):
		return http.StatusTooEarly
	case errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrDuplicateLog),
		errors.Is(err, domain.ErrDuplicateInvoice),
		errors.Is(err, domain.ErrTreasuryExists),
		errors.Is(err, domain.ErrTreasuryNotInitialized),
		errors.Is(err, domain.ErrPaymentCompleted),
		errors.Is(err, domain.ErrPaymentNotCompleted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrTransferLogNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, code, "Internal Server Error")
		return
	}
	respondWithError(w, code, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
