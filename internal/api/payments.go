package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/faktor/internal/domain"
)

type distributeRequest struct {
	Distributor string `json:"distributor"`
}

type debtorRequest struct {
	Debtor string `json:"debtor"`
}

type closeResponse struct {
	Payment   *domain.Payment `json:"payment"`
	Reclaimed int64           `json:"reclaimed"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	// 1. Validate Header
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	var req domain.CreatePaymentRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.IdempotencyKey != "" && req.IdempotencyKey != idempotencyKey {
		respondWithError(w, http.StatusUnprocessableEntity, "Idempotency-Key header does not match body")
		return
	}
	req.IdempotencyKey = idempotencyKey

	p, err := h.ledger.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.Address))
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PaymentFilter{
		Debtor:   q.Get("debtor"),
		Creditor: q.Get("creditor"),
		Status:   domain.PaymentStatus(q.Get("status")),
	}
	if v := q.Get("due_before"); v != "" {
		due, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "due_before must be a unix timestamp")
			return
		}
		filter.DueBefore = due
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	payments, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Get(r.Context(), domain.Address(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// DistributePayment answers 201 with the TransferLog for an executed attempt,
// including one whose token movement failed, and 425 when the slot is not due.
func (h *Handler) DistributePayment(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	log, err := h.engine.Distribute(r.Context(), domain.Address(mux.Vars(r)["address"]), req.Distributor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", log.Address))
	respondWithJSON(w, http.StatusCreated, log)
}

func (h *Handler) AuthorizePayment(w http.ResponseWriter, r *http.Request) {
	var req debtorRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	p, err := h.ledger.Authorize(r.Context(), domain.Address(mux.Vars(r)["address"]), req.Debtor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) ClosePayment(w http.ResponseWriter, r *http.Request) {
	var req debtorRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	p, reclaimed, err := h.ledger.Close(r.Context(), domain.Address(mux.Vars(r)["address"]), req.Debtor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, closeResponse{Payment: p, Reclaimed: reclaimed})
}

func (h *Handler) ListTransferLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.ledger.TransferLogs(r.Context(), domain.Address(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.TransferLog{}
	}
	respondWithJSON(w, http.StatusOK, logs)
}

func (h *Handler) GetTransferLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.ledger.TransferLog(r.Context(), domain.Address(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, log)
}
