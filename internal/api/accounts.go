package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/punchamoorthee/faktor/internal/token"
)

type treasuryRequest struct {
	Authority string `json:"authority"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type openAccountRequest struct {
	Ref       string `json:"ref"`
	Owner     string `json:"owner"`
	AssetType string `json:"asset_type"`
	Balance   int64  `json:"balance"`
}

type payInvoiceRequest struct {
	Payer  string `json:"payer"`
	Amount int64  `json:"amount"`
}

func (h *Handler) InitTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	tr, err := h.treasury.Initialize(r.Context(), req.Authority)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, tr)
}

func (h *Handler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	tr, err := h.treasury.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tr)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.Get(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wallet, err := h.wallets.Deposit(r.Context(), mux.Vars(r)["owner"], req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetTokenAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.tokens.Account(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) OpenTokenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Ref == "" || req.Owner == "" || req.AssetType == "" {
		respondWithError(w, http.StatusBadRequest, "ref, owner and asset_type are required")
		return
	}
	err := h.registry.Open(r.Context(), req.Ref, req.Owner, req.AssetType, req.Balance)
	if errors.Is(err, token.ErrAccountExists) {
		respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.tokens.Account(r.Context(), req.Ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%s", acc.Ref))
	respondWithJSON(w, http.StatusCreated, acc)
}

func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueInvoiceRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	inv, err := h.invoices.Issue(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/invoices/%s", inv.Address))
	respondWithJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.Get(r.Context(), domain.Address(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	var req payInvoiceRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	res, err := h.invoices.Pay(r.Context(), domain.Address(mux.Vars(r)["address"]), req.Payer, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}
