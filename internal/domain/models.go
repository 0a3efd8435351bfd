package domain

import "time"

// Address is a deterministic record identifier produced by address.Derive.
type Address string

func (a Address) String() string { return string(a) }

type PaymentStatus string

const (
	PaymentStatusScheduled PaymentStatus = "scheduled"
	PaymentStatusCompleted PaymentStatus = "completed"
)

type TransferStatus string

const (
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusFailed    TransferStatus = "failed"
)

// Payment is a scheduled, possibly recurring obligation from Debtor to Creditor.
// Identity fields never change after creation; only Status, NextTransferAt and
// Reserve are mutated, and only by distribution or close.
type Payment struct {
	Address              Address       `json:"address"`
	IdempotencyKey       string        `json:"idempotency_key"`
	Debtor               string        `json:"debtor"`
	Creditor             string        `json:"creditor"`
	DebtorAssetAccount   string        `json:"debtor_asset_account"`
	CreditorAssetAccount string        `json:"creditor_asset_account"`
	AssetType            string        `json:"asset_type"`
	Amount               int64         `json:"amount"`
	RecurrenceInterval   int64         `json:"recurrence_interval"`
	NextTransferAt       int64         `json:"next_transfer_at"`
	CompletedAt          int64         `json:"completed_at"`
	Status               PaymentStatus `json:"status"`
	Memo                 string        `json:"memo"`
	Reserve              int64         `json:"reserve"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// IsDue reports whether a distribution attempt at now may proceed.
func (p *Payment) IsDue(now int64) bool {
	return p.Status == PaymentStatusScheduled && p.NextTransferAt != 0 && now >= p.NextTransferAt
}

// CreatePaymentRequest carries the caller supplied fields of a new payment.
type CreatePaymentRequest struct {
	IdempotencyKey       string `json:"idempotency_key"`
	Debtor               string `json:"debtor"`
	Creditor             string `json:"creditor"`
	DebtorAssetAccount   string `json:"debtor_asset_account"`
	CreditorAssetAccount string `json:"creditor_asset_account"`
	AssetType            string `json:"asset_type"`
	Amount               int64  `json:"amount"`
	RecurrenceInterval   int64  `json:"recurrence_interval"`
	NextTransferAt       int64  `json:"next_transfer_at"`
	CompletedAt          int64  `json:"completed_at"`
	Memo                 string `json:"memo"`
}

// PaymentFilter narrows ListPayments. Zero values match everything.
type PaymentFilter struct {
	Debtor    string        `json:"debtor,omitempty"`
	Creditor  string        `json:"creditor,omitempty"`
	Status    PaymentStatus `json:"status,omitempty"`
	DueBefore int64         `json:"due_before,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// Matches reports whether p satisfies every set field of the filter.
func (f PaymentFilter) Matches(p *Payment) bool {
	if f.Debtor != "" && p.Debtor != f.Debtor {
		return false
	}
	if f.Creditor != "" && p.Creditor != f.Creditor {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.DueBefore > 0 && (p.NextTransferAt == 0 || p.NextTransferAt > f.DueBefore) {
		return false
	}
	return true
}

// TransferLog is the write-once audit record of one distribution attempt.
// Slot is the pre-advance NextTransferAt the attempt consumed.
type TransferLog struct {
	Address        Address        `json:"address"`
	Payment        Address        `json:"payment"`
	Distributor    string         `json:"distributor"`
	Status         TransferStatus `json:"status"`
	Slot           int64          `json:"slot"`
	Amount         int64          `json:"amount"`
	DistributorFee int64          `json:"distributor_fee"`
	TreasuryFee    int64          `json:"treasury_fee"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Treasury accumulates the treasury share of every attempt fee.
type Treasury struct {
	Address   Address   `json:"address"`
	Authority string    `json:"authority"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet is the native balance of an identity. Reserves are paid from it and
// fees are paid into it.
type Wallet struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

// Invoice is a single-shot request for payment issued by a creditor.
// The record is removed once the balance reaches zero.
type Invoice struct {
	Address   Address   `json:"address"`
	Creditor  string    `json:"creditor"`
	Debtor    string    `json:"debtor"`
	Balance   int64     `json:"balance"`
	Memo      string    `json:"memo"`
	Reserve   int64     `json:"reserve"`
	CreatedAt time.Time `json:"created_at"`
}

type IssueInvoiceRequest struct {
	Creditor string `json:"creditor"`
	Debtor   string `json:"debtor"`
	Balance  int64  `json:"balance"`
	Memo     string `json:"memo"`
}

// InvoicePayment reports the effect of a Pay call.
type InvoicePayment struct {
	Invoice Invoice `json:"invoice"`
	Paid    int64   `json:"paid"`
	Settled bool    `json:"settled"`
}
