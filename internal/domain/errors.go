package domain

import "errors"

// Validation errors. None of them leave state behind.
var (
	ErrInvalidRequest         = errors.New("required field missing")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidSchedule        = errors.New("timestamps and recurrence interval must be chronological")
	ErrInvalidAssetAccount    = errors.New("asset account does not match owner or asset type")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrDuplicateKey           = errors.New("payment already exists for idempotency key")
	ErrNotDue                 = errors.New("payment is not due")
	ErrDuplicateLog           = errors.New("transfer log already exists for slot")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentNotCompleted    = errors.New("payment is not completed")
	ErrPaymentCompleted       = errors.New("payment is already completed")
	ErrTransferLogNotFound    = errors.New("transfer log not found")
	ErrUnauthorized           = errors.New("caller is not authorized for this record")
	ErrTreasuryNotInitialized = errors.New("treasury not initialized")
	ErrTreasuryExists         = errors.New("treasury already initialized")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrAccountNotFound        = errors.New("asset account not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrDuplicateInvoice       = errors.New("invoice already exists")
)

// Defects. These indicate broken accounting and are never retryable.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrReserveExhausted   = errors.New("payment reserve cannot cover attempt fees")
)

// IsValidation reports whether err is a caller-correctable rejection.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrInvalidAmount, ErrInvalidSchedule, ErrInvalidAssetAccount, ErrInsufficientFunds,
		ErrDuplicateKey, ErrNotDue, ErrDuplicateLog, ErrPaymentNotFound, ErrPaymentNotCompleted,
		ErrPaymentCompleted, ErrTransferLogNotFound, ErrUnauthorized, ErrTreasuryNotInitialized, ErrTreasuryExists,
		ErrWalletNotFound, ErrAccountNotFound, ErrInvoiceNotFound, ErrDuplicateInvoice,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
