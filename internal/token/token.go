// Package token models the external asset-movement capability: token accounts
// owned by identities, delegated spending authorizations and transfers made by
// a delegate on the owner's behalf.
package token

import (
	"context"
	"errors"
)

var (
	ErrAccountExists = errors.New("token account already exists")
)

// Account is a token-holding account for one asset type.
type Account struct {
	Ref             string `json:"ref"`
	Owner           string `json:"owner"`
	AssetType       string `json:"asset_type"`
	Balance         int64  `json:"balance"`
	Delegate        string `json:"delegate,omitempty"`
	DelegatedAmount int64  `json:"delegated_amount"`
}

// Outcome is the non-fatal result of a transfer attempt.
type Outcome struct {
	Succeeded bool
	Reason    string
}

const (
	ReasonNotDelegate         = "authority is not the account delegate"
	ReasonAllowanceExceeded   = "delegated amount below transfer amount"
	ReasonInsufficientBalance = "insufficient token balance"
	ReasonAssetMismatch       = "source and destination hold different assets"
	ReasonAccountMissing      = "token account missing"
)

func Succeeded() Outcome { return Outcome{Succeeded: true} }

func Failed(reason string) Outcome { return Outcome{Reason: reason} }

// Movement moves a fungible asset between two accounts under a standing
// delegated authorization. A declined transfer is reported through Outcome;
// the error return is reserved for infrastructure faults.
type Movement interface {
	Account(ctx context.Context, ref string) (*Account, error)
	Approve(ctx context.Context, owner, ref, delegate string, amount int64) error
	Revoke(ctx context.Context, owner, ref string) error
	Transfer(ctx context.Context, authority, source, destination string, amount int64) (Outcome, error)
}

// Registry opens token accounts. Seeding and development tooling use it.
type Registry interface {
	Open(ctx context.Context, ref, owner, assetType string, balance int64) error
}

// Check evaluates a delegated transfer against the two accounts without
// mutating them. Both the in-memory bank and the postgres implementation share
// these rules.
func Check(src, dst *Account, authority string, amount int64) Outcome {
	if src == nil || dst == nil {
		return Failed(ReasonAccountMissing)
	}
	if src.Delegate == "" || src.Delegate != authority {
		return Failed(ReasonNotDelegate)
	}
	if src.DelegatedAmount < amount {
		return Failed(ReasonAllowanceExceeded)
	}
	if src.Balance < amount {
		return Failed(ReasonInsufficientBalance)
	}
	if src.AssetType != dst.AssetType {
		return Failed(ReasonAssetMismatch)
	}
	return Succeeded()
}

// Apply performs a checked transfer in place. The delegation is cleared once
// the allowance is spent.
func Apply(src, dst *Account, amount int64) {
	src.Balance -= amount
	dst.Balance += amount
	src.DelegatedAmount -= amount
	if src.DelegatedAmount == 0 {
		src.Delegate = ""
	}
}
