// Package fees holds the pure arithmetic behind payment reserves: how many
// attempts a schedule owes and what each attempt costs.
package fees

import (
	"fmt"
	"math"

	"github.com/punchamoorthee/faktor/internal/domain"
)

const (
	DefaultDistributorFee int64 = 1000
	DefaultTreasuryFee    int64 = 1000
	// DefaultBaseReserve covers the storage cost of one payment record.
	DefaultBaseReserve int64 = 890880
)

// Policy is the fee schedule applied to every distribution attempt. Fees are
// flat per attempt and independent of the payment amount.
type Policy struct {
	DistributorFee int64
	TreasuryFee    int64
	BaseReserve    int64
}

func DefaultPolicy() Policy {
	return Policy{
		DistributorFee: DefaultDistributorFee,
		TreasuryFee:    DefaultTreasuryFee,
		BaseReserve:    DefaultBaseReserve,
	}
}

func (p Policy) Validate() error {
	if p.DistributorFee < 0 || p.TreasuryFee < 0 || p.BaseReserve < 0 {
		return fmt.Errorf("fee policy values must be non-negative: %+v", p)
	}
	if _, err := CheckedAdd(p.DistributorFee, p.TreasuryFee); err != nil {
		return err
	}
	return nil
}

// PerAttempt returns the distributor and treasury fee charged for one attempt.
func (p Policy) PerAttempt() (distributorFee, treasuryFee int64) {
	return p.DistributorFee, p.TreasuryFee
}

// AttemptCost is DistributorFee + TreasuryFee.
func (p Policy) AttemptCost() (int64, error) {
	return CheckedAdd(p.DistributorFee, p.TreasuryFee)
}

// Reserve returns BaseReserve + attempts * AttemptCost.
func (p Policy) Reserve(attempts int64) (int64, error) {
	cost, err := p.AttemptCost()
	if err != nil {
		return 0, err
	}
	total, err := CheckedMul(attempts, cost)
	if err != nil {
		return 0, err
	}
	return CheckedAdd(p.BaseReserve, total)
}

// ExpectedAttempts counts the slots nextTransferAt + k*recurrenceInterval that
// fall at or before completedAt. A one-time payment owes exactly one attempt.
func ExpectedAttempts(nextTransferAt, completedAt, recurrenceInterval int64) (int64, error) {
	if recurrenceInterval < 0 || nextTransferAt <= 0 || completedAt < nextTransferAt {
		return 0, domain.ErrInvalidSchedule
	}
	if recurrenceInterval == 0 {
		return 1, nil
	}
	return (completedAt-nextTransferAt)/recurrenceInterval + 1, nil
}

func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%d + %d: %w", a, b, domain.ErrArithmeticOverflow)
	}
	return a + b, nil
}

func CheckedSub(a, b int64) (int64, error) {
	if b == math.MinInt64 {
		return 0, fmt.Errorf("%d - %d: %w", a, b, domain.ErrArithmeticOverflow)
	}
	return CheckedAdd(a, -b)
}

func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%d * %d: %w", a, b, domain.ErrArithmeticOverflow)
	}
	return c, nil
}
