package pricing

import (
	"fmt"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

// DefaultDiscountPercent is the member discount applied when none is configured.
const DefaultDiscountPercent int64 = 20

// DiscountPolicy takes Percent off the base price for verified members.
type DiscountPolicy struct {
	Percent int64
}

func (p DiscountPolicy) Validate() error {
	if p.Percent < 1 || p.Percent > 100 {
		return fmt.Errorf("discount percent %d out of range 1..100: %w", p.Percent, domain.ErrInvalidParameters)
	}
	return nil
}

// Apply returns floor(base * (100 - Percent) / 100) without overflowing
// for any non-negative base. The result is below base whenever base > 0.
func (p DiscountPolicy) Apply(base domain.Amount) domain.Amount {
	keep := 100 - p.Percent
	return (base/100)*keep + (base%100)*keep/100
}
