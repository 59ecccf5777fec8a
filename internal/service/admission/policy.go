package admission

import (
	"fmt"
	"math/bits"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

// OverpaymentPolicy decides what happens to payment above the required amount.
type OverpaymentPolicy string

const (
	// OverpaymentRefund charges exactly the required amount and reports the
	// excess as a refund owed to the buyer.
	OverpaymentRefund OverpaymentPolicy = "refund"
	// OverpaymentRetain charges the full paid amount.
	OverpaymentRetain OverpaymentPolicy = "retain"

	DefaultOverpaymentPolicy = OverpaymentRefund
)

func ParseOverpaymentPolicy(s string) (OverpaymentPolicy, error) {
	switch p := OverpaymentPolicy(s); p {
	case OverpaymentRefund, OverpaymentRetain:
		return p, nil
	case "":
		return DefaultOverpaymentPolicy, nil
	}

	return "", fmt.Errorf("unknown overpayment policy %q: %w", s, domain.ErrInvalidParameters)
}

// settle splits paid into the charged amount and the refund.
func (p OverpaymentPolicy) settle(paid, required domain.Amount) (charged, refund domain.Amount) {
	if p == OverpaymentRetain {
		return paid, 0
	}
	return required, paid - required
}

// requiredAmount returns price*quantity, false on overflow.
func requiredAmount(price domain.Amount, quantity int64) (domain.Amount, bool) {
	hi, lo := bits.Mul64(uint64(price), uint64(quantity))
	if hi != 0 || lo > 1<<63-1 {
		return 0, false
	}
	return domain.Amount(lo), true
}
