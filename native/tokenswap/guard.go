package tokenswap

import (
	"fmt"
	"math/big"
)

// CheckPurchase applies the trade guard to a computed quantity in output base
// units. Checks run in a fixed order: minimum, maximum, then liquidity.
func (p Policy) CheckPurchase(quantity, treasuryBalance *big.Int, outputDecimals uint8) error {
	if quantity == nil {
		return ErrInvalidAmount
	}
	scale := pow10(outputDecimals)
	minimum := new(big.Int).Mul(new(big.Int).SetUint64(p.MinPurchase), scale)
	if quantity.Cmp(minimum) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrMinimumNotMet, quantity, minimum)
	}
	maximum := new(big.Int).Mul(new(big.Int).SetUint64(p.MaxPurchase), scale)
	if quantity.Cmp(maximum) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrMaximumExceeded, quantity, maximum)
	}
	if treasuryBalance == nil || treasuryBalance.Cmp(quantity) < 0 {
		available := "0"
		if treasuryBalance != nil {
			available = treasuryBalance.String()
		}
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientTreasuryLiquidity, quantity, available)
	}
	return nil
}
