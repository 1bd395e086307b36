package tokenswap

import "math/big"

// QuoteNative converts payAmount native base units into output base units
// using the oracle price of the native currency:
//
//	floor(payAmount / 10^nativeDecimals * price / unitPrice * 10^outputDecimals)
func QuoteNative(policy Policy, record PriceRecord, payAmount *big.Int, outputDecimals uint8) (*big.Int, error) {
	if payAmount == nil || payAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	usd := new(big.Rat).SetFrac(payAmount, pow10(policy.NativeUnitDecimals))
	usd.Mul(usd, record.Rat())
	return unitsForUSD(usd, outputDecimals), nil
}

// QuoteStable converts payAmount stable base units into output base units.
// Stable assets are valued at exactly one USD per whole unit.
func QuoteStable(policy Policy, payAmount *big.Int, outputDecimals uint8) (*big.Int, error) {
	if payAmount == nil || payAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	usd := new(big.Rat).SetFrac(payAmount, pow10(policy.StableUnitDecimals))
	return unitsForUSD(usd, outputDecimals), nil
}

func unitsForUSD(usd *big.Rat, outputDecimals uint8) *big.Int {
	units := new(big.Rat).Quo(usd, outputUnitPrice())
	units.Mul(units, new(big.Rat).SetInt(pow10(outputDecimals)))
	// Num/Denom truncates toward zero, which is the floor for non-negative values.
	return new(big.Int).Quo(units.Num(), units.Denom())
}
