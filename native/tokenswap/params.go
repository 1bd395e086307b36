package tokenswap

import (
	"fmt"
	"math/big"
	"time"
)

// OutputUnitPriceUSD is the fixed USD price of one whole output unit. Every
// conversion reads it from here and nowhere else.
const OutputUnitPriceUSD = "0.02"

const (
	// DefaultMinPurchase is the purchase floor in whole output units.
	DefaultMinPurchase uint64 = 50
	// DefaultMaxPurchase is the purchase ceiling in whole output units.
	DefaultMaxPurchase uint64 = 5_000_000
	// DefaultNativeMaxAge bounds the age of the native oracle price.
	DefaultNativeMaxAge = 60 * time.Second
	// DefaultStableMaxAge bounds the age of the stable asset oracle price.
	DefaultStableMaxAge = 90 * time.Second
	// DefaultNativeUnitDecimals is the base-unit scale of the native currency.
	DefaultNativeUnitDecimals uint8 = 9
	// DefaultStableUnitDecimals is the base-unit scale of the stable assets.
	DefaultStableUnitDecimals uint8 = 6
)

// Policy holds the trade bounds and oracle freshness windows.
type Policy struct {
	MinPurchase        uint64
	MaxPurchase        uint64
	NativeMaxAge       time.Duration
	StableMaxAge       time.Duration
	NativeUnitDecimals uint8
	StableUnitDecimals uint8
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MinPurchase:        DefaultMinPurchase,
		MaxPurchase:        DefaultMaxPurchase,
		NativeMaxAge:       DefaultNativeMaxAge,
		StableMaxAge:       DefaultStableMaxAge,
		NativeUnitDecimals: DefaultNativeUnitDecimals,
		StableUnitDecimals: DefaultStableUnitDecimals,
	}
}

// Validate ensures the bounds are coherent.
func (p Policy) Validate() error {
	if p.MinPurchase == 0 {
		return fmt.Errorf("tokenswap: minimum purchase must be positive")
	}
	if p.MaxPurchase < p.MinPurchase {
		return fmt.Errorf("tokenswap: maximum purchase %d below minimum %d", p.MaxPurchase, p.MinPurchase)
	}
	if p.NativeMaxAge <= 0 || p.StableMaxAge <= 0 {
		return fmt.Errorf("tokenswap: oracle max age must be positive")
	}
	return nil
}

func outputUnitPrice() *big.Rat {
	price, ok := new(big.Rat).SetString(OutputUnitPriceUSD)
	if !ok || price.Sign() <= 0 {
		panic("tokenswap: invalid output unit price constant")
	}
	return price
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
