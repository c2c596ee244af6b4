// Package pricing validates quoted prices against an advertisement's pricing
// mode and converts fiat pay values into token amounts. Prices are BRL cents
// per whole token; amounts are token minimal units.
package pricing

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/types"
)

// TokenMultiplier converts whole tokens to minimal units (10^8 for the
// sell token).
const TokenMultiplier = 100_000_000

// Basis point scale for the dynamic offset.
const bpScale = 10_000

// Dynamic quotes may sit up to 0.3% below target to absorb market drift
// between the client quoting and the server validating.
const toleranceNum, toleranceDen = 997, 1000

var (
	ErrPriceMismatch = errors.New("quoted price does not match advertisement price")
	ErrPriceTooLow   = errors.New("quoted price below dynamic target")
)

// DynamicTarget applies the advertisement's basis-point offset to the market
// price.
func DynamicTarget(market, offsetBP int64) int64 {
	t := new(big.Int).SetInt64(market)
	t.Mul(t, big.NewInt(bpScale+offsetBP))
	t.Div(t, big.NewInt(bpScale))
	return t.Int64()
}

// ValidatePrice checks the buyer's quoted price against the advertisement.
// Fixed mode requires an exact match. Dynamic mode accepts any quote at or
// above target minus the tolerance, where target derives from the market
// price and the advertisement's offset.
func ValidatePrice(ad *types.Advertisement, quoted, market int64) error {
	switch ad.PricingMode {
	case types.PricingFixed:
		if quoted != ad.Price {
			return ErrPriceMismatch
		}
		return nil
	case types.PricingDynamic:
		target := DynamicTarget(market, ad.PriceOffsetBP)
		min := new(big.Int).SetInt64(target)
		min.Mul(min, big.NewInt(toleranceNum))
		min.Div(min, big.NewInt(toleranceDen))
		if quoted < min.Int64() {
			return ErrPriceTooLow
		}
		return nil
	default:
		return errors.Errorf("unknown pricing mode %q", ad.PricingMode)
	}
}

// ComputeAmount converts a BRL pay value (cents) into token minimal units at
// the validated price (cents per whole token).
func ComputeAmount(payValue, price int64) (int64, error) {
	if payValue <= 0 || price <= 0 {
		return 0, errors.New("pay value and price must be positive")
	}
	amount := new(big.Int).SetInt64(payValue)
	amount.Mul(amount, big.NewInt(TokenMultiplier))
	amount.Div(amount, big.NewInt(price))
	if !amount.IsInt64() {
		return 0, errors.New("amount overflows int64")
	}
	return amount.Int64(), nil
}
