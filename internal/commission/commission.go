// Package commission implements the platform fee and pricing math used by
// every ledger operation: commission amounts on transaction principals and
// quantity-weighted average purchase prices for holdings.
//
// All values use shopspring/decimal. Commission is always computed on the
// pre-commission principal and rounded half-up to the currency's minor unit
// (two decimal places) before being combined with the principal, so repeated
// fee math never accumulates sub-cent drift.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"
)

// minorUnits is the number of decimal places of the settlement currency.
const minorUnits = 2

// ErrInvalidRate is returned when a configured rate is negative or ≥ 1.
var ErrInvalidRate = errors.New("commission: rate must be in [0, 1)")

// Rates holds the configured commission fractions per operation class.
// These are configuration values injected at startup, never hardcoded at
// call sites.
type Rates struct {
	// Buyer is charged on top of the principal for purchases, donations,
	// and project funding (e.g. 0.02).
	Buyer decimal.Decimal

	// Seller is deducted from the principal credited to a seller on a
	// secondary-market fill (e.g. 0.01).
	Seller decimal.Decimal

	// Liquidation is deducted from each holder payout when an instrument
	// is bought back and retired (e.g. 0.01).
	Liquidation decimal.Decimal
}

// DefaultRates mirrors the platform's standard fee schedule.
func DefaultRates() Rates {
	return Rates{
		Buyer:       decimal.NewFromFloat(0.02),
		Seller:      decimal.NewFromFloat(0.01),
		Liquidation: decimal.NewFromFloat(0.01),
	}
}

// Validate checks every configured rate is a sane fraction.
func (r Rates) Validate() error {
	one := decimal.NewFromInt(1)
	for _, rate := range []decimal.Decimal{r.Buyer, r.Seller, r.Liquidation} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return ErrInvalidRate
		}
	}
	return nil
}

// Fee returns the commission on principal at the given rate, rounded
// half-up to the minor unit. decimal.Round rounds half away from zero,
// which is half-up for the non-negative principals used here.
func Fee(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Mul(rate).Round(minorUnits)
}

// WithFee returns (gross, fee): the principal plus its commission, as
// charged to the paying side.
func WithFee(principal, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	fee := Fee(principal, rate)
	return principal.Add(fee), fee
}

// LessFee returns (net, fee): the principal minus its commission, as
// credited to the receiving side.
func LessFee(principal, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	fee := Fee(principal, rate)
	return principal.Sub(fee), fee
}

// WeightedAverage recomputes a holding's average purchase price after
// acquiring addedQty more units at unitPrice:
//
//	newAvg = (oldAvg*oldQty + unitPrice*addedQty) / (oldQty + addedQty)
//
// oldQty may be zero (first acquisition), in which case the result is
// unitPrice exactly.
func WeightedAverage(oldAvg decimal.Decimal, oldQty int64, unitPrice decimal.Decimal, addedQty int64) decimal.Decimal {
	if addedQty <= 0 {
		return oldAvg
	}
	if oldQty <= 0 {
		return unitPrice
	}
	oldTotal := oldAvg.Mul(decimal.NewFromInt(oldQty))
	addedTotal := unitPrice.Mul(decimal.NewFromInt(addedQty))
	return oldTotal.Add(addedTotal).Div(decimal.NewFromInt(oldQty + addedQty))
}

// UnitValue splits a total liquidation amount evenly across an instrument's
// full unit pool.
func UnitValue(totalAmount decimal.Decimal, totalUnits int64) decimal.Decimal {
	if totalUnits <= 0 {
		return decimal.Zero
	}
	return totalAmount.Div(decimal.NewFromInt(totalUnits))
}
