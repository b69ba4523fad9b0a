package pricing

import (
	"errors"
	"fmt"
)

// Money represents a monetary value stored in minor units (won).
type Money = int64

// Per-unit prices are kept on multiples of 100 won so that quoted box prices
// stay practical for the admin console and partner invoices.
const priceIncrement Money = 100

// BpsDenominator is the fixed-point denominator for rate parameters.
// 100 bps = 1%.
const BpsDenominator = 10_000

// ErrNegativeUnitCount indicates the caller supplied a negative box count.
var ErrNegativeUnitCount = errors.New("pricing: unit count must not be negative")

// Input carries everything needed to price a single order. Constructed fresh
// per calculation and never mutated.
type Input struct {
	BasePricePerUnit Money
	UnitCount        int
	MinimumTotal     Money
	// UrgentRateBps is the urgent surcharge expressed in basis points.
	UrgentRateBps int
	// MinTotalVATBps is the VAT basis assumed for MinimumTotal when
	// back-solving a per-unit price. Zero means the minimum total is on the
	// same VAT-exclusive basis as the per-unit price.
	MinTotalVATBps int
	Urgent         bool
}

// Result reports the adjusted price and which adjustments contributed.
type Result struct {
	BasePricePerUnit   Money
	PriceAfterUrgent   Money
	FinalPricePerUnit  Money
	TotalBeforeMinimum Money
	FinalTotal         Money
	UrgentApplied      bool
	MinimumApplied     bool
	Explanation        string
}

// Adjust applies the urgent surcharge and minimum-total enforcement in that
// fixed order. The surcharge is committed first and is never discounted by
// the minimum-total floor.
func Adjust(in Input) (Result, error) {
	if in.UnitCount < 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrNegativeUnitCount, in.UnitCount)
	}
	if in.BasePricePerUnit < 0 {
		return Result{}, fmt.Errorf("pricing: base price must not be negative, got %d", in.BasePricePerUnit)
	}
	if in.MinimumTotal < 0 {
		return Result{}, fmt.Errorf("pricing: minimum total must not be negative, got %d", in.MinimumTotal)
	}
	if in.UrgentRateBps < 0 {
		return Result{}, fmt.Errorf("pricing: urgent rate must not be negative, got %d bps", in.UrgentRateBps)
	}
	if in.MinTotalVATBps < 0 {
		return Result{}, fmt.Errorf("pricing: vat basis must not be negative, got %d bps", in.MinTotalVATBps)
	}

	res := Result{BasePricePerUnit: in.BasePricePerUnit}
	if in.UnitCount == 0 {
		return res, nil
	}

	price := in.BasePricePerUnit
	if in.Urgent && in.UrgentRateBps > 0 {
		raw := in.BasePricePerUnit * (BpsDenominator + Money(in.UrgentRateBps))
		price = roundToIncrement(roundHalfUp(raw, BpsDenominator))
		// Rounding to the increment may land below the base price for small
		// surcharges; the surcharge never lowers a price.
		if price < in.BasePricePerUnit {
			price = in.BasePricePerUnit
		}
		res.UrgentApplied = true
	}
	res.PriceAfterUrgent = price
	res.TotalBeforeMinimum = price * Money(in.UnitCount)

	res.FinalPricePerUnit = price
	res.FinalTotal = res.TotalBeforeMinimum
	if in.MinimumTotal > 0 && res.TotalBeforeMinimum < in.MinimumTotal {
		raised := minimumPerUnit(in.MinimumTotal, in.UnitCount, in.MinTotalVATBps)
		// The floor never lowers a price already set by the surcharge.
		if raised < price {
			raised = price
		}
		res.FinalPricePerUnit = raised
		res.FinalTotal = raised * Money(in.UnitCount)
		res.MinimumApplied = true
		res.Explanation = buildExplanation(res.UrgentApplied, in.MinimumTotal)
	}
	return res, nil
}

// minimumPerUnit back-solves the per-unit price required to meet the minimum
// order total, ceiling so the order never under-collects.
func minimumPerUnit(minTotal Money, unitCount, vatBps int) Money {
	num := minTotal * BpsDenominator
	den := (BpsDenominator + Money(vatBps)) * Money(unitCount)
	return ceilToIncrement(ceilDiv(num, den))
}

func buildExplanation(urgent bool, minTotal Money) string {
	if urgent {
		return fmt.Sprintf("urgent surcharge applied, then per-box price raised to meet the %d won minimum order total", minTotal)
	}
	return fmt.Sprintf("per-box price raised to meet the %d won minimum order total", minTotal)
}

// roundHalfUp divides n by d rounding half away from zero. Inputs are
// non-negative.
func roundHalfUp(n, d Money) Money {
	return (n + d/2) / d
}

func ceilDiv(n, d Money) Money {
	return (n + d - 1) / d
}

func roundToIncrement(v Money) Money {
	return roundHalfUp(v, priceIncrement) * priceIncrement
}

func ceilToIncrement(v Money) Money {
	return ceilDiv(v, priceIncrement) * priceIncrement
}
