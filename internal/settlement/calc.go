package settlement

import (
	"errors"
	"fmt"

	"github.com/carrylink/backend-carry/internal/pricing"
)

// Money aliases the pricing minor-unit representation.
type Money = pricing.Money

// Default rates applied by callers when a record carries no explicit rate.
const (
	DefaultVATRateBps     = 1000
	DefaultDepositRateBps = 2000
)

// ErrNegativeUnitCount indicates a negative box count was supplied.
var ErrNegativeUnitCount = errors.New("settlement: unit count must not be negative")

// ErrCommissionOutOfRange indicates a commission rate outside [0%, 100%].
var ErrCommissionOutOfRange = errors.New("settlement: commission rate must be within [0, 10000] bps")

// CalcInput describes a finalized order to decompose into settlement figures.
// All rates are basis points.
type CalcInput struct {
	UnitCount         int
	UnitPrice         Money
	VATRateBps        int
	DepositRateBps    int
	CommissionRateBps int
	Deductions        Money
}

// CalcResult is the full settlement decomposition. The payee fields describe
// the secondary invoice the helper issues for their own tax filing, covering
// the gross total net of platform commission.
type CalcResult struct {
	GrossTotal        Money
	SupplyAmount      Money
	VATAmount         Money
	Deposit           Money
	Balance           Money
	Commission        Money
	Deductions        Money
	NetPayout         Money
	PayeeInvoiceTotal Money
	PayeeSupplyAmount Money
	PayeeVATAmount    Money
}

// Calculate decomposes the gross order total. Exact integer arithmetic: the
// VAT, deposit and payee splits are derived as remainders so that each pair
// sums back to its total with zero residual. A negative net payout is
// preserved as data for manual review, never clamped or treated as an error.
func Calculate(in CalcInput) (CalcResult, error) {
	if in.UnitCount < 0 {
		return CalcResult{}, fmt.Errorf("%w: got %d", ErrNegativeUnitCount, in.UnitCount)
	}
	if in.CommissionRateBps < 0 || in.CommissionRateBps > pricing.BpsDenominator {
		return CalcResult{}, fmt.Errorf("%w: got %d", ErrCommissionOutOfRange, in.CommissionRateBps)
	}
	if in.UnitPrice < 0 {
		return CalcResult{}, fmt.Errorf("settlement: unit price must not be negative, got %d", in.UnitPrice)
	}
	if in.VATRateBps < 0 {
		return CalcResult{}, fmt.Errorf("settlement: vat rate must not be negative, got %d bps", in.VATRateBps)
	}
	if in.DepositRateBps < 0 || in.DepositRateBps > pricing.BpsDenominator {
		return CalcResult{}, fmt.Errorf("settlement: deposit rate must be within [0, 10000] bps, got %d", in.DepositRateBps)
	}
	if in.Deductions < 0 {
		return CalcResult{}, fmt.Errorf("settlement: deductions must not be negative, got %d", in.Deductions)
	}

	vatDen := Money(pricing.BpsDenominator + in.VATRateBps)
	net := Money(in.UnitCount) * in.UnitPrice
	gross := roundHalfUp(net*vatDen, pricing.BpsDenominator)

	supply := roundHalfUp(gross*pricing.BpsDenominator, vatDen)
	vat := gross - supply

	// Floor, never round: the requester is never charged more up front than
	// the agreed deposit percentage.
	deposit := gross * Money(in.DepositRateBps) / pricing.BpsDenominator
	balance := gross - deposit

	commission := roundHalfUp(gross*Money(in.CommissionRateBps), pricing.BpsDenominator)
	netPayout := gross - commission - in.Deductions

	payeeTotal := gross - commission
	payeeSupply := roundHalfUp(payeeTotal*pricing.BpsDenominator, vatDen)
	payeeVAT := payeeTotal - payeeSupply

	return CalcResult{
		GrossTotal:        gross,
		SupplyAmount:      supply,
		VATAmount:         vat,
		Deposit:           deposit,
		Balance:           balance,
		Commission:        commission,
		Deductions:        in.Deductions,
		NetPayout:         netPayout,
		PayeeInvoiceTotal: payeeTotal,
		PayeeSupplyAmount: payeeSupply,
		PayeeVATAmount:    payeeVAT,
	}, nil
}

func roundHalfUp(n, d Money) Money {
	return (n + d/2) / d
}
