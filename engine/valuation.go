/*
valuation.go - Pure variance valuation math

PURPOSE:
  Given a line's live quantity, counted quantity, costs, and exchange
  rate, derive every computed field a count line carries. This is a pure
  function: the workflow recomputes it from live stock at approval time
  and never trusts client-supplied computed fields.

SEMANTICS:
  The physical count is authoritative. NewStock is the counted quantity
  itself - a count replaces stock, it does not increment it.

ROUNDING:
  All math runs on full-precision decimals. Monetary fields are rounded
  to 2 dp only when persisted (see Rounded), so intermediate aggregation
  does not compound rounding error.
*/
package engine

import "github.com/shopspring/decimal"

// ValuationInput is everything the calculator needs for one line.
type ValuationInput struct {
	CurrentQuantity decimal.Decimal // live on-hand quantity
	CountedQuantity decimal.Decimal // the physical count (authoritative)
	UnitCost        decimal.Decimal
	UnitAverageCost decimal.Decimal
	ExchangeRate    decimal.Decimal // to the tenant default currency
}

// Valuation holds the derived fields for one count line.
type Valuation struct {
	AdjustmentIn     decimal.Decimal // max(counted - current, 0)
	AdjustmentOut    decimal.Decimal // max(current - counted, 0)
	DeltaQuantity    decimal.Decimal // counted - current, signed
	DeltaValue       decimal.Decimal // delta quantity x unit average cost
	NewStock         decimal.Decimal // the counted quantity
	TotalValue       decimal.Decimal // counted quantity x unit cost
	EquivalentAmount decimal.Decimal // total value x exchange rate
}

// Valuate derives the valuation for one line.
func Valuate(in ValuationInput) Valuation {
	difference := in.CountedQuantity.Sub(in.CurrentQuantity)

	adjustmentIn := difference
	if adjustmentIn.IsNegative() {
		adjustmentIn = decimal.Zero
	}
	adjustmentOut := difference.Neg()
	if adjustmentOut.IsNegative() {
		adjustmentOut = decimal.Zero
	}

	totalValue := in.CountedQuantity.Mul(in.UnitCost)

	return Valuation{
		AdjustmentIn:     adjustmentIn,
		AdjustmentOut:    adjustmentOut,
		DeltaQuantity:    difference,
		DeltaValue:       difference.Mul(in.UnitAverageCost),
		NewStock:         in.CountedQuantity,
		TotalValue:       totalValue,
		EquivalentAmount: totalValue.Mul(in.ExchangeRate),
	}
}

// Rounded returns a copy with monetary fields rounded for persistence.
// Quantities keep full precision.
func (v Valuation) Rounded() Valuation {
	v.DeltaValue = RoundMoney(v.DeltaValue)
	v.TotalValue = RoundMoney(v.TotalValue)
	v.EquivalentAmount = RoundMoney(v.EquivalentAmount)
	return v
}
