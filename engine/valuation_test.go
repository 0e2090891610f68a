package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/stocktake-engine/engine"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// VALUATION TESTS
// =============================================================================

func TestValuate_Loss(t *testing.T) {
	// GIVEN: 10 on hand, 7 counted, unit cost 5, rate 1
	// THEN: adjustment-out 3, delta -3, delta value -15,
	//       new stock 7, total value 35

	v := engine.Valuate(engine.ValuationInput{
		CurrentQuantity: dec("10"),
		CountedQuantity: dec("7"),
		UnitCost:        dec("5"),
		UnitAverageCost: dec("5"),
		ExchangeRate:    dec("1"),
	})

	assert.True(t, v.AdjustmentIn.IsZero())
	assert.True(t, v.AdjustmentOut.Equal(dec("3")))
	assert.True(t, v.DeltaQuantity.Equal(dec("-3")))
	assert.True(t, v.DeltaValue.Equal(dec("-15")))
	assert.True(t, v.NewStock.Equal(dec("7")))
	assert.True(t, v.TotalValue.Equal(dec("35")))
	assert.True(t, v.EquivalentAmount.Equal(dec("35")))
}

func TestValuate_Gain(t *testing.T) {
	// GIVEN: 10 on hand, 15 counted, average cost 2
	// THEN: adjustment-in 5, delta value +10

	v := engine.Valuate(engine.ValuationInput{
		CurrentQuantity: dec("10"),
		CountedQuantity: dec("15"),
		UnitCost:        dec("3"),
		UnitAverageCost: dec("2"),
		ExchangeRate:    dec("1"),
	})

	assert.True(t, v.AdjustmentIn.Equal(dec("5")))
	assert.True(t, v.AdjustmentOut.IsZero())
	assert.True(t, v.DeltaQuantity.Equal(dec("5")))
	assert.True(t, v.DeltaValue.Equal(dec("10")))
	assert.True(t, v.NewStock.Equal(dec("15")))
	assert.True(t, v.TotalValue.Equal(dec("45")))
}

func TestValuate_ZeroDelta(t *testing.T) {
	v := engine.Valuate(engine.ValuationInput{
		CurrentQuantity: dec("8"),
		CountedQuantity: dec("8"),
		UnitCost:        dec("4"),
		UnitAverageCost: dec("4"),
		ExchangeRate:    dec("1"),
	})

	assert.True(t, v.DeltaQuantity.IsZero())
	assert.True(t, v.DeltaValue.IsZero())
	assert.True(t, v.AdjustmentIn.IsZero())
	assert.True(t, v.AdjustmentOut.IsZero())
}

func TestValuate_MultiCurrencyEquivalent(t *testing.T) {
	// Equivalent amount is total value times the exchange rate.
	v := engine.Valuate(engine.ValuationInput{
		CurrentQuantity: dec("0"),
		CountedQuantity: dec("4"),
		UnitCost:        dec("2.50"),
		UnitAverageCost: dec("2.50"),
		ExchangeRate:    dec("1.25"),
	})

	assert.True(t, v.TotalValue.Equal(dec("10")))
	assert.True(t, v.EquivalentAmount.Equal(dec("12.5")))
}

func TestValuation_RoundedOnlyTouchesMoney(t *testing.T) {
	// GIVEN: A fractional count that produces long monetary tails
	// WHEN: Applying persistence rounding
	// THEN: Monetary fields round to 2 dp; quantities keep full precision

	v := engine.Valuate(engine.ValuationInput{
		CurrentQuantity: dec("0"),
		CountedQuantity: dec("3.333"),
		UnitCost:        dec("1.999"),
		UnitAverageCost: dec("1.999"),
		ExchangeRate:    dec("1"),
	}).Rounded()

	assert.True(t, v.DeltaQuantity.Equal(dec("3.333")), "quantity must not round")
	assert.True(t, v.NewStock.Equal(dec("3.333")))
	assert.True(t, v.TotalValue.Equal(dec("6.66")), "got %s", v.TotalValue)
	assert.True(t, v.DeltaValue.Equal(dec("6.66")))
}
