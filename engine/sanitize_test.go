package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stocktake-engine/engine"
)

// =============================================================================
// CLEAN TESTS
// =============================================================================

func TestClean_KeepsOnlyFirstDot(t *testing.T) {
	// GIVEN: A decimal corrupted by a duplicated separator
	// WHEN: Cleaning it
	// THEN: Only the first dot survives; later dots are dropped, not rejected

	assert.Equal(t, "1.00325", engine.Clean("1.0032.5"))
	assert.Equal(t, "12.34", engine.Clean("12.3.4"))
	assert.Equal(t, "0.1", engine.Clean("0..1"))
}

func TestClean_StripsNonNumericRunes(t *testing.T) {
	assert.Equal(t, "123.4", engine.Clean("12a3.4b"))
	assert.Equal(t, "-12.5", engine.Clean("-12.5x"))
	assert.Equal(t, "1250", engine.Clean("1,250"))
	assert.Equal(t, "", engine.Clean("abc"))
}

func TestClean_MinusOnlyLeading(t *testing.T) {
	// A minus anywhere but the front is corruption, not a sign.
	assert.Equal(t, "-5", engine.Clean("-5"))
	assert.Equal(t, "35", engine.Clean("3-5"))
	assert.Equal(t, "-35", engine.Clean("--35"))
}

func TestClean_Idempotent(t *testing.T) {
	// Cleaning an already-clean value must be a no-op, so healed values
	// written back to storage survive future reads unchanged.
	inputs := []string{"1.0032.5", "12a3.4b", "-1,250.75", "", "-", ".", "-.", "42"}
	for _, raw := range inputs {
		once := engine.Clean(raw)
		assert.Equal(t, once, engine.Clean(once), "Clean not idempotent for %q", raw)
	}
}

// =============================================================================
// SANITIZE TESTS
// =============================================================================

func TestSanitize_DegenerateIsZero(t *testing.T) {
	// GIVEN: Values that clean down to nothing parseable
	// THEN: They deterministically become zero, not an error

	for _, raw := range []string{"", "-", ".", "-.", "abc", ","} {
		d, err := engine.Sanitize("qty", raw)
		require.NoError(t, err, "raw=%q", raw)
		assert.True(t, d.IsZero(), "raw=%q should sanitize to zero", raw)
	}
}

func TestSanitize_CorruptedDecimal(t *testing.T) {
	d, err := engine.Sanitize("qty", "1.0032.5")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1.00325")))
}

func TestSanitize_NegativeSurvives(t *testing.T) {
	d, err := engine.Sanitize("delta", "-15.25")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("-15.25")))
}

// =============================================================================
// RATE TESTS
// =============================================================================

func TestSanitizeRate_NonPositiveFallsBack(t *testing.T) {
	// GIVEN: A stored rate of -1 (a legacy "unset" marker) or zero
	// WHEN: Sanitizing with a fallback of 1
	// THEN: The fallback is used; conversions never multiply by <= 0

	one := decimal.NewFromInt(1)

	assert.True(t, engine.SanitizeRate("-1", one).Equal(one))
	assert.True(t, engine.SanitizeRate("0", one).Equal(one))
	assert.True(t, engine.SanitizeRate("", one).Equal(one))
	assert.True(t, engine.SanitizeRate("garbage", one).Equal(one))
}

func TestSanitizeRate_PositiveKept(t *testing.T) {
	one := decimal.NewFromInt(1)

	assert.True(t, engine.SanitizeRate("2.5", one).Equal(decimal.RequireFromString("2.5")))
	// Corrupted but salvageable rates are cleaned, not discarded.
	assert.True(t, engine.SanitizeRate("1.0032.5", one).Equal(decimal.RequireFromString("1.00325")))
}
