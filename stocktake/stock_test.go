package stocktake

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// EVEN DISTRIBUTION TESTS
// =============================================================================

func TestDistributeEvenly_ExactSplit(t *testing.T) {
	shares := DistributeEvenly(dec("10"), []string{"SN-1", "SN-2"})
	require.Len(t, shares, 2)
	assert.True(t, shares[0].Equal(dec("5")))
	assert.True(t, shares[1].Equal(dec("5")))
}

func TestDistributeEvenly_LastAbsorbsRemainder(t *testing.T) {
	// GIVEN: 10 units across 3 serials
	// THEN: 3.3333 + 3.3333 + 3.3334 - the shares always sum to the total

	shares := DistributeEvenly(dec("10"), []string{"SN-1", "SN-2", "SN-3"})
	require.Len(t, shares, 3)

	assert.True(t, shares[0].Equal(dec("3.3333")))
	assert.True(t, shares[1].Equal(dec("3.3333")))
	assert.True(t, shares[2].Equal(dec("3.3334")))

	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s)
	}
	assert.True(t, sum.Equal(dec("10")), "shares must sum exactly to the total")
}

func TestDistributeEvenly_SingleTakesAll(t *testing.T) {
	shares := DistributeEvenly(dec("7.25"), []string{"SN-1"})
	require.Len(t, shares, 1)
	assert.True(t, shares[0].Equal(dec("7.25")))
}

func TestDistributeEvenly_Empty(t *testing.T) {
	assert.Nil(t, DistributeEvenly(dec("10"), nil))
}

func TestDistributeEvenly_ZeroTotal(t *testing.T) {
	shares := DistributeEvenly(decimal.Zero, []string{"SN-1", "SN-2"})
	require.Len(t, shares, 2)
	assert.True(t, shares[0].IsZero())
	assert.True(t, shares[1].IsZero())
}

// =============================================================================
// EXPIRY HELPERS
// =============================================================================

func TestDaysUntil(t *testing.T) {
	now := time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, 0, daysUntil(truncateToDay(now), now))
	assert.Equal(t, 5, daysUntil(time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, -3, daysUntil(time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC), now))
}

func TestTruncateToDay_DropsTimeOfDay(t *testing.T) {
	got := truncateToDay(time.Date(2025, time.March, 10, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), got)
}
