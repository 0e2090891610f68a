package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stocktake-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// memLedger is an in-memory LedgerStore for posting-level tests.
type memLedger struct {
	entries []engine.LedgerEntry
}

func (m *memLedger) AppendEntries(_ context.Context, entries []engine.LedgerEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memLedger) EntriesByPostingGroup(_ context.Context, tenantID engine.TenantID, groupID string) ([]engine.LedgerEntry, error) {
	var out []engine.LedgerEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.PostingGroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

func testPosting(delta string) engine.VariancePosting {
	return engine.VariancePosting{
		TenantID:        "t1",
		Reference:       "STK-20250310-120000",
		TransactionDate: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		Description:     "stock variance widget",
		Actor:           "counter-1",
		DeltaValue:      dec(delta),
		ExchangeRate:    dec("1"),

		InboundVariance:  engine.PostingAccount{ID: "a-in-var", Code: "5101"},
		InboundOffset:    engine.PostingAccount{ID: "a-in-off", Code: "5102"},
		OutboundVariance: engine.PostingAccount{ID: "a-out-var", Code: "5103"},
		OutboundOffset:   engine.PostingAccount{ID: "a-out-off", Code: "5104"},
	}
}

// =============================================================================
// POSTING TESTS
// =============================================================================

func TestBuildVariancePosting_Gain(t *testing.T) {
	// GIVEN: A positive delta value (found more than expected)
	// THEN: Debit inbound-variance, credit inbound-offset, same group id

	entries, err := engine.BuildVariancePosting(testPosting("15"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, engine.NatureDebit, entries[0].Nature)
	assert.Equal(t, "a-in-var", entries[0].Account.ID)
	assert.Equal(t, engine.NatureCredit, entries[1].Nature)
	assert.Equal(t, "a-in-off", entries[1].Account.ID)

	assert.Equal(t, entries[0].PostingGroupID, entries[1].PostingGroupID)
	assert.True(t, entries[0].Amount.Equal(dec("15")))
	assert.True(t, entries[1].Amount.Equal(dec("15")))
	assert.Equal(t, engine.TxStockVariance, entries[0].Type)
	assert.Equal(t, "2025-03", entries[0].PeriodID)
}

func TestBuildVariancePosting_Loss(t *testing.T) {
	// GIVEN: A negative delta value (shrinkage)
	// THEN: Debit outbound-offset, credit outbound-variance, |delta| amounts

	entries, err := engine.BuildVariancePosting(testPosting("-15"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, engine.NatureDebit, entries[0].Nature)
	assert.Equal(t, "a-out-off", entries[0].Account.ID)
	assert.Equal(t, engine.NatureCredit, entries[1].Nature)
	assert.Equal(t, "a-out-var", entries[1].Account.ID)

	assert.True(t, entries[0].Amount.Equal(dec("15")), "amount is the absolute delta")
}

func TestBuildVariancePosting_ZeroDeltaNoEntries(t *testing.T) {
	entries, err := engine.BuildVariancePosting(testPosting("0"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestBuildVariancePosting_EquivalentUsesRate(t *testing.T) {
	p := testPosting("-10")
	p.ExchangeRate = dec("1.5")

	entries, err := engine.BuildVariancePosting(p)
	require.NoError(t, err)

	assert.True(t, entries[0].Amount.Equal(dec("10")))
	assert.True(t, entries[0].EquivalentAmount.Equal(dec("15")))
	assert.True(t, entries[1].EquivalentAmount.Equal(dec("15")))
	require.NoError(t, engine.CheckBalanced(entries))
}

func TestCheckBalanced_RejectsTamperedGroup(t *testing.T) {
	entries, err := engine.BuildVariancePosting(testPosting("20"))
	require.NoError(t, err)

	entries[1].EquivalentAmount = dec("19.99")
	err = engine.CheckBalanced(entries)
	assert.ErrorIs(t, err, engine.ErrUnbalancedPosting)
}

// =============================================================================
// REVERSAL TESTS
// =============================================================================

func TestLedger_Reverse_MirrorsGroup(t *testing.T) {
	// GIVEN: A posted variance group
	// WHEN: Reversing it
	// THEN: A mirror group appears under a NEW group id with inverted
	//       natures; the originals remain untouched

	store := &memLedger{}
	ledger := engine.NewLedger(store)
	ctx := context.Background()

	entries, err := engine.BuildVariancePosting(testPosting("25"))
	require.NoError(t, err)
	require.NoError(t, ledger.Post(ctx, entries))

	origGroup := entries[0].PostingGroupID
	mirrors, err := ledger.Reverse(ctx, "t1", origGroup, "auditor-1", "count disputed")
	require.NoError(t, err)
	require.Len(t, mirrors, 2)

	assert.NotEqual(t, origGroup, mirrors[0].PostingGroupID)
	assert.Equal(t, mirrors[0].PostingGroupID, mirrors[1].PostingGroupID)
	assert.Equal(t, engine.TxReversal, mirrors[0].Type)
	assert.Contains(t, mirrors[0].Description, "reversal of")
	assert.Contains(t, mirrors[0].Description, "count disputed")

	// Natures inverted, amounts preserved
	assert.Equal(t, entries[0].Nature.Invert(), mirrors[0].Nature)
	assert.Equal(t, entries[1].Nature.Invert(), mirrors[1].Nature)
	assert.True(t, mirrors[0].Amount.Equal(entries[0].Amount))

	// Originals untouched; journal holds both groups
	originals, err := store.EntriesByPostingGroup(ctx, "t1", origGroup)
	require.NoError(t, err)
	assert.Len(t, originals, 2)
	assert.Len(t, store.entries, 4)
	require.NoError(t, engine.CheckBalanced(store.entries))
}

func TestLedger_Reverse_OfReversal(t *testing.T) {
	// A reversal is itself a posting-group and may be reversed again,
	// yielding three distinct groups that all balance.

	store := &memLedger{}
	ledger := engine.NewLedger(store)
	ctx := context.Background()

	entries, err := engine.BuildVariancePosting(testPosting("40"))
	require.NoError(t, err)
	require.NoError(t, ledger.Post(ctx, entries))

	mirrors, err := ledger.Reverse(ctx, "t1", entries[0].PostingGroupID, "auditor-1", "")
	require.NoError(t, err)
	second, err := ledger.Reverse(ctx, "t1", mirrors[0].PostingGroupID, "auditor-1", "reinstate")
	require.NoError(t, err)

	groups := map[string]bool{
		entries[0].PostingGroupID: true,
		mirrors[0].PostingGroupID: true,
		second[0].PostingGroupID:  true,
	}
	assert.Len(t, groups, 3, "three distinct posting-group ids")
	assert.Len(t, store.entries, 6)
	require.NoError(t, engine.CheckBalanced(store.entries))

	// The second mirror restores the original natures.
	assert.Equal(t, entries[0].Nature, second[0].Nature)
	assert.Equal(t, entries[1].Nature, second[1].Nature)
}

func TestLedger_Reverse_UnknownGroup(t *testing.T) {
	ledger := engine.NewLedger(&memLedger{})

	_, err := ledger.Reverse(context.Background(), "t1", "no-such-group", "auditor-1", "")
	assert.ErrorIs(t, err, engine.ErrPostingGroupNotFound)
}

func TestLedger_Post_RefusesUnbalanced(t *testing.T) {
	store := &memLedger{}
	ledger := engine.NewLedger(store)

	entries, err := engine.BuildVariancePosting(testPosting("5"))
	require.NoError(t, err)
	entries[0].EquivalentAmount = dec("4")

	err = ledger.Post(context.Background(), entries)
	assert.ErrorIs(t, err, engine.ErrUnbalancedPosting)
	assert.Empty(t, store.entries, "nothing may reach storage")
}
