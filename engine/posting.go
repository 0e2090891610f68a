/*
posting.go - Balanced double-entry posting and append-only reversal

PURPOSE:
  Builds the ledger entries for one economic event (a posting-group) and
  guarantees the group balances before anything touches storage. Also
  implements reversal: a mirror group with inverted natures under a NEW
  posting-group id, linked back to the original by reference. Originals
  are never mutated or deleted.

POSTING RULES (stock variance):
  Gain  (delta > 0): debit inbound-variance, credit inbound-offset
  Loss  (delta < 0): debit outbound-offset, credit outbound-variance
  Both entries carry |delta value| x exchange rate, the same group id,
  reference, and transaction date. The pair is the minimal unit that is
  either fully posted or not posted at all.

CRITICAL INVARIANT:
  For any posting-group id ever produced:
    sum(debit equivalent amounts) == sum(credit equivalent amounts)
  exactly, after rounding to 2 decimals. CheckBalanced enforces this
  before persistence; the store appends the group atomically.

SEE ALSO:
  - stocktake/workflow.go: drives VariancePosting at approval
  - store/sqlite: LedgerStore implementation
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE - Persistence interface
// =============================================================================

// LedgerStore is the append-only persistence surface for ledger entries.
// AppendEntries must be atomic: either every entry of the group is
// persisted or none is.
type LedgerStore interface {
	AppendEntries(ctx context.Context, entries []LedgerEntry) error
	EntriesByPostingGroup(ctx context.Context, tenantID TenantID, groupID string) ([]LedgerEntry, error)
}

// =============================================================================
// VARIANCE POSTING - One count line's financial effect
// =============================================================================

// VariancePosting describes the financial effect of a single reconciled
// count line. DeltaValue is signed: positive is a gain, negative a loss.
type VariancePosting struct {
	TenantID        TenantID
	Reference       string
	TransactionDate time.Time
	Description     string
	Actor           string

	DeltaValue   decimal.Decimal
	ExchangeRate decimal.Decimal

	InboundVariance  PostingAccount
	InboundOffset    PostingAccount
	OutboundVariance PostingAccount
	OutboundOffset   PostingAccount
}

// BuildVariancePosting returns the balanced entry pair for one variance,
// sharing a freshly generated posting-group id. A zero delta produces no
// entries.
func BuildVariancePosting(p VariancePosting) ([]LedgerEntry, error) {
	if p.DeltaValue.IsZero() {
		return nil, nil
	}

	amount := RoundMoney(p.DeltaValue.Abs())
	equivalent := RoundMoney(p.DeltaValue.Abs().Mul(p.ExchangeRate))

	var debit, credit PostingAccount
	if p.DeltaValue.IsPositive() {
		debit, credit = p.InboundVariance, p.InboundOffset
	} else {
		debit, credit = p.OutboundOffset, p.OutboundVariance
	}

	groupID := NewID()
	now := time.Now().UTC()

	entry := func(account PostingAccount, nature AccountNature) LedgerEntry {
		return LedgerEntry{
			ID:               NewID(),
			TenantID:         p.TenantID,
			PeriodID:         PeriodOf(p.TransactionDate),
			TransactionDate:  p.TransactionDate,
			SystemDate:       now,
			Reference:        p.Reference,
			Type:             TxStockVariance,
			PostingGroupID:   groupID,
			Account:          account,
			Nature:           nature,
			Amount:           amount,
			EquivalentAmount: equivalent,
			ExchangeRate:     p.ExchangeRate,
			Description:      p.Description,
			Actor:            p.Actor,
			CreatedAt:        now,
		}
	}

	entries := []LedgerEntry{
		entry(debit, NatureDebit),
		entry(credit, NatureCredit),
	}
	if err := CheckBalanced(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CheckBalanced verifies the debits == credits invariant over the
// equivalent amounts of a posting-group.
func CheckBalanced(entries []LedgerEntry) error {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Nature {
		case NatureDebit:
			debits = debits.Add(e.EquivalentAmount)
		case NatureCredit:
			credits = credits.Add(e.EquivalentAmount)
		default:
			return fmt.Errorf("%w: unknown nature %q", ErrUnbalancedPosting, e.Nature)
		}
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("%w: debits %s != credits %s",
			ErrUnbalancedPosting, debits.StringFixed(2), credits.StringFixed(2))
	}
	return nil
}

// =============================================================================
// LEDGER - Posting service over a LedgerStore
// =============================================================================

// Ledger posts balanced groups and builds reversals. It holds no state
// beyond the store, so callers may construct one around a transaction-
// scoped store to make load-and-append reversal atomic.
type Ledger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Post validates balance and appends the group.
func (l *Ledger) Post(ctx context.Context, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := CheckBalanced(entries); err != nil {
		return err
	}
	return l.Store.AppendEntries(ctx, entries)
}

// Reverse locates every entry of the original posting-group and appends a
// mirror group: same amounts, inverted natures, a new group id, linked to
// the original by reference number. The originals remain untouched, so the
// journal keeps a full trail of both the event and its reversal.
func (l *Ledger) Reverse(ctx context.Context, tenantID TenantID, groupID, actor, reason string) ([]LedgerEntry, error) {
	originals, err := l.Store.EntriesByPostingGroup(ctx, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	if len(originals) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPostingGroupNotFound, groupID)
	}

	newGroupID := NewID()
	now := time.Now().UTC()

	mirrors := make([]LedgerEntry, len(originals))
	for i, orig := range originals {
		description := "reversal of " + orig.Reference
		if reason != "" {
			description += ": " + reason
		}
		mirrors[i] = LedgerEntry{
			ID:               NewID(),
			TenantID:         orig.TenantID,
			PeriodID:         PeriodOf(now),
			TransactionDate:  now,
			SystemDate:       now,
			Reference:        orig.Reference,
			Type:             TxReversal,
			PostingGroupID:   newGroupID,
			Account:          orig.Account,
			Nature:           orig.Nature.Invert(),
			Amount:           orig.Amount,
			EquivalentAmount: orig.EquivalentAmount,
			ExchangeRate:     orig.ExchangeRate,
			Description:      description,
			Actor:            actor,
			CreatedAt:        now,
		}
	}

	if err := CheckBalanced(mirrors); err != nil {
		return nil, err
	}
	if err := l.Store.AppendEntries(ctx, mirrors); err != nil {
		return nil, err
	}
	return mirrors, nil
}
