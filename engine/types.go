/*
Package engine provides the core reconciliation and posting engine.

PURPOSE:
  This package contains the domain-agnostic pieces of the stocktake system:
  decimal-safe numeric sanitization, the pure valuation calculator, and the
  balanced double-entry posting builder with append-only reversal. The
  stocktake package layers the count-document workflow on top of these.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: An immutable financial-journal row
  - PostingAccount: The account identity stamped onto a ledger entry
  - AccountNature: Which side of a posting an account sits on
  - AuditRecord: Per-line audit trail row, independent of the ledger

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal; money is rounded to 2 dp only at
     the point of persistence, never mid-computation
  3. Balance: Every posting-group must satisfy debits == credits

SEE ALSO:
  - posting.go: Posting builder, balance check, reversal
  - valuation.go: Variance valuation math
  - sanitize.go: Defensive parsing of corrupted stored decimals
*/
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string

// NewID returns a fresh identifier for any engine-generated record.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ACCOUNT NATURE - Debit or credit side of a posting
// =============================================================================

type AccountNature string

const (
	NatureDebit  AccountNature = "debit"
	NatureCredit AccountNature = "credit"
)

// Invert flips the nature. Used when building reversal entries.
func (n AccountNature) Invert() AccountNature {
	if n == NatureDebit {
		return NatureCredit
	}
	return NatureDebit
}

// PostingAccount carries the account identity denormalized onto ledger
// entries, so the journal remains readable even if master data changes.
type PostingAccount struct {
	ID   string
	Code string
	Name string
	Type string
}

// =============================================================================
// LEDGER ENTRY - Immutable financial-journal row
// =============================================================================

type TransactionType string

const (
	TxStockVariance TransactionType = "stock_variance"
	TxReversal      TransactionType = "reversal"
)

// LedgerEntry is one row of the financial journal. Entries belonging to the
// same economic event share a PostingGroupID and must balance: the sum of
// debit equivalent amounts equals the sum of credit equivalent amounts.
//
// Entries are append-only. Corrections are made by posting a mirror group
// with inverted natures (see Ledger.Reverse), never by mutation.
type LedgerEntry struct {
	ID              string
	TenantID        TenantID
	PeriodID        string
	TransactionDate time.Time
	SystemDate      time.Time
	Reference       string
	Type            TransactionType
	PostingGroupID  string

	Account PostingAccount
	Nature  AccountNature

	// Amount is in the transaction currency; EquivalentAmount is the same
	// value converted to the tenant default currency at ExchangeRate.
	Amount           decimal.Decimal
	EquivalentAmount decimal.Decimal
	ExchangeRate     decimal.Decimal

	Description string
	Actor       string
	CreatedAt   time.Time
}

// PeriodOf derives the financial-period identifier for a transaction date.
func PeriodOf(t time.Time) string {
	return t.Format("2006-01")
}

// RoundMoney applies the persistence rounding rule for monetary values.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// =============================================================================
// AUDIT RECORD - Append-only trail of processed count lines
// =============================================================================

// AuditRecord is written once per count line at approval time. It is a
// bookkeeping trail independent of the financial ledger.
type AuditRecord struct {
	ID               string
	TenantID         TenantID
	DocumentID       string
	ProductID        string
	QuantityIn       decimal.Decimal
	QuantityOut      decimal.Decimal
	UnitCost         decimal.Decimal
	EquivalentAmount decimal.Decimal
	Note             string
	Actor            string
	CreatedAt        time.Time
}
