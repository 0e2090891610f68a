/*
Package stocktake implements the physical-inventory reconciliation workflow.

PURPOSE:
  A count document records a physical stock count per warehouse. It moves
  through draft -> submitted -> approved/rejected/returned_for_correction.
  Approval is the only transition that mutates stock: it re-reads live
  quantities, recomputes variances, overwrites stock records, allocates
  across serial/lot sub-ledgers, and posts balanced ledger entries - all
  inside one transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - CountDocument / CountLine: the header/line pair being reconciled
  - Status: the workflow state machine states
  - Stamp: actor + timestamp audit marks on every transition
  - StockRecord / SerialUnit / LotRecord: authoritative stock and its
    best-effort sub-ledgers
  - Master data: Warehouse, Product, Account, Currency, AdjustmentReason

SEE ALSO:
  - workflow.go: the transitions themselves
  - stock.go: stock and sub-ledger mutation
  - store.go: persistence interfaces
*/
package stocktake

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/engine"
)

// =============================================================================
// STATUS - Workflow state machine states
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusReturned  Status = "returned_for_correction"
)

// Editable reports whether line items may still be changed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusReturned
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Stamp records who performed a transition and when.
type Stamp struct {
	Actor string
	At    time.Time
}

// =============================================================================
// COUNT DOCUMENT - Header of one physical count
// =============================================================================

// CountDocument is the header of one physical inventory count. Reference
// numbers are human-legible and deliberately NOT unique across documents.
//
// The four account references are required before submission and are
// re-validated at approval, since accounts may be deleted in between.
type CountDocument struct {
	ID          string
	TenantID    engine.TenantID
	WarehouseID string
	Reference   string
	Status      Status

	// ExchangeRate is stored as raw text: legacy rows may hold corrupted
	// values and are sanitized (and healed) on approval.
	CurrencyCode string
	ExchangeRate string

	InboundVarianceAccountID  string
	InboundOffsetAccountID    string
	OutboundVarianceAccountID string
	OutboundOffsetAccountID   string

	ItemCount  int
	TotalValue decimal.Decimal
	Notes      string

	RejectionReason string
	ReturnReason    string

	// Accepted-variance annotation: bookkeeping metadata for variances
	// already posted or pending. Does not drive any posting.
	AcceptedTotalValue    decimal.Decimal
	AcceptedPositiveValue decimal.Decimal
	AcceptedNegativeValue decimal.Decimal
	AcceptedNote          string

	Created          Stamp
	Updated          *Stamp
	Submitted        *Stamp
	Approved         *Stamp
	Rejected         *Stamp
	Returned         *Stamp
	VarianceAccepted *Stamp

	Lines []CountLine
}

// CountLine is one product's count within a document. CurrentQuantity is
// a snapshot taken at draft time and is advisory only: approval re-reads
// the live stock record and recomputes every derived field.
type CountLine struct {
	ID         string
	DocumentID string
	ProductID  string

	CurrentQuantity decimal.Decimal
	CountedQuantity decimal.Decimal
	UnitCost        decimal.Decimal
	UnitAverageCost decimal.Decimal

	// ExchangeRate optionally overrides the header rate. Raw text, same
	// sanitize-and-heal treatment as the header.
	ExchangeRate string

	BatchNumber   string
	ExpiryDate    *time.Time
	SerialNumbers []string

	// Derived fields, recomputed at approval. Never trusted from clients.
	AdjustmentIn     decimal.Decimal
	AdjustmentOut    decimal.Decimal
	DeltaQuantity    decimal.Decimal
	DeltaValue       decimal.Decimal
	NewStock         decimal.Decimal
	TotalValue       decimal.Decimal
	EquivalentAmount decimal.Decimal
}

// =============================================================================
// STOCK RECORD AND SUB-LEDGERS
// =============================================================================

// StockRecord is the authoritative on-hand quantity for one product in one
// warehouse. Created lazily on first reference; a count overwrites its
// quantity rather than incrementing it.
type StockRecord struct {
	TenantID    engine.TenantID
	ProductID   string
	WarehouseID string

	Quantity     decimal.Decimal
	MinimumLevel decimal.Decimal
	MaximumLevel decimal.Decimal
	ReorderLevel decimal.Decimal
	AverageCost  decimal.Decimal
	LastUpdated  time.Time
}

type UnitStatus string

const (
	UnitActive UnitStatus = "active"
	UnitSold   UnitStatus = "sold"
)

// SerialUnit tracks one serialized unit. Its quantity is a best-effort
// allocation of the counted quantity, not an exact double-entry balance
// against the stock record.
type SerialUnit struct {
	TenantID     engine.TenantID
	ProductID    string
	WarehouseID  string
	SerialNumber string

	Quantity      decimal.Decimal
	ReceivedTotal decimal.Decimal
	SoldTotal     decimal.Decimal
	AdjustedTotal decimal.Decimal
	Status        UnitStatus
	LastUpdated   time.Time
}

// LotRecord tracks one batch+expiry lot. Keyed by the expiry DAY, not the
// full timestamp.
type LotRecord struct {
	TenantID    engine.TenantID
	ProductID   string
	WarehouseID string
	BatchNumber string
	ExpiryDate  time.Time

	Quantity        decimal.Decimal
	ReceivedTotal   decimal.Decimal
	AdjustedTotal   decimal.Decimal
	DaysUntilExpiry int
	IsExpired       bool
	LastUpdated     time.Time
}

// =============================================================================
// MASTER DATA - External collaborators, read-mostly
// =============================================================================

type Warehouse struct {
	ID       string
	TenantID engine.TenantID
	Name     string
	Deleted  bool
}

type Product struct {
	ID            string
	TenantID      engine.TenantID
	SKU           string
	Name          string
	SerialTracked bool
	Deleted       bool
}

type Account struct {
	ID       string
	TenantID engine.TenantID
	Code     string
	Name     string
	Type     string
	Nature   engine.AccountNature
	Deleted  bool
}

func (a *Account) Posting() engine.PostingAccount {
	return engine.PostingAccount{ID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type}
}

type Currency struct {
	TenantID  engine.TenantID
	Code      string
	Name      string
	IsDefault bool
}

type AdjustmentReason struct {
	ID       string
	TenantID engine.TenantID
	Name     string
}

// =============================================================================
// LISTING
// =============================================================================

// ListFilter narrows and pages document listings. Zero values mean "any";
// a zero Limit falls back to a server-side default.
type ListFilter struct {
	Status      Status
	WarehouseID string
	Reference   string // substring match
	Limit       int
	Offset      int
}
