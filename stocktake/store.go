/*
store.go - Persistence interfaces for the stocktake workflow

PURPOSE:
  Defines the storage surface the workflow depends on. The concrete
  implementation lives in store/sqlite; tests use the same store backed
  by an in-memory database.

TRANSACTIONS:
  Every mutating transition runs inside WithTx. The store serializes
  writers for the duration of the transaction, so the status re-check an
  approval performs after entering WithTx is the concurrency guard: a
  second concurrent approval blocks, then observes a non-submitted status
  and fails cleanly instead of double-posting.

SEE ALSO:
  - store/sqlite/sqlite.go: the implementation
  - engine/posting.go: LedgerStore, embedded here
*/
package stocktake

import (
	"context"
	"time"

	"github.com/warp/stocktake-engine/engine"
)

// DocumentStore persists count documents and their lines.
type DocumentStore interface {
	// SaveDocument upserts the header row (not the lines).
	SaveDocument(ctx context.Context, doc *CountDocument) error

	// ReplaceLines swaps the full line set of a document
	// (delete-then-recreate semantics).
	ReplaceLines(ctx context.Context, documentID string, lines []CountLine) error

	// UpdateLine persists one line's derived fields and any healed
	// exchange rate.
	UpdateLine(ctx context.Context, line CountLine) error

	// GetDocument loads a document with its lines, or nil if absent.
	GetDocument(ctx context.Context, tenantID engine.TenantID, id string) (*CountDocument, error)

	ListDocuments(ctx context.Context, tenantID engine.TenantID, filter ListFilter) ([]CountDocument, error)

	// DeleteDocument removes the header and its lines. The workflow only
	// permits this for drafts.
	DeleteDocument(ctx context.Context, tenantID engine.TenantID, id string) error
}

// StockStore persists the authoritative stock records and the serial/lot
// sub-ledgers. All lookups return nil when the record does not exist yet;
// records are created lazily via upsert.
type StockStore interface {
	GetStockRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID string) (*StockRecord, error)
	UpsertStockRecord(ctx context.Context, rec StockRecord) error

	GetSerialUnit(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, serial string) (*SerialUnit, error)
	UpsertSerialUnit(ctx context.Context, unit SerialUnit) error

	GetLotRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, batch string, expiryDay time.Time) (*LotRecord, error)
	UpsertLotRecord(ctx context.Context, lot LotRecord) error
}

// MasterStore resolves master-data references. The workflow treats these
// as read-only collaborators.
type MasterStore interface {
	GetWarehouse(ctx context.Context, tenantID engine.TenantID, id string) (*Warehouse, error)
	GetProduct(ctx context.Context, tenantID engine.TenantID, id string) (*Product, error)
	GetAccount(ctx context.Context, tenantID engine.TenantID, id string) (*Account, error)
	GetCurrency(ctx context.Context, tenantID engine.TenantID, code string) (*Currency, error)
	DefaultCurrency(ctx context.Context, tenantID engine.TenantID) (*Currency, error)
}

// AuditStore appends per-line audit trail rows.
type AuditStore interface {
	AppendAudit(ctx context.Context, rec engine.AuditRecord) error
}

// Store is the full persistence surface. WithTx runs fn against a
// transaction-scoped Store; returning an error rolls everything back.
type Store interface {
	DocumentStore
	StockStore
	MasterStore
	AuditStore
	engine.LedgerStore

	WithTx(ctx context.Context, fn func(store Store) error) error
}
