/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements stocktake.Store (documents, stock records, serial/lot
  sub-ledgers, master data, audit trail) and engine.LedgerStore using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries and stock_audits tables are append-only:
  - No UPDATE statements on either table
  - No DELETE statements on either table
  - Corrections via reversal posting-groups only

KEY TABLES:
  count_documents:  Count headers with per-transition audit stamps
  count_lines:      Count lines; serial numbers stored as JSON
  stock_records:    Authoritative on-hand quantity per product+warehouse
  serial_units:     Serialized-unit sub-ledger
  lot_records:      Batch+expiry-day sub-ledger
  ledger_entries:   Immutable financial journal
  stock_audits:     Per-line audit trail rows

INDEXES:
  - idx_documents_tenant_status: Workbench listings (hot path)
  - idx_documents_reference: Reference lookup. Deliberately NOT unique;
    reference numbers are human-legible labels, not identifiers
  - idx_entries_group: Posting-group load for reversal
  - stock/serial/lot natural-key unique indexes back the upserts

NUMERIC COLUMNS:
  Quantities and monetary values are stored as TEXT and run through the
  numeric sanitizer on scan, so a corrupted row degrades to a clean
  parse instead of poisoning arithmetic. Exchange rates on documents and
  lines stay raw; the workflow sanitizes and heals them at approval.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole transaction, which is what lets the workflow's post-lock
  status re-check detect a lost approval race.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/stocktake.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := stocktake.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stocktake/store.go: Interface definitions
  - engine/posting.go: LedgerStore contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/engine"
	"github.com/warp/stocktake-engine/stocktake"
)

const dayFormat = "2006-01-02"

// Store implements stocktake.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite allows a single writer anyway, and a pooled
	// ":memory:" database would otherwise differ per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Count documents (workflow headers)
	CREATE TABLE IF NOT EXISTS count_documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		currency_code TEXT NOT NULL DEFAULT '',
		exchange_rate TEXT NOT NULL DEFAULT '1',
		inbound_variance_account_id TEXT NOT NULL DEFAULT '',
		inbound_offset_account_id TEXT NOT NULL DEFAULT '',
		outbound_variance_account_id TEXT NOT NULL DEFAULT '',
		outbound_offset_account_id TEXT NOT NULL DEFAULT '',
		item_count INTEGER NOT NULL DEFAULT 0,
		total_value TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		return_reason TEXT NOT NULL DEFAULT '',
		accepted_total_value TEXT NOT NULL DEFAULT '0',
		accepted_positive_value TEXT NOT NULL DEFAULT '0',
		accepted_negative_value TEXT NOT NULL DEFAULT '0',
		accepted_note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT,
		updated_at TEXT,
		submitted_by TEXT,
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		returned_by TEXT,
		returned_at TEXT,
		variance_accepted_by TEXT,
		variance_accepted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_documents_tenant_status
		ON count_documents(tenant_id, status);
	-- Reference numbers are labels, not identifiers: duplicates permitted.
	CREATE INDEX IF NOT EXISTS idx_documents_reference
		ON count_documents(tenant_id, reference);

	-- Count lines
	CREATE TABLE IF NOT EXISTS count_lines (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		current_quantity TEXT NOT NULL DEFAULT '0',
		counted_quantity TEXT NOT NULL DEFAULT '0',
		unit_cost TEXT NOT NULL DEFAULT '0',
		unit_average_cost TEXT NOT NULL DEFAULT '0',
		exchange_rate TEXT NOT NULL DEFAULT '',
		batch_number TEXT NOT NULL DEFAULT '',
		expiry_date TEXT,
		serials_json TEXT NOT NULL DEFAULT '[]',
		adjustment_in TEXT NOT NULL DEFAULT '0',
		adjustment_out TEXT NOT NULL DEFAULT '0',
		delta_quantity TEXT NOT NULL DEFAULT '0',
		delta_value TEXT NOT NULL DEFAULT '0',
		new_stock TEXT NOT NULL DEFAULT '0',
		total_value TEXT NOT NULL DEFAULT '0',
		equivalent_amount TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_lines_document
		ON count_lines(document_id);

	-- Stock records (authoritative on-hand quantities)
	CREATE TABLE IF NOT EXISTS stock_records (
		tenant_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		minimum_level TEXT NOT NULL DEFAULT '0',
		maximum_level TEXT NOT NULL DEFAULT '0',
		reorder_level TEXT NOT NULL DEFAULT '0',
		average_cost TEXT NOT NULL DEFAULT '0',
		last_updated TEXT NOT NULL,
		UNIQUE(tenant_id, product_id, warehouse_id)
	);

	-- Serialized-unit sub-ledger
	CREATE TABLE IF NOT EXISTS serial_units (
		tenant_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		received_total TEXT NOT NULL DEFAULT '0',
		sold_total TEXT NOT NULL DEFAULT '0',
		adjusted_total TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'active',
		last_updated TEXT NOT NULL,
		UNIQUE(tenant_id, product_id, warehouse_id, serial_number)
	);

	-- Lot sub-ledger, keyed by batch + expiry DAY
	CREATE TABLE IF NOT EXISTS lot_records (
		tenant_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		received_total TEXT NOT NULL DEFAULT '0',
		adjusted_total TEXT NOT NULL DEFAULT '0',
		days_until_expiry INTEGER NOT NULL DEFAULT 0,
		is_expired BOOLEAN NOT NULL DEFAULT FALSE,
		last_updated TEXT NOT NULL,
		UNIQUE(tenant_id, product_id, warehouse_id, batch_number, expiry_date)
	);

	-- Ledger entries (append-only financial journal)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		system_date TEXT NOT NULL,
		reference TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		posting_group_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		account_code TEXT NOT NULL,
		account_name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		nature TEXT NOT NULL,
		amount TEXT NOT NULL,
		equivalent_amount TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_group
		ON ledger_entries(tenant_id, posting_group_id);
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON ledger_entries(tenant_id, reference);
	CREATE INDEX IF NOT EXISTS idx_entries_period
		ON ledger_entries(tenant_id, period_id);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS stock_audits (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity_in TEXT NOT NULL DEFAULT '0',
		quantity_out TEXT NOT NULL DEFAULT '0',
		unit_cost TEXT NOT NULL DEFAULT '0',
		equivalent_amount TEXT NOT NULL DEFAULT '0',
		note TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audits_document
		ON stock_audits(document_id);

	-- Master data
	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		serial_tracked BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		nature TEXT NOT NULL DEFAULT 'debit',
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS currencies (
		tenant_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(tenant_id, code)
	);

	CREATE TABLE IF NOT EXISTS adjustment_reasons (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the same statement
// helpers serve direct calls and transaction-scoped calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (stocktake.Store WithTx)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock
// is held for the duration, serializing concurrent workflow transitions.
func (s *Store) WithTx(ctx context.Context, fn func(store stocktake.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is a transaction-scoped view of the store. The parent's lock is
// already held, so methods hit the sql.Tx directly.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) WithTx(ctx context.Context, fn func(store stocktake.Store) error) error {
	// Already inside a transaction; nesting just reuses it.
	return fn(ts)
}

func (ts *txStore) SaveDocument(ctx context.Context, doc *stocktake.CountDocument) error {
	return saveDocument(ctx, ts.tx, doc)
}
func (ts *txStore) ReplaceLines(ctx context.Context, documentID string, lines []stocktake.CountLine) error {
	return replaceLines(ctx, ts.tx, documentID, lines)
}
func (ts *txStore) UpdateLine(ctx context.Context, line stocktake.CountLine) error {
	return updateLine(ctx, ts.tx, line)
}
func (ts *txStore) GetDocument(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.CountDocument, error) {
	return getDocument(ctx, ts.tx, tenantID, id)
}
func (ts *txStore) ListDocuments(ctx context.Context, tenantID engine.TenantID, filter stocktake.ListFilter) ([]stocktake.CountDocument, error) {
	return listDocuments(ctx, ts.tx, tenantID, filter)
}
func (ts *txStore) DeleteDocument(ctx context.Context, tenantID engine.TenantID, id string) error {
	return deleteDocument(ctx, ts.tx, tenantID, id)
}
func (ts *txStore) GetStockRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID string) (*stocktake.StockRecord, error) {
	return getStockRecord(ctx, ts.tx, tenantID, productID, warehouseID)
}
func (ts *txStore) UpsertStockRecord(ctx context.Context, rec stocktake.StockRecord) error {
	return upsertStockRecord(ctx, ts.tx, rec)
}
func (ts *txStore) GetSerialUnit(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, serial string) (*stocktake.SerialUnit, error) {
	return getSerialUnit(ctx, ts.tx, tenantID, productID, warehouseID, serial)
}
func (ts *txStore) UpsertSerialUnit(ctx context.Context, unit stocktake.SerialUnit) error {
	return upsertSerialUnit(ctx, ts.tx, unit)
}
func (ts *txStore) GetLotRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, batch string, expiryDay time.Time) (*stocktake.LotRecord, error) {
	return getLotRecord(ctx, ts.tx, tenantID, productID, warehouseID, batch, expiryDay)
}
func (ts *txStore) UpsertLotRecord(ctx context.Context, lot stocktake.LotRecord) error {
	return upsertLotRecord(ctx, ts.tx, lot)
}
func (ts *txStore) GetWarehouse(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Warehouse, error) {
	return getWarehouse(ctx, ts.tx, tenantID, id)
}
func (ts *txStore) GetProduct(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Product, error) {
	return getProduct(ctx, ts.tx, tenantID, id)
}
func (ts *txStore) GetAccount(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Account, error) {
	return getAccount(ctx, ts.tx, tenantID, id)
}
func (ts *txStore) GetCurrency(ctx context.Context, tenantID engine.TenantID, code string) (*stocktake.Currency, error) {
	return getCurrency(ctx, ts.tx, tenantID, code)
}
func (ts *txStore) DefaultCurrency(ctx context.Context, tenantID engine.TenantID) (*stocktake.Currency, error) {
	return defaultCurrency(ctx, ts.tx, tenantID)
}
func (ts *txStore) AppendAudit(ctx context.Context, rec engine.AuditRecord) error {
	return appendAudit(ctx, ts.tx, rec)
}
func (ts *txStore) AppendEntries(ctx context.Context, entries []engine.LedgerEntry) error {
	return appendEntries(ctx, ts.tx, entries)
}
func (ts *txStore) EntriesByPostingGroup(ctx context.Context, tenantID engine.TenantID, groupID string) ([]engine.LedgerEntry, error) {
	return entriesByPostingGroup(ctx, ts.tx, tenantID, groupID)
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, doc *stocktake.CountDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDocument(ctx, s.db, doc)
}

func (s *Store) ReplaceLines(ctx context.Context, documentID string, lines []stocktake.CountLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceLines(ctx, s.db, documentID, lines)
}

func (s *Store) UpdateLine(ctx context.Context, line stocktake.CountLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateLine(ctx, s.db, line)
}

func (s *Store) GetDocument(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.CountDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDocument(ctx, s.db, tenantID, id)
}

func (s *Store) ListDocuments(ctx context.Context, tenantID engine.TenantID, filter stocktake.ListFilter) ([]stocktake.CountDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDocuments(ctx, s.db, tenantID, filter)
}

func (s *Store) DeleteDocument(ctx context.Context, tenantID engine.TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDocument(ctx, s.db, tenantID, id)
}

const documentColumns = `id, tenant_id, warehouse_id, reference, status, currency_code, exchange_rate,
	inbound_variance_account_id, inbound_offset_account_id,
	outbound_variance_account_id, outbound_offset_account_id,
	item_count, total_value, notes, rejection_reason, return_reason,
	accepted_total_value, accepted_positive_value, accepted_negative_value, accepted_note,
	created_by, created_at, updated_by, updated_at, submitted_by, submitted_at,
	approved_by, approved_at, rejected_by, rejected_at, returned_by, returned_at,
	variance_accepted_by, variance_accepted_at`

func saveDocument(ctx context.Context, q querier, doc *stocktake.CountDocument) error {
	query := `
		INSERT INTO count_documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			warehouse_id = excluded.warehouse_id,
			reference = excluded.reference,
			status = excluded.status,
			currency_code = excluded.currency_code,
			exchange_rate = excluded.exchange_rate,
			inbound_variance_account_id = excluded.inbound_variance_account_id,
			inbound_offset_account_id = excluded.inbound_offset_account_id,
			outbound_variance_account_id = excluded.outbound_variance_account_id,
			outbound_offset_account_id = excluded.outbound_offset_account_id,
			item_count = excluded.item_count,
			total_value = excluded.total_value,
			notes = excluded.notes,
			rejection_reason = excluded.rejection_reason,
			return_reason = excluded.return_reason,
			accepted_total_value = excluded.accepted_total_value,
			accepted_positive_value = excluded.accepted_positive_value,
			accepted_negative_value = excluded.accepted_negative_value,
			accepted_note = excluded.accepted_note,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at,
			submitted_by = excluded.submitted_by,
			submitted_at = excluded.submitted_at,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			rejected_by = excluded.rejected_by,
			rejected_at = excluded.rejected_at,
			returned_by = excluded.returned_by,
			returned_at = excluded.returned_at,
			variance_accepted_by = excluded.variance_accepted_by,
			variance_accepted_at = excluded.variance_accepted_at
	`

	_, err := q.ExecContext(ctx, query,
		doc.ID, string(doc.TenantID), doc.WarehouseID, doc.Reference, string(doc.Status),
		doc.CurrencyCode, doc.ExchangeRate,
		doc.InboundVarianceAccountID, doc.InboundOffsetAccountID,
		doc.OutboundVarianceAccountID, doc.OutboundOffsetAccountID,
		doc.ItemCount, doc.TotalValue.String(), doc.Notes,
		doc.RejectionReason, doc.ReturnReason,
		doc.AcceptedTotalValue.String(), doc.AcceptedPositiveValue.String(),
		doc.AcceptedNegativeValue.String(), doc.AcceptedNote,
		doc.Created.Actor, doc.Created.At.Format(time.RFC3339),
		stampActor(doc.Updated), stampTime(doc.Updated),
		stampActor(doc.Submitted), stampTime(doc.Submitted),
		stampActor(doc.Approved), stampTime(doc.Approved),
		stampActor(doc.Rejected), stampTime(doc.Rejected),
		stampActor(doc.Returned), stampTime(doc.Returned),
		stampActor(doc.VarianceAccepted), stampTime(doc.VarianceAccepted),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func replaceLines(ctx context.Context, q querier, documentID string, lines []stocktake.CountLine) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM count_lines WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to clear lines: %w", err)
	}
	for _, line := range lines {
		if err := insertLine(ctx, q, line); err != nil {
			return err
		}
	}
	return nil
}

func insertLine(ctx context.Context, q querier, line stocktake.CountLine) error {
	serialsJSON, _ := json.Marshal(line.SerialNumbers)

	query := `
		INSERT INTO count_lines
		(id, document_id, product_id, current_quantity, counted_quantity, unit_cost,
		 unit_average_cost, exchange_rate, batch_number, expiry_date, serials_json,
		 adjustment_in, adjustment_out, delta_quantity, delta_value, new_stock,
		 total_value, equivalent_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var expiry *string
	if line.ExpiryDate != nil {
		e := line.ExpiryDate.Format(time.RFC3339)
		expiry = &e
	}

	_, err := q.ExecContext(ctx, query,
		line.ID, line.DocumentID, line.ProductID,
		line.CurrentQuantity.String(), line.CountedQuantity.String(),
		line.UnitCost.String(), line.UnitAverageCost.String(),
		line.ExchangeRate, line.BatchNumber, expiry, string(serialsJSON),
		line.AdjustmentIn.String(), line.AdjustmentOut.String(),
		line.DeltaQuantity.String(), line.DeltaValue.String(),
		line.NewStock.String(), line.TotalValue.String(),
		line.EquivalentAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert line: %w", err)
	}
	return nil
}

func updateLine(ctx context.Context, q querier, line stocktake.CountLine) error {
	query := `
		UPDATE count_lines SET
			current_quantity = ?, exchange_rate = ?,
			adjustment_in = ?, adjustment_out = ?, delta_quantity = ?,
			delta_value = ?, new_stock = ?, total_value = ?, equivalent_amount = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		line.CurrentQuantity.String(), line.ExchangeRate,
		line.AdjustmentIn.String(), line.AdjustmentOut.String(),
		line.DeltaQuantity.String(), line.DeltaValue.String(),
		line.NewStock.String(), line.TotalValue.String(),
		line.EquivalentAmount.String(),
		line.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}
	return nil
}

func getDocument(ctx context.Context, q querier, tenantID engine.TenantID, id string) (*stocktake.CountDocument, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM count_documents WHERE tenant_id = ? AND id = ?",
		string(tenantID), id,
	)

	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := loadLines(ctx, q, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return doc, nil
}

func listDocuments(ctx context.Context, q querier, tenantID engine.TenantID, filter stocktake.ListFilter) ([]stocktake.CountDocument, error) {
	query := "SELECT " + documentColumns + " FROM count_documents WHERE tenant_id = ?"
	args := []any{string(tenantID)}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.WarehouseID != "" {
		query += " AND warehouse_id = ?"
		args = append(args, filter.WarehouseID)
	}
	if filter.Reference != "" {
		query += " AND reference LIKE ?"
		args = append(args, "%"+filter.Reference+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []stocktake.CountDocument
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Listings stay header-only except for small pages, where attaching
	// lines saves the caller a round-trip per document.
	if len(docs) <= 20 {
		for i := range docs {
			lines, err := loadLines(ctx, q, docs[i].ID)
			if err != nil {
				return nil, err
			}
			docs[i].Lines = lines
		}
	}
	return docs, nil
}

func deleteDocument(ctx context.Context, q querier, tenantID engine.TenantID, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM count_lines WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete lines: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		"DELETE FROM count_documents WHERE tenant_id = ? AND id = ?", string(tenantID), id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func scanDocument(scan func(dest ...any) error) (*stocktake.CountDocument, error) {
	var (
		doc                      stocktake.CountDocument
		tenantID, status         string
		totalValue               string
		acceptedTotal            string
		acceptedPositive         string
		acceptedNegative         string
		createdAt                string
		updatedBy, updatedAt     sql.NullString
		submittedBy, submittedAt sql.NullString
		approvedBy, approvedAt   sql.NullString
		rejectedBy, rejectedAt   sql.NullString
		returnedBy, returnedAt   sql.NullString
		varAcceptedBy, varAccAt  sql.NullString
	)

	err := scan(
		&doc.ID, &tenantID, &doc.WarehouseID, &doc.Reference, &status,
		&doc.CurrencyCode, &doc.ExchangeRate,
		&doc.InboundVarianceAccountID, &doc.InboundOffsetAccountID,
		&doc.OutboundVarianceAccountID, &doc.OutboundOffsetAccountID,
		&doc.ItemCount, &totalValue, &doc.Notes,
		&doc.RejectionReason, &doc.ReturnReason,
		&acceptedTotal, &acceptedPositive, &acceptedNegative, &doc.AcceptedNote,
		&doc.Created.Actor, &createdAt,
		&updatedBy, &updatedAt, &submittedBy, &submittedAt,
		&approvedBy, &approvedAt, &rejectedBy, &rejectedAt,
		&returnedBy, &returnedAt, &varAcceptedBy, &varAccAt,
	)
	if err != nil {
		return nil, err
	}

	doc.TenantID = engine.TenantID(tenantID)
	doc.Status = stocktake.Status(status)
	if doc.TotalValue, err = scanDecimal("total_value", totalValue); err != nil {
		return nil, err
	}
	if doc.AcceptedTotalValue, err = scanDecimal("accepted_total_value", acceptedTotal); err != nil {
		return nil, err
	}
	if doc.AcceptedPositiveValue, err = scanDecimal("accepted_positive_value", acceptedPositive); err != nil {
		return nil, err
	}
	if doc.AcceptedNegativeValue, err = scanDecimal("accepted_negative_value", acceptedNegative); err != nil {
		return nil, err
	}
	doc.Created.At, _ = time.Parse(time.RFC3339, createdAt)
	doc.Updated = scanStamp(updatedBy, updatedAt)
	doc.Submitted = scanStamp(submittedBy, submittedAt)
	doc.Approved = scanStamp(approvedBy, approvedAt)
	doc.Rejected = scanStamp(rejectedBy, rejectedAt)
	doc.Returned = scanStamp(returnedBy, returnedAt)
	doc.VarianceAccepted = scanStamp(varAcceptedBy, varAccAt)

	return &doc, nil
}

func loadLines(ctx context.Context, q querier, documentID string) ([]stocktake.CountLine, error) {
	query := `
		SELECT id, document_id, product_id, current_quantity, counted_quantity, unit_cost,
		       unit_average_cost, exchange_rate, batch_number, expiry_date, serials_json,
		       adjustment_in, adjustment_out, delta_quantity, delta_value, new_stock,
		       total_value, equivalent_amount
		FROM count_lines
		WHERE document_id = ?
		ORDER BY rowid ASC
	`

	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []stocktake.CountLine
	for rows.Next() {
		var (
			line        stocktake.CountLine
			expiry      sql.NullString
			serialsJSON string
			raw         [11]string
		)
		if err := rows.Scan(
			&line.ID, &line.DocumentID, &line.ProductID,
			&raw[0], &raw[1], &raw[2], &raw[3],
			&line.ExchangeRate, &line.BatchNumber, &expiry, &serialsJSON,
			&raw[4], &raw[5], &raw[6], &raw[7], &raw[8], &raw[9], &raw[10],
		); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}

		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"current_quantity", &line.CurrentQuantity},
			{"counted_quantity", &line.CountedQuantity},
			{"unit_cost", &line.UnitCost},
			{"unit_average_cost", &line.UnitAverageCost},
			{"adjustment_in", &line.AdjustmentIn},
			{"adjustment_out", &line.AdjustmentOut},
			{"delta_quantity", &line.DeltaQuantity},
			{"delta_value", &line.DeltaValue},
			{"new_stock", &line.NewStock},
			{"total_value", &line.TotalValue},
			{"equivalent_amount", &line.EquivalentAmount},
		}
		for i, f := range fields {
			if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
				return nil, err
			}
		}

		if expiry.Valid {
			t, _ := time.Parse(time.RFC3339, expiry.String)
			line.ExpiryDate = &t
		}
		if serialsJSON != "" {
			json.Unmarshal([]byte(serialsJSON), &line.SerialNumbers)
		}

		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// =============================================================================
// STOCK STORE
// =============================================================================

func (s *Store) GetStockRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID string) (*stocktake.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStockRecord(ctx, s.db, tenantID, productID, warehouseID)
}

func (s *Store) UpsertStockRecord(ctx context.Context, rec stocktake.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertStockRecord(ctx, s.db, rec)
}

func (s *Store) GetSerialUnit(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, serial string) (*stocktake.SerialUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSerialUnit(ctx, s.db, tenantID, productID, warehouseID, serial)
}

func (s *Store) UpsertSerialUnit(ctx context.Context, unit stocktake.SerialUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSerialUnit(ctx, s.db, unit)
}

func (s *Store) GetLotRecord(ctx context.Context, tenantID engine.TenantID, productID, warehouseID, batch string, expiryDay time.Time) (*stocktake.LotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLotRecord(ctx, s.db, tenantID, productID, warehouseID, batch, expiryDay)
}

func (s *Store) UpsertLotRecord(ctx context.Context, lot stocktake.LotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertLotRecord(ctx, s.db, lot)
}

func getStockRecord(ctx context.Context, q querier, tenantID engine.TenantID, productID, warehouseID string) (*stocktake.StockRecord, error) {
	var (
		rec         stocktake.StockRecord
		tenant      string
		raw         [5]string
		lastUpdated string
	)

	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, product_id, warehouse_id, quantity, minimum_level,
		       maximum_level, reorder_level, average_cost, last_updated
		FROM stock_records
		WHERE tenant_id = ? AND product_id = ? AND warehouse_id = ?`,
		string(tenantID), productID, warehouseID,
	).Scan(&tenant, &rec.ProductID, &rec.WarehouseID,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.TenantID = engine.TenantID(tenant)
	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"quantity", &rec.Quantity},
		{"minimum_level", &rec.MinimumLevel},
		{"maximum_level", &rec.MaximumLevel},
		{"reorder_level", &rec.ReorderLevel},
		{"average_cost", &rec.AverageCost},
	}
	for i, f := range fields {
		if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
			return nil, err
		}
	}
	rec.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return &rec, nil
}

func upsertStockRecord(ctx context.Context, q querier, rec stocktake.StockRecord) error {
	query := `
		INSERT INTO stock_records
		(tenant_id, product_id, warehouse_id, quantity, minimum_level, maximum_level,
		 reorder_level, average_cost, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, product_id, warehouse_id) DO UPDATE SET
			quantity = excluded.quantity,
			minimum_level = excluded.minimum_level,
			maximum_level = excluded.maximum_level,
			reorder_level = excluded.reorder_level,
			average_cost = excluded.average_cost,
			last_updated = excluded.last_updated
	`
	_, err := q.ExecContext(ctx, query,
		string(rec.TenantID), rec.ProductID, rec.WarehouseID,
		rec.Quantity.String(), rec.MinimumLevel.String(), rec.MaximumLevel.String(),
		rec.ReorderLevel.String(), rec.AverageCost.String(),
		rec.LastUpdated.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stock record: %w", err)
	}
	return nil
}

func getSerialUnit(ctx context.Context, q querier, tenantID engine.TenantID, productID, warehouseID, serial string) (*stocktake.SerialUnit, error) {
	var (
		unit        stocktake.SerialUnit
		tenant      string
		status      string
		raw         [4]string
		lastUpdated string
	)

	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, product_id, warehouse_id, serial_number, quantity,
		       received_total, sold_total, adjusted_total, status, last_updated
		FROM serial_units
		WHERE tenant_id = ? AND product_id = ? AND warehouse_id = ? AND serial_number = ?`,
		string(tenantID), productID, warehouseID, serial,
	).Scan(&tenant, &unit.ProductID, &unit.WarehouseID, &unit.SerialNumber,
		&raw[0], &raw[1], &raw[2], &raw[3], &status, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	unit.TenantID = engine.TenantID(tenant)
	unit.Status = stocktake.UnitStatus(status)
	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"quantity", &unit.Quantity},
		{"received_total", &unit.ReceivedTotal},
		{"sold_total", &unit.SoldTotal},
		{"adjusted_total", &unit.AdjustedTotal},
	}
	for i, f := range fields {
		if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
			return nil, err
		}
	}
	unit.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return &unit, nil
}

func upsertSerialUnit(ctx context.Context, q querier, unit stocktake.SerialUnit) error {
	query := `
		INSERT INTO serial_units
		(tenant_id, product_id, warehouse_id, serial_number, quantity, received_total,
		 sold_total, adjusted_total, status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, product_id, warehouse_id, serial_number) DO UPDATE SET
			quantity = excluded.quantity,
			received_total = excluded.received_total,
			sold_total = excluded.sold_total,
			adjusted_total = excluded.adjusted_total,
			status = excluded.status,
			last_updated = excluded.last_updated
	`
	_, err := q.ExecContext(ctx, query,
		string(unit.TenantID), unit.ProductID, unit.WarehouseID, unit.SerialNumber,
		unit.Quantity.String(), unit.ReceivedTotal.String(),
		unit.SoldTotal.String(), unit.AdjustedTotal.String(),
		string(unit.Status), unit.LastUpdated.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert serial unit: %w", err)
	}
	return nil
}

func getLotRecord(ctx context.Context, q querier, tenantID engine.TenantID, productID, warehouseID, batch string, expiryDay time.Time) (*stocktake.LotRecord, error) {
	var (
		lot         stocktake.LotRecord
		tenant      string
		expiry      string
		raw         [3]string
		lastUpdated string
	)

	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, product_id, warehouse_id, batch_number, expiry_date, quantity,
		       received_total, adjusted_total, days_until_expiry, is_expired, last_updated
		FROM lot_records
		WHERE tenant_id = ? AND product_id = ? AND warehouse_id = ?
		  AND batch_number = ? AND expiry_date = ?`,
		string(tenantID), productID, warehouseID, batch, expiryDay.Format(dayFormat),
	).Scan(&tenant, &lot.ProductID, &lot.WarehouseID, &lot.BatchNumber, &expiry,
		&raw[0], &raw[1], &raw[2], &lot.DaysUntilExpiry, &lot.IsExpired, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lot.TenantID = engine.TenantID(tenant)
	lot.ExpiryDate, _ = time.Parse(dayFormat, expiry)
	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"quantity", &lot.Quantity},
		{"received_total", &lot.ReceivedTotal},
		{"adjusted_total", &lot.AdjustedTotal},
	}
	for i, f := range fields {
		if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
			return nil, err
		}
	}
	lot.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return &lot, nil
}

func upsertLotRecord(ctx context.Context, q querier, lot stocktake.LotRecord) error {
	query := `
		INSERT INTO lot_records
		(tenant_id, product_id, warehouse_id, batch_number, expiry_date, quantity,
		 received_total, adjusted_total, days_until_expiry, is_expired, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, product_id, warehouse_id, batch_number, expiry_date) DO UPDATE SET
			quantity = excluded.quantity,
			received_total = excluded.received_total,
			adjusted_total = excluded.adjusted_total,
			days_until_expiry = excluded.days_until_expiry,
			is_expired = excluded.is_expired,
			last_updated = excluded.last_updated
	`
	_, err := q.ExecContext(ctx, query,
		string(lot.TenantID), lot.ProductID, lot.WarehouseID, lot.BatchNumber,
		lot.ExpiryDate.Format(dayFormat), lot.Quantity.String(),
		lot.ReceivedTotal.String(), lot.AdjustedTotal.String(),
		lot.DaysUntilExpiry, lot.IsExpired,
		lot.LastUpdated.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lot record: %w", err)
	}
	return nil
}

// ListStockRecords returns all stock records in a warehouse (admin view).
func (s *Store) ListStockRecords(ctx context.Context, tenantID engine.TenantID, warehouseID string) ([]stocktake.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT tenant_id, product_id, warehouse_id, quantity, minimum_level,
		       maximum_level, reorder_level, average_cost, last_updated
		FROM stock_records
		WHERE tenant_id = ?
	`
	args := []any{string(tenantID)}
	if warehouseID != "" {
		query += " AND warehouse_id = ?"
		args = append(args, warehouseID)
	}
	query += " ORDER BY product_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []stocktake.StockRecord
	for rows.Next() {
		var (
			rec         stocktake.StockRecord
			tenant      string
			raw         [5]string
			lastUpdated string
		)
		if err := rows.Scan(&tenant, &rec.ProductID, &rec.WarehouseID,
			&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &lastUpdated); err != nil {
			return nil, err
		}
		rec.TenantID = engine.TenantID(tenant)
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"quantity", &rec.Quantity},
			{"minimum_level", &rec.MinimumLevel},
			{"maximum_level", &rec.MaximumLevel},
			{"reorder_level", &rec.ReorderLevel},
			{"average_cost", &rec.AverageCost},
		}
		for i, f := range fields {
			if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
				return nil, err
			}
		}
		rec.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// LEDGER STORE (engine.LedgerStore interface)
// =============================================================================

// AppendEntries appends a posting-group atomically.
func (s *Store) AppendEntries(ctx context.Context, entries []engine.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendEntries(ctx, sqlTx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) EntriesByPostingGroup(ctx context.Context, tenantID engine.TenantID, groupID string) ([]engine.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesByPostingGroup(ctx, s.db, tenantID, groupID)
}

const entryColumns = `id, tenant_id, period_id, transaction_date, system_date, reference, tx_type,
	posting_group_id, account_id, account_code, account_name, account_type, nature,
	amount, equivalent_amount, exchange_rate, description, actor, created_at`

func appendEntries(ctx context.Context, q querier, entries []engine.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		_, err := q.ExecContext(ctx, query,
			e.ID, string(e.TenantID), e.PeriodID,
			e.TransactionDate.Format(time.RFC3339), e.SystemDate.Format(time.RFC3339),
			e.Reference, string(e.Type), e.PostingGroupID,
			e.Account.ID, e.Account.Code, e.Account.Name, e.Account.Type,
			string(e.Nature),
			e.Amount.String(), e.EquivalentAmount.String(), e.ExchangeRate.String(),
			e.Description, e.Actor, e.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func entriesByPostingGroup(ctx context.Context, q querier, tenantID engine.TenantID, groupID string) ([]engine.LedgerEntry, error) {
	query := "SELECT " + entryColumns + ` FROM ledger_entries
		WHERE tenant_id = ? AND posting_group_id = ?
		ORDER BY created_at ASC, id ASC`

	return queryEntries(ctx, q, query, string(tenantID), groupID)
}

// ListEntries returns recent journal rows, optionally filtered by
// reference (admin/read API).
func (s *Store) ListEntries(ctx context.Context, tenantID engine.TenantID, reference string, limit int) ([]engine.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE tenant_id = ?"
	args := []any{string(tenantID)}
	if reference != "" {
		query += " AND reference = ?"
		args = append(args, reference)
	}
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	return queryEntries(ctx, s.db, query, args...)
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]engine.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.LedgerEntry
	for rows.Next() {
		var (
			e                      engine.LedgerEntry
			tenant, txType, nature string
			txDate, sysDate        string
			raw                    [3]string
			createdAt              string
		)
		if err := rows.Scan(
			&e.ID, &tenant, &e.PeriodID, &txDate, &sysDate, &e.Reference, &txType,
			&e.PostingGroupID, &e.Account.ID, &e.Account.Code, &e.Account.Name,
			&e.Account.Type, &nature,
			&raw[0], &raw[1], &raw[2], &e.Description, &e.Actor, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		e.TenantID = engine.TenantID(tenant)
		e.Type = engine.TransactionType(txType)
		e.Nature = engine.AccountNature(nature)
		e.TransactionDate, _ = time.Parse(time.RFC3339, txDate)
		e.SystemDate, _ = time.Parse(time.RFC3339, sysDate)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"amount", &e.Amount},
			{"equivalent_amount", &e.EquivalentAmount},
			{"exchange_rate", &e.ExchangeRate},
		}
		for i, f := range fields {
			if *f.dst, err = scanDecimal(f.name, raw[i]); err != nil {
				return nil, err
			}
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, rec engine.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, rec)
}

func appendAudit(ctx context.Context, q querier, rec engine.AuditRecord) error {
	query := `
		INSERT INTO stock_audits
		(id, tenant_id, document_id, product_id, quantity_in, quantity_out,
		 unit_cost, equivalent_amount, note, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID, string(rec.TenantID), rec.DocumentID, rec.ProductID,
		rec.QuantityIn.String(), rec.QuantityOut.String(),
		rec.UnitCost.String(), rec.EquivalentAmount.String(),
		rec.Note, rec.Actor, rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// =============================================================================
// MASTER DATA STORE
// =============================================================================

func (s *Store) GetWarehouse(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWarehouse(ctx, s.db, tenantID, id)
}

func (s *Store) GetProduct(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, tenantID, id)
}

func (s *Store) GetAccount(ctx context.Context, tenantID engine.TenantID, id string) (*stocktake.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, tenantID, id)
}

func (s *Store) GetCurrency(ctx context.Context, tenantID engine.TenantID, code string) (*stocktake.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCurrency(ctx, s.db, tenantID, code)
}

func (s *Store) DefaultCurrency(ctx context.Context, tenantID engine.TenantID) (*stocktake.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return defaultCurrency(ctx, s.db, tenantID)
}

func getWarehouse(ctx context.Context, q querier, tenantID engine.TenantID, id string) (*stocktake.Warehouse, error) {
	var w stocktake.Warehouse
	var tenant string
	err := q.QueryRowContext(ctx,
		"SELECT id, tenant_id, name, deleted FROM warehouses WHERE tenant_id = ? AND id = ?",
		string(tenantID), id,
	).Scan(&w.ID, &tenant, &w.Name, &w.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.TenantID = engine.TenantID(tenant)
	return &w, nil
}

func getProduct(ctx context.Context, q querier, tenantID engine.TenantID, id string) (*stocktake.Product, error) {
	var p stocktake.Product
	var tenant string
	err := q.QueryRowContext(ctx,
		"SELECT id, tenant_id, sku, name, serial_tracked, deleted FROM products WHERE tenant_id = ? AND id = ?",
		string(tenantID), id,
	).Scan(&p.ID, &tenant, &p.SKU, &p.Name, &p.SerialTracked, &p.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.TenantID = engine.TenantID(tenant)
	return &p, nil
}

func getAccount(ctx context.Context, q querier, tenantID engine.TenantID, id string) (*stocktake.Account, error) {
	var a stocktake.Account
	var tenant, nature string
	err := q.QueryRowContext(ctx,
		"SELECT id, tenant_id, code, name, type, nature, deleted FROM accounts WHERE tenant_id = ? AND id = ?",
		string(tenantID), id,
	).Scan(&a.ID, &tenant, &a.Code, &a.Name, &a.Type, &nature, &a.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.TenantID = engine.TenantID(tenant)
	a.Nature = engine.AccountNature(nature)
	return &a, nil
}

func getCurrency(ctx context.Context, q querier, tenantID engine.TenantID, code string) (*stocktake.Currency, error) {
	var c stocktake.Currency
	var tenant string
	err := q.QueryRowContext(ctx,
		"SELECT tenant_id, code, name, is_default FROM currencies WHERE tenant_id = ? AND code = ?",
		string(tenantID), code,
	).Scan(&tenant, &c.Code, &c.Name, &c.IsDefault)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.TenantID = engine.TenantID(tenant)
	return &c, nil
}

func defaultCurrency(ctx context.Context, q querier, tenantID engine.TenantID) (*stocktake.Currency, error) {
	var c stocktake.Currency
	var tenant string
	err := q.QueryRowContext(ctx,
		"SELECT tenant_id, code, name, is_default FROM currencies WHERE tenant_id = ? AND is_default = TRUE LIMIT 1",
		string(tenantID),
	).Scan(&tenant, &c.Code, &c.Name, &c.IsDefault)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.TenantID = engine.TenantID(tenant)
	return &c, nil
}

// SaveWarehouse upserts a warehouse.
func (s *Store) SaveWarehouse(ctx context.Context, w stocktake.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, tenant_id, name, deleted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			deleted = excluded.deleted`,
		w.ID, string(w.TenantID), w.Name, w.Deleted,
	)
	return err
}

// SaveProduct upserts a product.
func (s *Store) SaveProduct(ctx context.Context, p stocktake.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, sku, name, serial_tracked, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			serial_tracked = excluded.serial_tracked,
			deleted = excluded.deleted`,
		p.ID, string(p.TenantID), p.SKU, p.Name, p.SerialTracked, p.Deleted,
	)
	return err
}

// SaveAccount upserts an account.
func (s *Store) SaveAccount(ctx context.Context, a stocktake.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, tenant_id, code, name, type, nature, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			type = excluded.type,
			nature = excluded.nature,
			deleted = excluded.deleted`,
		a.ID, string(a.TenantID), a.Code, a.Name, a.Type, string(a.Nature), a.Deleted,
	)
	return err
}

// DeleteAccount soft-deletes an account. Ledger entries referencing it keep
// their denormalized account identity.
func (s *Store) DeleteAccount(ctx context.Context, tenantID engine.TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET deleted = TRUE WHERE tenant_id = ? AND id = ?",
		string(tenantID), id,
	)
	return err
}

// SaveCurrency upserts a currency. Marking one as default clears the flag
// on the tenant's other currencies.
func (s *Store) SaveCurrency(ctx context.Context, c stocktake.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.IsDefault {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE currencies SET is_default = FALSE WHERE tenant_id = ?",
			string(c.TenantID),
		); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO currencies (tenant_id, code, name, is_default)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, code) DO UPDATE SET
			name = excluded.name,
			is_default = excluded.is_default`,
		string(c.TenantID), c.Code, c.Name, c.IsDefault,
	)
	return err
}

// SaveReason upserts an adjustment reason.
func (s *Store) SaveReason(ctx context.Context, r stocktake.AdjustmentReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustment_reasons (id, tenant_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		r.ID, string(r.TenantID), r.Name,
	)
	return err
}

// ListReasons returns the tenant's adjustment reasons.
func (s *Store) ListReasons(ctx context.Context, tenantID engine.TenantID) ([]stocktake.AdjustmentReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tenant_id, name FROM adjustment_reasons WHERE tenant_id = ? ORDER BY name",
		string(tenantID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reasons []stocktake.AdjustmentReason
	for rows.Next() {
		var r stocktake.AdjustmentReason
		var tenant string
		if err := rows.Scan(&r.ID, &tenant, &r.Name); err != nil {
			return nil, err
		}
		r.TenantID = engine.TenantID(tenant)
		reasons = append(reasons, r)
	}
	return reasons, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"count_lines", "count_documents", "stock_records", "serial_units",
		"lot_records", "ledger_entries", "stock_audits",
		"warehouses", "products", "accounts", "currencies", "adjustment_reasons",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// scanDecimal runs a stored numeric column through the sanitizer, so a
// corrupted row degrades to a deterministic parse instead of an error
// deep inside arithmetic.
func scanDecimal(field, raw string) (decimal.Decimal, error) {
	return engine.Sanitize(field, raw)
}

func stampActor(st *stocktake.Stamp) *string {
	if st == nil {
		return nil
	}
	return &st.Actor
}

func stampTime(st *stocktake.Stamp) *string {
	if st == nil {
		return nil
	}
	t := st.At.Format(time.RFC3339)
	return &t
}

func scanStamp(by, at sql.NullString) *stocktake.Stamp {
	if !at.Valid || at.String == "" {
		return nil
	}
	t, _ := time.Parse(time.RFC3339, at.String)
	return &stocktake.Stamp{Actor: by.String, At: t}
}
