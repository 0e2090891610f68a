/*
handlers_test.go - HTTP tests for the count and ledger API

Exercises the full request path: router, middleware, handlers, workflow
service, and the sqlite store behind an in-memory database.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/stocktake"
	"github.com/warp/stocktake-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAPI(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewRouter(NewHandler(store)), store
}

// do runs one request against the router and decodes the JSON response
// into out (when out is non-nil).
func do(t *testing.T, router http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "tester")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 400 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response for %s %s: %v", method, path, err)
		}
	}
	return rec
}

// seedMasterData creates a warehouse, two products, four posting accounts,
// and a default currency through the admin endpoints.
func seedMasterData(t *testing.T, router http.Handler) {
	t.Helper()

	steps := []struct {
		path string
		body any
	}{
		{"/api/admin/warehouses", SaveWarehouseRequest{ID: "wh-1", Name: "Main warehouse"}},
		{"/api/admin/products", SaveProductRequest{ID: "prod-1", SKU: "WID-1", Name: "Widget"}},
		{"/api/admin/products", SaveProductRequest{ID: "prod-serial", SKU: "GAD-1", Name: "Gadget", SerialTracked: true}},
		{"/api/admin/accounts", SaveAccountRequest{ID: "acct-in-var", Code: "5101", Name: "Inventory gain"}},
		{"/api/admin/accounts", SaveAccountRequest{ID: "acct-in-off", Code: "5102", Name: "Inventory gain offset"}},
		{"/api/admin/accounts", SaveAccountRequest{ID: "acct-out-var", Code: "5103", Name: "Inventory shrinkage"}},
		{"/api/admin/accounts", SaveAccountRequest{ID: "acct-out-off", Code: "5104", Name: "Inventory shrinkage offset"}},
		{"/api/admin/currencies", SaveCurrencyRequest{Code: "USD", Name: "US Dollar", IsDefault: true}},
	}
	for _, step := range steps {
		rec := do(t, router, http.MethodPost, step.path, step.body, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("Seeding %s failed: status %d body %s", step.path, rec.Code, rec.Body.String())
		}
	}
}

func countRequest(lines ...LineRequest) CreateCountRequest {
	return CreateCountRequest{
		WarehouseID: "wh-1",

		InboundVarianceAccountID:  "acct-in-var",
		InboundOffsetAccountID:    "acct-in-off",
		OutboundVarianceAccountID: "acct-out-var",
		OutboundOffsetAccountID:   "acct-out-off",

		Lines: lines,
	}
}

// =============================================================================
// COUNT LIFECYCLE TESTS
// =============================================================================

func TestAPI_CountLifecycle(t *testing.T) {
	// GIVEN: Master data and 10 widgets on hand at average cost 5
	router, store := newTestAPI(t)
	seedMasterData(t, router)

	err := store.UpsertStockRecord(context.Background(), stocktake.StockRecord{
		TenantID:    "default",
		ProductID:   "prod-1",
		WarehouseID: "wh-1",
		Quantity:    decimal.NewFromInt(10),
		AverageCost: decimal.NewFromInt(5),
		LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to seed stock: %v", err)
	}

	// WHEN: Creating a draft counting 7
	var doc CountDocumentDTO
	rec := do(t, router, http.MethodPost, "/api/counts", countRequest(LineRequest{
		ProductID:       "prod-1",
		CountedQuantity: decimal.NewFromInt(7),
		UnitCost:        decimal.NewFromInt(5),
		UnitAverageCost: decimal.NewFromInt(5),
	}), &doc)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create failed: status %d body %s", rec.Code, rec.Body.String())
	}
	if doc.Status != "draft" {
		t.Errorf("Expected status 'draft', got '%s'", doc.Status)
	}
	if doc.Reference == "" {
		t.Error("Expected a generated reference")
	}

	// AND: Submitting then approving it
	rec = do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/submit", nil, &doc)
	if rec.Code != http.StatusOK || doc.Status != "submitted" {
		t.Fatalf("Submit failed: status %d document status '%s'", rec.Code, doc.Status)
	}

	rec = do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/approve", DecisionRequest{}, &doc)
	if rec.Code != http.StatusOK {
		t.Fatalf("Approve failed: status %d body %s", rec.Code, rec.Body.String())
	}
	if doc.Status != "approved" {
		t.Errorf("Expected status 'approved', got '%s'", doc.Status)
	}
	if doc.Approved == nil || doc.Approved.Actor != "tester" {
		t.Errorf("Expected approval stamped by 'tester', got %+v", doc.Approved)
	}

	// THEN: The shrinkage pair of 15 is in the journal
	var ledger struct {
		Entries []LedgerEntryDTO `json:"entries"`
	}
	rec = do(t, router, http.MethodGet, "/api/ledger?reference="+doc.Reference, nil, &ledger)
	if rec.Code != http.StatusOK {
		t.Fatalf("Ledger list failed: status %d", rec.Code)
	}
	if len(ledger.Entries) != 2 {
		t.Fatalf("Expected 2 ledger entries, got %d", len(ledger.Entries))
	}
	for _, e := range ledger.Entries {
		if !e.Amount.Equal(decimal.NewFromInt(15)) {
			t.Errorf("Expected amount 15, got %s", e.Amount)
		}
	}

	// And stock reads back at the counted quantity
	var stock struct {
		Stock []StockRecordDTO `json:"stock"`
	}
	rec = do(t, router, http.MethodGet, "/api/stock?warehouse_id=wh-1", nil, &stock)
	if rec.Code != http.StatusOK || len(stock.Stock) != 1 {
		t.Fatalf("Stock list failed: status %d records %d", rec.Code, len(stock.Stock))
	}
	if !stock.Stock[0].Quantity.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Expected stock quantity 7, got %s", stock.Stock[0].Quantity)
	}
}

func TestAPI_GetCount_NotFound(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := do(t, router, http.MethodGet, "/api/counts/no-such-id", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestAPI_DoubleApprove_Conflicts(t *testing.T) {
	// GIVEN: An approved document
	router, _ := newTestAPI(t)
	seedMasterData(t, router)

	var doc CountDocumentDTO
	do(t, router, http.MethodPost, "/api/counts", countRequest(LineRequest{
		ProductID:       "prod-1",
		CountedQuantity: decimal.NewFromInt(3),
		UnitCost:        decimal.NewFromInt(1),
		UnitAverageCost: decimal.NewFromInt(1),
	}), &doc)
	do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/submit", nil, nil)
	rec := do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/approve", DecisionRequest{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("First approve failed: status %d body %s", rec.Code, rec.Body.String())
	}

	// WHEN: Approving again
	rec = do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/approve", DecisionRequest{}, nil)

	// THEN: The lost race reports a conflict
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RejectWithoutReason(t *testing.T) {
	router, _ := newTestAPI(t)
	seedMasterData(t, router)

	var doc CountDocumentDTO
	do(t, router, http.MethodPost, "/api/counts", countRequest(LineRequest{
		ProductID:       "prod-1",
		CountedQuantity: decimal.NewFromInt(3),
	}), &doc)
	do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/submit", nil, nil)

	rec := do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/reject", DecisionRequest{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAPI_SubmitEmptyDraft(t *testing.T) {
	router, _ := newTestAPI(t)
	seedMasterData(t, router)

	var doc CountDocumentDTO
	do(t, router, http.MethodPost, "/api/counts", countRequest(), &doc)

	rec := do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/submit", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a lineless submit, got %d", rec.Code)
	}
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestAPI_ReversePostingGroup(t *testing.T) {
	// GIVEN: An approved count that posted one group
	router, store := newTestAPI(t)
	seedMasterData(t, router)

	err := store.UpsertStockRecord(context.Background(), stocktake.StockRecord{
		TenantID:    "default",
		ProductID:   "prod-1",
		WarehouseID: "wh-1",
		Quantity:    decimal.NewFromInt(10),
		AverageCost: decimal.NewFromInt(2),
		LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to seed stock: %v", err)
	}

	var doc CountDocumentDTO
	do(t, router, http.MethodPost, "/api/counts", countRequest(LineRequest{
		ProductID:       "prod-1",
		CountedQuantity: decimal.NewFromInt(15),
		UnitCost:        decimal.NewFromInt(2),
		UnitAverageCost: decimal.NewFromInt(2),
	}), &doc)
	do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/submit", nil, nil)
	rec := do(t, router, http.MethodPost, "/api/counts/"+doc.ID+"/approve", DecisionRequest{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Approve failed: status %d body %s", rec.Code, rec.Body.String())
	}

	var ledger struct {
		Entries []LedgerEntryDTO `json:"entries"`
	}
	do(t, router, http.MethodGet, "/api/ledger?reference="+doc.Reference, nil, &ledger)
	if len(ledger.Entries) != 2 {
		t.Fatalf("Expected 2 posted entries, got %d", len(ledger.Entries))
	}
	groupID := ledger.Entries[0].PostingGroupID

	// WHEN: Reversing the group
	var mirrors struct {
		Entries []LedgerEntryDTO `json:"entries"`
	}
	rec = do(t, router, http.MethodPost,
		fmt.Sprintf("/api/ledger/groups/%s/reverse", groupID),
		ReversalRequest{Reason: "count disputed"}, &mirrors)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Reverse failed: status %d body %s", rec.Code, rec.Body.String())
	}
	if len(mirrors.Entries) != 2 {
		t.Fatalf("Expected 2 mirror entries, got %d", len(mirrors.Entries))
	}
	if mirrors.Entries[0].PostingGroupID == groupID {
		t.Error("Mirror entries must carry a new posting-group id")
	}
	if mirrors.Entries[0].Type != "reversal" {
		t.Errorf("Expected type 'reversal', got '%s'", mirrors.Entries[0].Type)
	}

	// THEN: The original group remains readable and untouched
	var original struct {
		Entries []LedgerEntryDTO `json:"entries"`
	}
	rec = do(t, router, http.MethodGet, "/api/ledger/groups/"+groupID, nil, &original)
	if rec.Code != http.StatusOK || len(original.Entries) != 2 {
		t.Fatalf("Original group read failed: status %d entries %d", rec.Code, len(original.Entries))
	}
}

func TestAPI_ReverseUnknownGroup(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := do(t, router, http.MethodPost, "/api/ledger/groups/no-such-group/reverse", ReversalRequest{}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// =============================================================================
// OPS TESTS
// =============================================================================

func TestAPI_Health(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := do(t, router, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
