/*
handlers.go - HTTP API handlers for the stocktake engine

PURPOSE:
  Exposes the count workflow and posting engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Counts:
    GET    /api/counts                     List count documents
    POST   /api/counts                     Create draft
    GET    /api/counts/{id}                Get document with lines
    PUT    /api/counts/{id}                Update draft/returned document
    DELETE /api/counts/{id}                Delete draft
    POST   /api/counts/{id}/submit         Submit for approval
    POST   /api/counts/{id}/approve        Approve (mutates stock, posts)
    POST   /api/counts/{id}/reject         Reject with reason
    POST   /api/counts/{id}/return         Return for correction
    POST   /api/counts/{id}/accept-variance Record accepted variance

  Ledger:
    GET    /api/ledger                     List journal rows
    GET    /api/ledger/groups/{groupId}    Get one posting-group
    POST   /api/ledger/groups/{groupId}/reverse  Append mirror group

  Stock:
    GET    /api/stock                      List stock records

  Admin (master data):
    POST   /api/admin/warehouses | products | accounts | currencies | reasons
    DELETE /api/admin/accounts/{id}        Soft-delete an account
    POST   /api/reset                      Database reset (dev only)

TENANCY:
  Every request carries X-Tenant-ID (falls back to "default") and
  X-Actor-ID (falls back to "system"). No authentication layer sits in
  front of these headers; they identify, they do not authenticate.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (lost approval race, illegal transition)
  - 422: Numeric integrity / unbalanced posting
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - stocktake/workflow.go: The state machine behind these handlers
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stocktake-engine/engine"
	"github.com/warp/stocktake-engine/stocktake"
	"github.com/warp/stocktake-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *stocktake.Service

	// DefaultTenant is assumed when a request carries no X-Tenant-ID.
	DefaultTenant engine.TenantID
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:         store,
		Service:       stocktake.NewService(store),
		DefaultTenant: "default",
	}
}

func (h *Handler) tenant(r *http.Request) engine.TenantID {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return engine.TenantID(t)
	}
	return h.DefaultTenant
}

func actorOf(r *http.Request) string {
	if a := r.Header.Get("X-Actor-ID"); a != "" {
		return a
	}
	return "system"
}

// =============================================================================
// COUNT DOCUMENT HANDLERS
// =============================================================================

// ListCounts returns count documents matching the filter.
func (h *Handler) ListCounts(w http.ResponseWriter, r *http.Request) {
	filter := stocktake.ListFilter{
		Status:      stocktake.Status(r.URL.Query().Get("status")),
		WarehouseID: r.URL.Query().Get("warehouse_id"),
		Reference:   r.URL.Query().Get("reference"),
	}

	docs, err := h.Service.List(r.Context(), h.tenant(r), filter)
	if err != nil {
		writeDomainError(w, "Failed to list counts", err)
		return
	}

	dtos := make([]CountDocumentDTO, len(docs))
	for i := range docs {
		dtos[i] = toDocumentDTO(&docs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": dtos})
}

// CreateCount creates a new draft document.
func (h *Handler) CreateCount(w http.ResponseWriter, r *http.Request) {
	var req CreateCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := toDraftInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	doc, err := h.Service.CreateDraft(r.Context(), h.tenant(r), actorOf(r), in)
	if err != nil {
		writeDomainError(w, "Failed to create count", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

// GetCount returns one document with its lines.
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.GetByID(r.Context(), h.tenant(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// UpdateCount replaces the content of a draft or returned document.
func (h *Handler) UpdateCount(w http.ResponseWriter, r *http.Request) {
	var req CreateCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := toDraftInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	doc, err := h.Service.Update(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, "Failed to update count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// DeleteCount removes a draft.
func (h *Handler) DeleteCount(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), h.tenant(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// SubmitCount moves a document to submitted.
func (h *Handler) SubmitCount(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.Submit(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to submit count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// ApproveCount reconciles a submitted document against live stock.
func (h *Handler) ApproveCount(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	doc, err := h.Service.Approve(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to approve count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// RejectCount terminally rejects a submitted document.
func (h *Handler) RejectCount(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, err := h.Service.Reject(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// ReturnCount sends a submitted document back for correction.
func (h *Handler) ReturnCount(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, err := h.Service.ReturnForCorrection(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to return count", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// AcceptVariance records the accepted variance annotation.
func (h *Handler) AcceptVariance(w http.ResponseWriter, r *http.Request) {
	var req AcceptVarianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, err := h.Service.AcceptVariance(r.Context(), h.tenant(r), actorOf(r), chi.URLParam(r, "id"),
		stocktake.AcceptVarianceInput{
			TotalValue:    req.TotalValue,
			PositiveValue: req.PositiveValue,
			NegativeValue: req.NegativeValue,
			Note:          req.Note,
		})
	if err != nil {
		writeDomainError(w, "Failed to accept variance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

func toDraftInput(req CreateCountRequest) (stocktake.DraftInput, error) {
	in := stocktake.DraftInput{
		WarehouseID:  req.WarehouseID,
		Reference:    req.Reference,
		CurrencyCode: req.CurrencyCode,
		ExchangeRate: req.ExchangeRate,

		InboundVarianceAccountID:  req.InboundVarianceAccountID,
		InboundOffsetAccountID:    req.InboundOffsetAccountID,
		OutboundVarianceAccountID: req.OutboundVarianceAccountID,
		OutboundOffsetAccountID:   req.OutboundOffsetAccountID,

		Notes: req.Notes,
	}

	for _, l := range req.Lines {
		line := stocktake.LineInput{
			ProductID:       l.ProductID,
			CurrentQuantity: l.CurrentQuantity,
			CountedQuantity: l.CountedQuantity,
			UnitCost:        l.UnitCost,
			UnitAverageCost: l.UnitAverageCost,
			ExchangeRate:    l.ExchangeRate,
			BatchNumber:     l.BatchNumber,
			SerialNumbers:   l.SerialNumbers,
		}
		if l.ExpiryDate != "" {
			t, err := time.Parse("2006-01-02", l.ExpiryDate)
			if err != nil {
				return stocktake.DraftInput{}, err
			}
			line.ExpiryDate = &t
		}
		in.Lines = append(in.Lines, line)
	}
	return in, nil
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListLedger returns recent journal rows.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListEntries(r.Context(), h.tenant(r), r.URL.Query().Get("reference"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list ledger entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// GetPostingGroup returns the entries of one posting-group.
func (h *Handler) GetPostingGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")

	entries, err := h.Store.EntriesByPostingGroup(r.Context(), h.tenant(r), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load posting group", err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "Posting group not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// ReversePostingGroup appends the mirror group for a posting-group.
func (h *Handler) ReversePostingGroup(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	entries, err := h.Service.ReversePosting(r.Context(), h.tenant(r), actorOf(r),
		chi.URLParam(r, "groupId"), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reverse posting group", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entries": toEntryDTOs(entries)})
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListStock returns stock records, optionally filtered by warehouse.
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListStockRecords(r.Context(), h.tenant(r), r.URL.Query().Get("warehouse_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list stock", err)
		return
	}

	dtos := make([]StockRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = StockRecordDTO{
			ProductID:   rec.ProductID,
			WarehouseID: rec.WarehouseID,
			Quantity:    rec.Quantity,
			AverageCost: rec.AverageCost,
			LastUpdated: rec.LastUpdated.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": dtos})
}

// =============================================================================
// MASTER DATA HANDLERS
// =============================================================================

// SaveWarehouse upserts a warehouse.
func (h *Handler) SaveWarehouse(w http.ResponseWriter, r *http.Request) {
	var req SaveWarehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = engine.NewID()
	}

	err := h.Store.SaveWarehouse(r.Context(), stocktake.Warehouse{
		ID: req.ID, TenantID: h.tenant(r), Name: req.Name,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save warehouse", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

// SaveProduct upserts a product.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = engine.NewID()
	}

	err := h.Store.SaveProduct(r.Context(), stocktake.Product{
		ID: req.ID, TenantID: h.tenant(r), SKU: req.SKU,
		Name: req.Name, SerialTracked: req.SerialTracked,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

// SaveAccount upserts an account.
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req SaveAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = engine.NewID()
	}
	if req.Nature == "" {
		req.Nature = string(engine.NatureDebit)
	}

	err := h.Store.SaveAccount(r.Context(), stocktake.Account{
		ID: req.ID, TenantID: h.tenant(r), Code: req.Code, Name: req.Name,
		Type: req.Type, Nature: engine.AccountNature(req.Nature),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

// DeleteAccount soft-deletes an account.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteAccount(r.Context(), h.tenant(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// SaveCurrency upserts a currency.
func (h *Handler) SaveCurrency(w http.ResponseWriter, r *http.Request) {
	var req SaveCurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Currency code is required", nil)
		return
	}

	err := h.Store.SaveCurrency(r.Context(), stocktake.Currency{
		TenantID: h.tenant(r), Code: req.Code, Name: req.Name, IsDefault: req.IsDefault,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save currency", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"code": req.Code})
}

// SaveReason upserts an adjustment reason.
func (h *Handler) SaveReason(w http.ResponseWriter, r *http.Request) {
	var req SaveReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = engine.NewID()
	}

	err := h.Store.SaveReason(r.Context(), stocktake.AdjustmentReason{
		ID: req.ID, TenantID: h.tenant(r), Name: req.Name,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save reason", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

// ListReasons returns the tenant's adjustment reasons.
func (h *Handler) ListReasons(w http.ResponseWriter, r *http.Request) {
	reasons, err := h.Store.ListReasons(r.Context(), h.tenant(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reasons", err)
		return
	}

	type ReasonDTO struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	dtos := make([]ReasonDTO, len(reasons))
	for i, rn := range reasons {
		dtos[i] = ReasonDTO{ID: rn.ID, Name: rn.Name}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reasons": dtos})
}

// =============================================================================
// OPS HANDLERS
// =============================================================================

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, engine.ErrNumericIntegrity),
		errors.Is(err, engine.ErrUnbalancedPosting):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
