/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Quantities and monetary values travel as JSON strings (decimal.Decimal
  marshals quoted), which keeps precision intact across clients that
  would otherwise round through float64. Exchange rates on requests are
  accepted as raw strings and sanitized server-side.

TYPES:
  Counts:
    CountDocumentDTO, CountLineDTO, CreateCountRequest, LineRequest,
    DecisionRequest, AcceptVarianceRequest

  Ledger:
    LedgerEntryDTO, ReversalRequest

  Stock:
    StockRecordDTO

  Master data:
    SaveWarehouseRequest, SaveProductRequest, SaveAccountRequest,
    SaveCurrencyRequest, SaveReasonRequest

VALIDATION:
  Validation is done in the workflow service, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - stocktake/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/engine"
	"github.com/warp/stocktake-engine/stocktake"
)

// =============================================================================
// COUNT DOCUMENT TYPES
// =============================================================================

// StampDTO is an actor+timestamp transition mark.
type StampDTO struct {
	Actor string `json:"actor"`
	At    string `json:"at"`
}

// CountLineDTO represents one count line in API responses.
type CountLineDTO struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`

	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	UnitAverageCost decimal.Decimal `json:"unit_average_cost"`
	ExchangeRate    string          `json:"exchange_rate,omitempty"`

	BatchNumber   string   `json:"batch_number,omitempty"`
	ExpiryDate    string   `json:"expiry_date,omitempty"`
	SerialNumbers []string `json:"serial_numbers,omitempty"`

	AdjustmentIn     decimal.Decimal `json:"adjustment_in"`
	AdjustmentOut    decimal.Decimal `json:"adjustment_out"`
	DeltaQuantity    decimal.Decimal `json:"delta_quantity"`
	DeltaValue       decimal.Decimal `json:"delta_value"`
	NewStock         decimal.Decimal `json:"new_stock"`
	TotalValue       decimal.Decimal `json:"total_value"`
	EquivalentAmount decimal.Decimal `json:"equivalent_amount"`
}

// CountDocumentDTO represents a count document in API responses.
type CountDocumentDTO struct {
	ID           string `json:"id"`
	WarehouseID  string `json:"warehouse_id"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	CurrencyCode string `json:"currency_code"`
	ExchangeRate string `json:"exchange_rate"`

	InboundVarianceAccountID  string `json:"inbound_variance_account_id"`
	InboundOffsetAccountID    string `json:"inbound_offset_account_id"`
	OutboundVarianceAccountID string `json:"outbound_variance_account_id"`
	OutboundOffsetAccountID   string `json:"outbound_offset_account_id"`

	ItemCount  int             `json:"item_count"`
	TotalValue decimal.Decimal `json:"total_value"`
	Notes      string          `json:"notes,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`
	ReturnReason    string `json:"return_reason,omitempty"`

	AcceptedTotalValue    decimal.Decimal `json:"accepted_total_value"`
	AcceptedPositiveValue decimal.Decimal `json:"accepted_positive_value"`
	AcceptedNegativeValue decimal.Decimal `json:"accepted_negative_value"`
	AcceptedNote          string          `json:"accepted_note,omitempty"`

	Created          StampDTO  `json:"created"`
	Updated          *StampDTO `json:"updated,omitempty"`
	Submitted        *StampDTO `json:"submitted,omitempty"`
	Approved         *StampDTO `json:"approved,omitempty"`
	Rejected         *StampDTO `json:"rejected,omitempty"`
	Returned         *StampDTO `json:"returned,omitempty"`
	VarianceAccepted *StampDTO `json:"variance_accepted,omitempty"`

	Lines []CountLineDTO `json:"lines"`
}

// LineRequest is one count line in a create/update request.
type LineRequest struct {
	ProductID       string          `json:"product_id"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	UnitAverageCost decimal.Decimal `json:"unit_average_cost"`
	ExchangeRate    string          `json:"exchange_rate,omitempty"`
	BatchNumber     string          `json:"batch_number,omitempty"`
	ExpiryDate      string          `json:"expiry_date,omitempty"` // YYYY-MM-DD
	SerialNumbers   []string        `json:"serial_numbers,omitempty"`
}

// CreateCountRequest creates or replaces a count document's content.
type CreateCountRequest struct {
	WarehouseID  string `json:"warehouse_id"`
	Reference    string `json:"reference,omitempty"`
	CurrencyCode string `json:"currency_code,omitempty"`
	ExchangeRate string `json:"exchange_rate,omitempty"`

	InboundVarianceAccountID  string `json:"inbound_variance_account_id"`
	InboundOffsetAccountID    string `json:"inbound_offset_account_id"`
	OutboundVarianceAccountID string `json:"outbound_variance_account_id"`
	OutboundOffsetAccountID   string `json:"outbound_offset_account_id"`

	Notes string        `json:"notes,omitempty"`
	Lines []LineRequest `json:"lines"`
}

// DecisionRequest carries the reason for a reject/return decision and
// optional notes for an approval.
type DecisionRequest struct {
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// AcceptVarianceRequest records the accepted variance annotation.
type AcceptVarianceRequest struct {
	TotalValue    decimal.Decimal `json:"total_value"`
	PositiveValue decimal.Decimal `json:"positive_value"`
	NegativeValue decimal.Decimal `json:"negative_value"`
	Note          string          `json:"note,omitempty"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// LedgerEntryDTO represents one journal row.
type LedgerEntryDTO struct {
	ID              string `json:"id"`
	PeriodID        string `json:"period_id"`
	TransactionDate string `json:"transaction_date"`
	Reference       string `json:"reference"`
	Type            string `json:"type"`
	PostingGroupID  string `json:"posting_group_id"`

	AccountID   string `json:"account_id"`
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name"`
	Nature      string `json:"nature"`

	Amount           decimal.Decimal `json:"amount"`
	EquivalentAmount decimal.Decimal `json:"equivalent_amount"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`

	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ReversalRequest voids a posting-group.
type ReversalRequest struct {
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// STOCK TYPES
// =============================================================================

// StockRecordDTO represents one stock record.
type StockRecordDTO struct {
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	LastUpdated string          `json:"last_updated"`
}

// =============================================================================
// MASTER DATA TYPES
// =============================================================================

type SaveWarehouseRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SaveProductRequest struct {
	ID            string `json:"id"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name"`
	SerialTracked bool   `json:"serial_tracked"`
}

type SaveAccountRequest struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Nature string `json:"nature,omitempty"`
}

type SaveCurrencyRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	IsDefault bool   `json:"is_default"`
}

type SaveReasonRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toStampDTO(st *stocktake.Stamp) *StampDTO {
	if st == nil {
		return nil
	}
	return &StampDTO{Actor: st.Actor, At: st.At.Format(time.RFC3339)}
}

func toDocumentDTO(doc *stocktake.CountDocument) CountDocumentDTO {
	dto := CountDocumentDTO{
		ID:           doc.ID,
		WarehouseID:  doc.WarehouseID,
		Reference:    doc.Reference,
		Status:       string(doc.Status),
		CurrencyCode: doc.CurrencyCode,
		ExchangeRate: doc.ExchangeRate,

		InboundVarianceAccountID:  doc.InboundVarianceAccountID,
		InboundOffsetAccountID:    doc.InboundOffsetAccountID,
		OutboundVarianceAccountID: doc.OutboundVarianceAccountID,
		OutboundOffsetAccountID:   doc.OutboundOffsetAccountID,

		ItemCount:  doc.ItemCount,
		TotalValue: doc.TotalValue,
		Notes:      doc.Notes,

		RejectionReason: doc.RejectionReason,
		ReturnReason:    doc.ReturnReason,

		AcceptedTotalValue:    doc.AcceptedTotalValue,
		AcceptedPositiveValue: doc.AcceptedPositiveValue,
		AcceptedNegativeValue: doc.AcceptedNegativeValue,
		AcceptedNote:          doc.AcceptedNote,

		Created:          StampDTO{Actor: doc.Created.Actor, At: doc.Created.At.Format(time.RFC3339)},
		Updated:          toStampDTO(doc.Updated),
		Submitted:        toStampDTO(doc.Submitted),
		Approved:         toStampDTO(doc.Approved),
		Rejected:         toStampDTO(doc.Rejected),
		Returned:         toStampDTO(doc.Returned),
		VarianceAccepted: toStampDTO(doc.VarianceAccepted),

		Lines: make([]CountLineDTO, 0, len(doc.Lines)),
	}

	for _, line := range doc.Lines {
		l := CountLineDTO{
			ID:               line.ID,
			ProductID:        line.ProductID,
			CurrentQuantity:  line.CurrentQuantity,
			CountedQuantity:  line.CountedQuantity,
			UnitCost:         line.UnitCost,
			UnitAverageCost:  line.UnitAverageCost,
			ExchangeRate:     line.ExchangeRate,
			BatchNumber:      line.BatchNumber,
			SerialNumbers:    line.SerialNumbers,
			AdjustmentIn:     line.AdjustmentIn,
			AdjustmentOut:    line.AdjustmentOut,
			DeltaQuantity:    line.DeltaQuantity,
			DeltaValue:       line.DeltaValue,
			NewStock:         line.NewStock,
			TotalValue:       line.TotalValue,
			EquivalentAmount: line.EquivalentAmount,
		}
		if line.ExpiryDate != nil {
			l.ExpiryDate = line.ExpiryDate.Format("2006-01-02")
		}
		dto.Lines = append(dto.Lines, l)
	}
	return dto
}

func toEntryDTO(e engine.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:               e.ID,
		PeriodID:         e.PeriodID,
		TransactionDate:  e.TransactionDate.Format(time.RFC3339),
		Reference:        e.Reference,
		Type:             string(e.Type),
		PostingGroupID:   e.PostingGroupID,
		AccountID:        e.Account.ID,
		AccountCode:      e.Account.Code,
		AccountName:      e.Account.Name,
		Nature:           string(e.Nature),
		Amount:           e.Amount,
		EquivalentAmount: e.EquivalentAmount,
		ExchangeRate:     e.ExchangeRate,
		Description:      e.Description,
		Actor:            e.Actor,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []engine.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}
