/*
workflow.go - Count document lifecycle state machine

PURPOSE:
  Orchestrates a count document through its states:

    draft ──▶ submitted ──▶ approved              (terminal)
                 │──▶ rejected                    (terminal, reason required)
                 └──▶ returned_for_correction ──▶ (editable, resubmittable)

  Drafts may be edited or deleted freely; no other state may be deleted.

APPROVAL:
  The only stock-mutating transition. Inside one transaction:
    1. Re-check status (concurrency guard - a lost race fails cleanly)
    2. Re-validate the four posting accounts (they may have been deleted
       since submission)
    3. Per line: sanitize the stored exchange rate (healing corrupted
       values in place), fetch the LIVE stock quantity, recompute the
       variance, overwrite stock, allocate sub-ledgers, post a balanced
       entry pair when the delta is non-zero, append an audit row
    4. Stamp the document approved
  Any failure at any line rolls the entire transaction back. There is no
  partial approval.

SEE ALSO:
  - engine/valuation.go: the variance math
  - engine/posting.go: the balanced posting pair
  - stock.go: stock and sub-ledger mutation
*/
package stocktake

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/engine"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service drives the count-document workflow. Now is injectable for tests.
type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// TransitionError reports an attempt to run a transition from a state that
// does not permit it.
type TransitionError struct {
	DocumentID string
	From       Status
	Attempted  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s document %s in status %q", e.Attempted, e.DocumentID, e.From)
}

func (e *TransitionError) Unwrap() error { return engine.ErrInvalidTransition }

// =============================================================================
// INPUTS
// =============================================================================

// LineInput is a client-supplied count line. Quantities and costs arrive
// as decimals; the exchange rate override is raw text so legacy callers
// round-tripping stored values keep working.
type LineInput struct {
	ProductID       string
	CurrentQuantity decimal.Decimal
	CountedQuantity decimal.Decimal
	UnitCost        decimal.Decimal
	UnitAverageCost decimal.Decimal
	ExchangeRate    string
	BatchNumber     string
	ExpiryDate      *time.Time
	SerialNumbers   []string
}

// DraftInput creates or replaces a document's content.
type DraftInput struct {
	WarehouseID  string
	Reference    string // generated when empty; collisions are permitted
	CurrencyCode string // tenant default when empty
	ExchangeRate string

	InboundVarianceAccountID  string
	InboundOffsetAccountID    string
	OutboundVarianceAccountID string
	OutboundOffsetAccountID   string

	Notes string
	Lines []LineInput
}

// AcceptVarianceInput records the accepted variance annotation.
type AcceptVarianceInput struct {
	TotalValue    decimal.Decimal
	PositiveValue decimal.Decimal
	NegativeValue decimal.Decimal
	Note          string
}

// =============================================================================
// DRAFT CREATION AND EDITING
// =============================================================================

// CreateDraft validates the warehouse and products, resolves the currency,
// and persists a new draft with advisory valuations computed from the
// client-supplied quantities.
func (s *Service) CreateDraft(ctx context.Context, tenantID engine.TenantID, actor string, in DraftInput) (*CountDocument, error) {
	now := s.Now()

	warehouse, err := s.Store.GetWarehouse(ctx, tenantID, in.WarehouseID)
	if err != nil {
		return nil, err
	}
	if warehouse == nil || warehouse.Deleted {
		return nil, fmt.Errorf("%w: %s", engine.ErrWarehouseNotFound, in.WarehouseID)
	}

	currencyCode, rate, err := s.resolveCurrency(ctx, tenantID, in.CurrencyCode, in.ExchangeRate)
	if err != nil {
		return nil, err
	}

	reference := in.Reference
	if reference == "" {
		reference = "STK-" + now.Format("20060102-150405")
	}

	doc := &CountDocument{
		ID:           engine.NewID(),
		TenantID:     tenantID,
		WarehouseID:  in.WarehouseID,
		Reference:    reference,
		Status:       StatusDraft,
		CurrencyCode: currencyCode,
		ExchangeRate: rate,

		InboundVarianceAccountID:  in.InboundVarianceAccountID,
		InboundOffsetAccountID:    in.InboundOffsetAccountID,
		OutboundVarianceAccountID: in.OutboundVarianceAccountID,
		OutboundOffsetAccountID:   in.OutboundOffsetAccountID,

		Notes:   in.Notes,
		Created: Stamp{Actor: actor, At: now},
	}

	lines, err := s.buildLines(ctx, tenantID, doc, in.Lines)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	s.recomputeTotals(doc)

	err = s.Store.WithTx(ctx, func(st Store) error {
		if err := st.SaveDocument(ctx, doc); err != nil {
			return err
		}
		return st.ReplaceLines(ctx, doc.ID, doc.Lines)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Update replaces the full line set of a draft or returned document and
// recomputes header totals.
func (s *Service) Update(ctx context.Context, tenantID engine.TenantID, actor, documentID string, in DraftInput) (*CountDocument, error) {
	now := s.Now()

	var doc *CountDocument
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		doc, err = s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		if !doc.Status.Editable() {
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: "update"}
		}

		if in.WarehouseID != "" && in.WarehouseID != doc.WarehouseID {
			warehouse, err := st.GetWarehouse(ctx, tenantID, in.WarehouseID)
			if err != nil {
				return err
			}
			if warehouse == nil || warehouse.Deleted {
				return fmt.Errorf("%w: %s", engine.ErrWarehouseNotFound, in.WarehouseID)
			}
			doc.WarehouseID = in.WarehouseID
		}
		if in.Reference != "" {
			doc.Reference = in.Reference
		}
		if in.CurrencyCode != "" || in.ExchangeRate != "" {
			code, rate, err := s.resolveCurrency(ctx, tenantID, in.CurrencyCode, in.ExchangeRate)
			if err != nil {
				return err
			}
			doc.CurrencyCode, doc.ExchangeRate = code, rate
		}
		doc.InboundVarianceAccountID = in.InboundVarianceAccountID
		doc.InboundOffsetAccountID = in.InboundOffsetAccountID
		doc.OutboundVarianceAccountID = in.OutboundVarianceAccountID
		doc.OutboundOffsetAccountID = in.OutboundOffsetAccountID
		doc.Notes = in.Notes

		lines, err := s.buildLines(ctx, tenantID, doc, in.Lines)
		if err != nil {
			return err
		}
		doc.Lines = lines
		s.recomputeTotals(doc)
		doc.Updated = &Stamp{Actor: actor, At: now}

		if err := st.SaveDocument(ctx, doc); err != nil {
			return err
		}
		return st.ReplaceLines(ctx, doc.ID, doc.Lines)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes a document. Only drafts may be deleted.
func (s *Service) Delete(ctx context.Context, tenantID engine.TenantID, documentID string) error {
	return s.Store.WithTx(ctx, func(st Store) error {
		doc, err := s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: "delete"}
		}
		return st.DeleteDocument(ctx, tenantID, documentID)
	})
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit moves a draft or returned document to submitted. Requires at
// least one line and all four posting accounts to resolve.
func (s *Service) Submit(ctx context.Context, tenantID engine.TenantID, actor, documentID string) (*CountDocument, error) {
	now := s.Now()

	var doc *CountDocument
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		doc, err = s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		if !doc.Status.Editable() {
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: "submit"}
		}
		if len(doc.Lines) == 0 {
			return &engine.ValidationError{Field: "lines", Reason: "document has no count lines"}
		}
		if _, err := s.resolveAccounts(ctx, st, tenantID, doc); err != nil {
			return err
		}

		doc.Status = StatusSubmitted
		doc.Submitted = &Stamp{Actor: actor, At: now}
		return st.SaveDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// =============================================================================
// APPROVAL
// =============================================================================

// Approve reconciles a submitted document against live stock and posts the
// variances. Everything happens in one transaction; any failure leaves
// stock, ledger, and document untouched.
func (s *Service) Approve(ctx context.Context, tenantID engine.TenantID, actor, documentID, notes string) (*CountDocument, error) {
	now := s.Now()

	var doc *CountDocument
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		doc, err = s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		// Status re-check after acquiring the transaction. A concurrent
		// approval that won the race leaves the document approved; report
		// that as a conflict, anything else as an illegal transition.
		if doc.Status != StatusSubmitted {
			if doc.Status == StatusApproved {
				return fmt.Errorf("%w: document %s is already approved", engine.ErrConflict, documentID)
			}
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: "approve"}
		}

		// Accounts may have been deleted since submission. This must fail
		// the whole transaction, not partially post.
		accounts, err := s.resolveAccounts(ctx, st, tenantID, doc)
		if err != nil {
			return err
		}

		// Heal a corrupted header rate in place.
		if cleaned := engine.Clean(doc.ExchangeRate); cleaned != doc.ExchangeRate {
			doc.ExchangeRate = cleaned
		}
		headerRate := engine.SanitizeRate(doc.ExchangeRate, decimal.NewFromInt(1))

		ledger := engine.NewLedger(st)
		total := decimal.Zero

		for i := range doc.Lines {
			line := &doc.Lines[i]

			product, err := st.GetProduct(ctx, tenantID, line.ProductID)
			if err != nil {
				return err
			}
			if product == nil || product.Deleted {
				return fmt.Errorf("%w: %s", engine.ErrProductNotFound, line.ProductID)
			}

			rate := headerRate
			if line.ExchangeRate != "" {
				if cleaned := engine.Clean(line.ExchangeRate); cleaned != line.ExchangeRate {
					line.ExchangeRate = cleaned
				}
				rate = engine.SanitizeRate(line.ExchangeRate, headerRate)
			}

			// The draft snapshot is stale by now; reconcile against the
			// live stock record.
			current := decimal.Zero
			if rec, err := st.GetStockRecord(ctx, tenantID, line.ProductID, doc.WarehouseID); err != nil {
				return err
			} else if rec != nil {
				current = rec.Quantity
			}

			v := engine.Valuate(engine.ValuationInput{
				CurrentQuantity: current,
				CountedQuantity: line.CountedQuantity,
				UnitCost:        line.UnitCost,
				UnitAverageCost: line.UnitAverageCost,
				ExchangeRate:    rate,
			}).Rounded()

			line.CurrentQuantity = current
			line.AdjustmentIn = v.AdjustmentIn
			line.AdjustmentOut = v.AdjustmentOut
			line.DeltaQuantity = v.DeltaQuantity
			line.DeltaValue = v.DeltaValue
			line.NewStock = v.NewStock
			line.TotalValue = v.TotalValue
			line.EquivalentAmount = v.EquivalentAmount
			total = total.Add(v.TotalValue)

			if err := applyCount(ctx, st, product, doc.WarehouseID, *line, now); err != nil {
				return err
			}

			if !v.DeltaQuantity.IsZero() {
				entries, err := engine.BuildVariancePosting(engine.VariancePosting{
					TenantID:         tenantID,
					Reference:        doc.Reference,
					TransactionDate:  now,
					Description:      fmt.Sprintf("stock variance %s (%s)", product.Name, doc.Reference),
					Actor:            actor,
					DeltaValue:       v.DeltaValue,
					ExchangeRate:     rate,
					InboundVariance:  accounts.inboundVariance.Posting(),
					InboundOffset:    accounts.inboundOffset.Posting(),
					OutboundVariance: accounts.outboundVariance.Posting(),
					OutboundOffset:   accounts.outboundOffset.Posting(),
				})
				if err != nil {
					return err
				}
				if err := ledger.Post(ctx, entries); err != nil {
					return err
				}
			}

			if err := st.AppendAudit(ctx, engine.AuditRecord{
				ID:               engine.NewID(),
				TenantID:         tenantID,
				DocumentID:       doc.ID,
				ProductID:        line.ProductID,
				QuantityIn:       v.AdjustmentIn,
				QuantityOut:      v.AdjustmentOut,
				UnitCost:         line.UnitCost,
				EquivalentAmount: v.EquivalentAmount,
				Note:             "physical count " + doc.Reference,
				Actor:            actor,
				CreatedAt:        now,
			}); err != nil {
				return err
			}

			if err := st.UpdateLine(ctx, *line); err != nil {
				return err
			}
		}

		doc.ItemCount = len(doc.Lines)
		doc.TotalValue = total
		doc.Status = StatusApproved
		doc.Approved = &Stamp{Actor: actor, At: now}
		if notes != "" {
			doc.Notes = notes
		}
		return st.SaveDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// =============================================================================
// REJECTION AND RETURN
// =============================================================================

// Reject terminally rejects a submitted document. A reason is required.
// No stock or ledger mutation occurs.
func (s *Service) Reject(ctx context.Context, tenantID engine.TenantID, actor, documentID, reason string) (*CountDocument, error) {
	return s.refuse(ctx, tenantID, actor, documentID, reason, StatusRejected)
}

// ReturnForCorrection sends a submitted document back for editing.
// A reason is required. The document may be resubmitted.
func (s *Service) ReturnForCorrection(ctx context.Context, tenantID engine.TenantID, actor, documentID, reason string) (*CountDocument, error) {
	return s.refuse(ctx, tenantID, actor, documentID, reason, StatusReturned)
}

func (s *Service) refuse(ctx context.Context, tenantID engine.TenantID, actor, documentID, reason string, to Status) (*CountDocument, error) {
	if reason == "" {
		return nil, &engine.ValidationError{Field: "reason", Reason: "a reason is required"}
	}
	now := s.Now()

	var doc *CountDocument
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		doc, err = s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusSubmitted {
			attempted := "reject"
			if to == StatusReturned {
				attempted = "return"
			}
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: attempted}
		}

		doc.Status = to
		switch to {
		case StatusRejected:
			doc.RejectionReason = reason
			doc.Rejected = &Stamp{Actor: actor, At: now}
		case StatusReturned:
			doc.ReturnReason = reason
			doc.Returned = &Stamp{Actor: actor, At: now}
		}
		return st.SaveDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// =============================================================================
// VARIANCE ACCEPTANCE
// =============================================================================

// AcceptVariance records the accepted variance annotation on a submitted
// or approved document. It changes no status and triggers no posting.
func (s *Service) AcceptVariance(ctx context.Context, tenantID engine.TenantID, actor, documentID string, in AcceptVarianceInput) (*CountDocument, error) {
	now := s.Now()

	var doc *CountDocument
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		doc, err = s.mustGet(ctx, st, tenantID, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusSubmitted && doc.Status != StatusApproved {
			return &TransitionError{DocumentID: documentID, From: doc.Status, Attempted: "accept variance on"}
		}

		doc.AcceptedTotalValue = engine.RoundMoney(in.TotalValue)
		doc.AcceptedPositiveValue = engine.RoundMoney(in.PositiveValue)
		doc.AcceptedNegativeValue = engine.RoundMoney(in.NegativeValue)
		doc.AcceptedNote = in.Note
		doc.VarianceAccepted = &Stamp{Actor: actor, At: now}
		return st.SaveDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// =============================================================================
// QUERIES AND REVERSAL
// =============================================================================

// GetByID loads a document with its lines.
func (s *Service) GetByID(ctx context.Context, tenantID engine.TenantID, documentID string) (*CountDocument, error) {
	return s.mustGet(ctx, s.Store, tenantID, documentID)
}

// List returns documents matching the filter.
func (s *Service) List(ctx context.Context, tenantID engine.TenantID, filter ListFilter) ([]CountDocument, error) {
	return s.Store.ListDocuments(ctx, tenantID, filter)
}

// ReversePosting emits the mirror group for a posting-group atomically.
// Used by collaborating modules (e.g. voiding a posted receipt) as well as
// for correcting variance postings.
func (s *Service) ReversePosting(ctx context.Context, tenantID engine.TenantID, actor, groupID, reason string) ([]engine.LedgerEntry, error) {
	var entries []engine.LedgerEntry
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		entries, err = engine.NewLedger(st).Reverse(ctx, tenantID, groupID, actor, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) mustGet(ctx context.Context, st Store, tenantID engine.TenantID, documentID string) (*CountDocument, error) {
	doc, err := st.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrDocumentNotFound, documentID)
	}
	return doc, nil
}

// resolveCurrency picks the explicit currency or falls back to the tenant
// default, and normalizes the supplied rate text.
func (s *Service) resolveCurrency(ctx context.Context, tenantID engine.TenantID, code, rate string) (string, string, error) {
	if code == "" {
		def, err := s.Store.DefaultCurrency(ctx, tenantID)
		if err != nil {
			return "", "", err
		}
		if def == nil {
			return "", "", fmt.Errorf("%w: tenant has no default currency", engine.ErrCurrencyNotFound)
		}
		return def.Code, "1", nil
	}

	currency, err := s.Store.GetCurrency(ctx, tenantID, code)
	if err != nil {
		return "", "", err
	}
	if currency == nil {
		return "", "", fmt.Errorf("%w: %s", engine.ErrCurrencyNotFound, code)
	}
	if rate == "" {
		rate = "1"
	}
	return currency.Code, rate, nil
}

// resolvedAccounts keeps the four validated posting accounts together.
type resolvedAccounts struct {
	inboundVariance  *Account
	inboundOffset    *Account
	outboundVariance *Account
	outboundOffset   *Account
}

// resolveAccounts checks that all four posting accounts are set and
// resolve to existing, not-deleted accounts. Error messages name the role
// so the failure is actionable without internal identifiers.
func (s *Service) resolveAccounts(ctx context.Context, st Store, tenantID engine.TenantID, doc *CountDocument) (*resolvedAccounts, error) {
	resolve := func(role, id string) (*Account, error) {
		if id == "" {
			return nil, &engine.ValidationError{Field: role, Reason: "posting account is not set"}
		}
		account, err := st.GetAccount(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if account == nil || account.Deleted {
			return nil, fmt.Errorf("%w: %s account", engine.ErrAccountNotFound, role)
		}
		return account, nil
	}

	var r resolvedAccounts
	var err error
	if r.inboundVariance, err = resolve("inbound variance", doc.InboundVarianceAccountID); err != nil {
		return nil, err
	}
	if r.inboundOffset, err = resolve("inbound offset", doc.InboundOffsetAccountID); err != nil {
		return nil, err
	}
	if r.outboundVariance, err = resolve("outbound variance", doc.OutboundVarianceAccountID); err != nil {
		return nil, err
	}
	if r.outboundOffset, err = resolve("outbound offset", doc.OutboundOffsetAccountID); err != nil {
		return nil, err
	}
	return &r, nil
}

// buildLines validates line inputs and computes the advisory draft-time
// valuation from the client-supplied quantities.
func (s *Service) buildLines(ctx context.Context, tenantID engine.TenantID, doc *CountDocument, inputs []LineInput) ([]CountLine, error) {
	headerRate := engine.SanitizeRate(doc.ExchangeRate, decimal.NewFromInt(1))

	lines := make([]CountLine, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID == "" {
			return nil, &engine.ValidationError{Field: "product_id", Reason: "line is missing a product"}
		}
		if in.CountedQuantity.IsNegative() {
			return nil, &engine.ValidationError{Field: "counted_quantity", Reason: "cannot be negative"}
		}
		product, err := s.Store.GetProduct(ctx, tenantID, in.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil || product.Deleted {
			return nil, fmt.Errorf("%w: %s", engine.ErrProductNotFound, in.ProductID)
		}

		rate := headerRate
		if in.ExchangeRate != "" {
			rate = engine.SanitizeRate(in.ExchangeRate, headerRate)
		}

		v := engine.Valuate(engine.ValuationInput{
			CurrentQuantity: in.CurrentQuantity,
			CountedQuantity: in.CountedQuantity,
			UnitCost:        in.UnitCost,
			UnitAverageCost: in.UnitAverageCost,
			ExchangeRate:    rate,
		}).Rounded()

		lines = append(lines, CountLine{
			ID:               engine.NewID(),
			DocumentID:       doc.ID,
			ProductID:        in.ProductID,
			CurrentQuantity:  in.CurrentQuantity,
			CountedQuantity:  in.CountedQuantity,
			UnitCost:         in.UnitCost,
			UnitAverageCost:  in.UnitAverageCost,
			ExchangeRate:     in.ExchangeRate,
			BatchNumber:      in.BatchNumber,
			ExpiryDate:       in.ExpiryDate,
			SerialNumbers:    in.SerialNumbers,
			AdjustmentIn:     v.AdjustmentIn,
			AdjustmentOut:    v.AdjustmentOut,
			DeltaQuantity:    v.DeltaQuantity,
			DeltaValue:       v.DeltaValue,
			NewStock:         v.NewStock,
			TotalValue:       v.TotalValue,
			EquivalentAmount: v.EquivalentAmount,
		})
	}
	return lines, nil
}

func (s *Service) recomputeTotals(doc *CountDocument) {
	total := decimal.Zero
	for _, line := range doc.Lines {
		total = total.Add(line.TotalValue)
	}
	doc.ItemCount = len(doc.Lines)
	doc.TotalValue = total
}
