/*
stock.go - Stock record and sub-ledger mutation

PURPOSE:
  Applies an approved count line to the authoritative stock record and to
  the serialized-unit and lot sub-ledgers. The count OVERWRITES the stock
  quantity - it is a statement of physical truth, not an adjustment.

SUB-LEDGER ALLOCATION:
  When serial numbers are supplied for a serial-tracked product, the
  counted quantity is split evenly across them (DistributeEvenly). The
  split is best-effort: nothing guarantees serial/lot quantities sum
  exactly to the stock record afterwards, and the workflow deliberately
  does not enforce it.

SEE ALSO:
  - workflow.go: calls applyCount inside the approval transaction
*/
package stocktake

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stocktake-engine/engine"
)

// =============================================================================
// EVEN DISTRIBUTION - Pure allocation function
// =============================================================================

// DistributeEvenly splits total across n discriminators. Each share is
// total/n rounded to 4 dp; the last discriminator absorbs the rounding
// remainder so the shares always sum exactly to total. Returns one share
// per discriminator, in input order.
func DistributeEvenly(total decimal.Decimal, discriminators []string) []decimal.Decimal {
	n := len(discriminators)
	if n == 0 {
		return nil
	}

	shares := make([]decimal.Decimal, n)
	per := total.Div(decimal.NewFromInt(int64(n))).Round(4)

	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = per
		allocated = allocated.Add(per)
	}
	shares[n-1] = total.Sub(allocated)
	return shares
}

// =============================================================================
// COUNT APPLICATION
// =============================================================================

// applyCount overwrites the stock record with the counted quantity and
// updates the serial and lot sub-ledgers for one line. Runs inside the
// approval transaction; any error aborts the whole approval.
func applyCount(ctx context.Context, store Store, product *Product, warehouseID string, line CountLine, now time.Time) error {
	tenantID := product.TenantID

	rec, err := store.GetStockRecord(ctx, tenantID, product.ID, warehouseID)
	if err != nil {
		return err
	}
	if rec == nil {
		// Lazily created on first reference.
		rec = &StockRecord{
			TenantID:    tenantID,
			ProductID:   product.ID,
			WarehouseID: warehouseID,
			AverageCost: line.UnitAverageCost,
		}
	}
	rec.Quantity = line.CountedQuantity
	rec.LastUpdated = now
	if err := store.UpsertStockRecord(ctx, *rec); err != nil {
		return err
	}

	if product.SerialTracked && len(line.SerialNumbers) > 0 {
		if err := applySerials(ctx, store, tenantID, product.ID, warehouseID, line, now); err != nil {
			return err
		}
	}

	if line.ExpiryDate != nil {
		if err := applyLot(ctx, store, tenantID, product.ID, warehouseID, line, now); err != nil {
			return err
		}
	}

	return nil
}

// applySerials distributes the counted quantity across the supplied serial
// numbers, creating missing units as active and adjusting existing ones'
// running totals. A unit that ends at or below zero transitions to sold.
func applySerials(ctx context.Context, store Store, tenantID engine.TenantID, productID, warehouseID string, line CountLine, now time.Time) error {
	shares := DistributeEvenly(line.CountedQuantity, line.SerialNumbers)

	for i, serial := range line.SerialNumbers {
		share := shares[i]

		unit, err := store.GetSerialUnit(ctx, tenantID, productID, warehouseID, serial)
		if err != nil {
			return err
		}
		if unit == nil {
			unit = &SerialUnit{
				TenantID:      tenantID,
				ProductID:     productID,
				WarehouseID:   warehouseID,
				SerialNumber:  serial,
				ReceivedTotal: share,
			}
		} else {
			unit.AdjustedTotal = unit.AdjustedTotal.Add(share.Sub(unit.Quantity))
		}
		unit.Quantity = share
		unit.Status = UnitActive
		if !share.IsPositive() {
			unit.Status = UnitSold
		}
		unit.LastUpdated = now

		if err := store.UpsertSerialUnit(ctx, *unit); err != nil {
			return err
		}
	}
	return nil
}

// applyLot upserts the lot record keyed by batch number + expiry day and
// recomputes the expiry flags at write time.
func applyLot(ctx context.Context, store Store, tenantID engine.TenantID, productID, warehouseID string, line CountLine, now time.Time) error {
	expiryDay := truncateToDay(*line.ExpiryDate)

	lot, err := store.GetLotRecord(ctx, tenantID, productID, warehouseID, line.BatchNumber, expiryDay)
	if err != nil {
		return err
	}
	if lot == nil {
		lot = &LotRecord{
			TenantID:      tenantID,
			ProductID:     productID,
			WarehouseID:   warehouseID,
			BatchNumber:   line.BatchNumber,
			ExpiryDate:    expiryDay,
			ReceivedTotal: line.CountedQuantity,
		}
	} else {
		lot.AdjustedTotal = lot.AdjustedTotal.Add(line.CountedQuantity.Sub(lot.Quantity))
	}
	lot.Quantity = line.CountedQuantity
	lot.DaysUntilExpiry = daysUntil(expiryDay, now)
	lot.IsExpired = expiryDay.Before(truncateToDay(now))
	lot.LastUpdated = now

	return store.UpsertLotRecord(ctx, *lot)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysUntil(day, now time.Time) int {
	return int(day.Sub(truncateToDay(now)).Hours() / 24)
}
