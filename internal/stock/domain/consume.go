package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// ConsumedLot records how much a single lot contributed to a consumption
type ConsumedLot struct {
	BatchID        string          `json:"batch_id"`
	QuantityTaken  decimal.Decimal `json:"quantity_taken"`
	LandedUnitCost decimal.Decimal `json:"landed_unit_cost"`
}

// ConsumeResult summarises one sale's effect on the ledger
type ConsumeResult struct {
	ConsumedLots    []ConsumedLot   `json:"consumed_lots"`
	Quantity        decimal.Decimal `json:"quantity"`
	Revenue         decimal.Decimal `json:"revenue"`
	CostOfGoodsSold decimal.Decimal `json:"cost_of_goods_sold"`
}

// Consume removes quantity from the ledger's lots for a sale, oldest
// acquisition first. The availability check happens before any mutation, so
// an insufficient-stock failure leaves every lot untouched. On success the
// sale analytics are updated and the ledger recomputed.
func (l *StockLedger) Consume(quantity, salePricePerUnit decimal.Decimal, referenceID string, now time.Time) (*ConsumeResult, error) {
	details := map[string]string{}
	if !quantity.IsPositive() {
		details["quantity"] = "must be positive"
	}
	if salePricePerUnit.IsNegative() {
		details["sale_price_per_unit"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	if quantity.GreaterThan(l.CurrentStock.TotalQuantity) {
		return nil, errors.InsufficientStock(quantity.String(), l.CurrentStock.TotalQuantity.String())
	}

	consumed := l.takeFIFO(quantity, LotStatusSoldOut)

	revenue := salePricePerUnit.Mul(quantity)
	cogs := decimal.Zero
	for _, c := range consumed {
		cogs = cogs.Add(c.LandedUnitCost.Mul(c.QuantityTaken))
	}

	a := &l.Analytics
	a.TotalSoldQuantity = a.TotalSoldQuantity.Add(quantity)
	a.TotalSoldValue = a.TotalSoldValue.Add(revenue)
	a.GrossProfit = a.GrossProfit.Add(revenue.Sub(cogs))
	a.AverageSalePrice = a.TotalSoldValue.Div(a.TotalSoldQuantity)
	if a.TotalSoldValue.IsZero() {
		a.ProfitMarginPercent = decimal.Zero
	} else {
		a.ProfitMarginPercent = a.GrossProfit.Div(a.TotalSoldValue).Mul(decimal.NewFromInt(100))
	}
	soldAt := now
	a.LastSoldAt = &soldAt

	l.appendMovement(Movement{
		Type:        MovementSale,
		Quantity:    quantity.Neg(),
		Timestamp:   now,
		ReferenceID: referenceID,
	})

	l.Recompute(now)

	return &ConsumeResult{
		ConsumedLots:    consumed,
		Quantity:        quantity,
		Revenue:         revenue,
		CostOfGoodsSold: cogs,
	}, nil
}

// takeFIFO walks the active lots oldest-first and drains the requested
// quantity. It sorts a copy of the lot references, never the ledger's own
// slice, so lot ordering in the document is preserved. The caller has already
// verified availability.
func (l *StockLedger) takeFIFO(quantity decimal.Decimal, depleted LotStatus) []ConsumedLot {
	lots := make([]*Lot, 0, len(l.Lots))
	for i := range l.Lots {
		lot := &l.Lots[i]
		if lot.Status == LotStatusActive && lot.RemainingQuantity.IsPositive() {
			lots = append(lots, lot)
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].AcquisitionDate.Before(lots[j].AcquisitionDate)
	})

	var consumed []ConsumedLot
	remaining := quantity
	for _, lot := range lots {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(lot.RemainingQuantity, remaining)
		lot.take(take, depleted)
		remaining = remaining.Sub(take)
		consumed = append(consumed, ConsumedLot{
			BatchID:        lot.BatchID,
			QuantityTaken:  take,
			LandedUnitCost: lot.LandedCost(),
		})
	}
	return consumed
}
