package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// AdjustmentType classifies non-sale stock reductions
type AdjustmentType string

const (
	AdjustmentWastage AdjustmentType = "wastage"
	AdjustmentDamage  AdjustmentType = "damage"
	AdjustmentReturn  AdjustmentType = "return"
)

// IsValid reports whether the adjustment type is a known value
func (t AdjustmentType) IsValid() bool {
	switch t {
	case AdjustmentWastage, AdjustmentDamage, AdjustmentReturn:
		return true
	default:
		return false
	}
}

// movementType maps the adjustment to its movement-history classification.
// Damage has no dedicated movement type and is recorded as an adjustment.
func (t AdjustmentType) movementType() MovementType {
	switch t {
	case AdjustmentWastage:
		return MovementWastage
	case AdjustmentReturn:
		return MovementReturn
	default:
		return MovementAdjustment
	}
}

// depletedStatus is the lot status applied when an adjustment drains a lot to
// zero. Damage marks the lot damaged; wastage and returns mark it sold_out,
// matching the upstream business rules.
func (t AdjustmentType) depletedStatus() LotStatus {
	if t == AdjustmentDamage {
		return LotStatusDamaged
	}
	return LotStatusSoldOut
}

// Adjust removes quantity from the ledger for wastage, damage or a return to
// supplier. When targetBatchID names a lot that still holds enough quantity,
// only that lot is decremented; otherwise the reduction walks the active lots
// oldest-first like a sale. Sale and profit analytics are not touched. The
// availability check happens before any mutation.
func (l *StockLedger) Adjust(adjType AdjustmentType, quantity decimal.Decimal, reason, targetBatchID string, now time.Time) error {
	details := map[string]string{}
	if !adjType.IsValid() {
		details["type"] = "must be one of: wastage, damage, return"
	}
	if !quantity.IsPositive() {
		details["quantity"] = "must be positive"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	if quantity.GreaterThan(l.CurrentStock.TotalQuantity) {
		return errors.InsufficientStock(quantity.String(), l.CurrentStock.TotalQuantity.String())
	}

	targeted := false
	if targetBatchID != "" {
		lot, err := l.LotByBatchID(targetBatchID)
		if err != nil {
			return err
		}
		if lot.Status == LotStatusActive && lot.RemainingQuantity.GreaterThanOrEqual(quantity) {
			lot.take(quantity, adjType.depletedStatus())
			targeted = true
		}
	}
	if !targeted {
		l.takeFIFO(quantity, adjType.depletedStatus())
	}

	l.appendMovement(Movement{
		Type:        adjType.movementType(),
		Quantity:    quantity.Neg(),
		Reason:      reason,
		Timestamp:   now,
		ReferenceID: targetBatchID,
	})

	l.Recompute(now)
	return nil
}
