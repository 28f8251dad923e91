package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotStatus is the lifecycle status of a purchase lot
type LotStatus string

const (
	LotStatusActive  LotStatus = "active"
	LotStatusSoldOut LotStatus = "sold_out"
	LotStatusExpired LotStatus = "expired"
	LotStatusDamaged LotStatus = "damaged"
)

// IsValid reports whether the lot status is a known value
func (s LotStatus) IsValid() bool {
	switch s {
	case LotStatusActive, LotStatusSoldOut, LotStatusExpired, LotStatusDamaged:
		return true
	default:
		return false
	}
}

// Lot is one discrete acquisition of stock. Its acquisition data is fixed at
// creation; only RemainingQuantity and Status change afterwards, and
// RemainingQuantity never increases.
type Lot struct {
	BatchID           string          `json:"batch_id"`
	AcquisitionDate   time.Time       `json:"acquisition_date"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	AcquiredQuantity  decimal.Decimal `json:"acquired_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Unit              string          `json:"unit"`
	QualityGrade      string          `json:"quality_grade,omitempty"`
	Supplier          string          `json:"supplier,omitempty"`
	HarvestDate       *time.Time      `json:"harvest_date,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	TransportCost     decimal.Decimal `json:"transport_cost"`
	StorageCost       decimal.Decimal `json:"storage_cost"`
	OtherCost         decimal.Decimal `json:"other_cost"`
	Status            LotStatus       `json:"status"`
}

// NewLotInput carries the caller-supplied fields for a new purchase lot
type NewLotInput struct {
	AcquisitionDate  time.Time
	UnitCost         decimal.Decimal
	AcquiredQuantity decimal.Decimal
	Unit             string
	QualityGrade     string
	Supplier         string
	HarvestDate      *time.Time
	ExpiryDate       *time.Time
	Notes            string
	TransportCost    decimal.Decimal
	StorageCost      decimal.Decimal
	OtherCost        decimal.Decimal
}

// NewLot creates an active lot from purchase input. The batch ID is generated
// here; remaining quantity starts equal to the acquired quantity and a missing
// acquisition date defaults to now.
func NewLot(in NewLotInput, now time.Time) Lot {
	acquired := in.AcquisitionDate
	if acquired.IsZero() {
		acquired = now
	}

	return Lot{
		BatchID:           uuid.New().String(),
		AcquisitionDate:   acquired,
		UnitCost:          in.UnitCost,
		AcquiredQuantity:  in.AcquiredQuantity,
		RemainingQuantity: in.AcquiredQuantity,
		Unit:              in.Unit,
		QualityGrade:      in.QualityGrade,
		Supplier:          in.Supplier,
		HarvestDate:       in.HarvestDate,
		ExpiryDate:        in.ExpiryDate,
		Notes:             in.Notes,
		TransportCost:     in.TransportCost,
		StorageCost:       in.StorageCost,
		OtherCost:         in.OtherCost,
		Status:            LotStatusActive,
	}
}

// LandedCost is the purchase price plus transport, storage and other costs.
// Like UnitCost it is priced for the lot's remaining quantity as a whole;
// the weighted-average computation multiplies it by RemainingQuantity.
func (l *Lot) LandedCost() decimal.Decimal {
	return l.UnitCost.Add(l.TransportCost).Add(l.StorageCost).Add(l.OtherCost)
}

// IsExpired reports whether the lot's expiry date has passed
func (l *Lot) IsExpired(now time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return !l.ExpiryDate.After(now)
}

// take removes qty from the lot, transitioning it to depleted when it hits
// zero. The caller guarantees qty <= RemainingQuantity.
func (l *Lot) take(qty decimal.Decimal, depleted LotStatus) {
	l.RemainingQuantity = l.RemainingQuantity.Sub(qty)
	if l.RemainingQuantity.IsZero() {
		l.Status = depleted
	}
}
