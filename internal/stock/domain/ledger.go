package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// LedgerStatus is the derived stock-health classification of a ledger
type LedgerStatus string

const (
	LedgerStatusActive      LedgerStatus = "active"
	LedgerStatusLowStock    LedgerStatus = "low_stock"
	LedgerStatusOutOfStock  LedgerStatus = "out_of_stock"
	LedgerStatusOverstocked LedgerStatus = "overstocked"
	LedgerStatusInactive    LedgerStatus = "inactive"
)

// IsValid reports whether the ledger status is a known value
func (s LedgerStatus) IsValid() bool {
	switch s {
	case LedgerStatusActive, LedgerStatusLowStock, LedgerStatusOutOfStock,
		LedgerStatusOverstocked, LedgerStatusInactive:
		return true
	default:
		return false
	}
}

// MovementType classifies entries in the ledger's movement history
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementWastage    MovementType = "wastage"
	MovementReturn     MovementType = "return"
)

// IsValid reports whether the movement type is a known value
func (m MovementType) IsValid() bool {
	switch m {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementWastage, MovementReturn:
		return true
	default:
		return false
	}
}

// Movement is one append-only entry in the ledger's stock history.
// Quantity is signed: purchases positive, sales and reductions negative.
type Movement struct {
	Type        MovementType    `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

// CurrentStock is the derived summary over the ledger's active lots
type CurrentStock struct {
	TotalQuantity     decimal.Decimal `json:"total_quantity"`
	Unit              string          `json:"unit"`
	AverageLandedCost decimal.Decimal `json:"average_landed_cost"`
	TotalValue        decimal.Decimal `json:"total_value"`
}

// Settings holds the vendor-configured stock thresholds
type Settings struct {
	ReorderLevel       decimal.Decimal `json:"reorder_level"`
	MaxStockLevel      decimal.Decimal `json:"max_stock_level"`
	AutoReorderEnabled bool            `json:"auto_reorder_enabled"`
	ReorderQuantity    decimal.Decimal `json:"reorder_quantity"`
}

// Validate checks the settings invariants
func (s Settings) Validate() error {
	details := map[string]string{}
	if s.ReorderLevel.IsNegative() {
		details["reorder_level"] = "must not be negative"
	}
	if s.MaxStockLevel.LessThan(decimal.NewFromInt(1)) {
		details["max_stock_level"] = "must be at least 1"
	}
	if s.ReorderQuantity.IsNegative() {
		details["reorder_quantity"] = "must not be negative"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Analytics holds the ledger's running cost, profit and turnover figures
type Analytics struct {
	TotalAcquisitionValue decimal.Decimal `json:"total_acquisition_value"`
	TotalSoldValue        decimal.Decimal `json:"total_sold_value"`
	TotalSoldQuantity     decimal.Decimal `json:"total_sold_quantity"`
	AverageSalePrice      decimal.Decimal `json:"average_sale_price"`
	GrossProfit           decimal.Decimal `json:"gross_profit"`
	ProfitMarginPercent   decimal.Decimal `json:"profit_margin_percent"`
	LastSoldAt            *time.Time      `json:"last_sold_at,omitempty"`
	Movements             []Movement      `json:"movements"`
}

// StockLedger is the per-(vendor, product) inventory aggregate. It owns all
// purchase lots for the pair plus the derived summary, settings, analytics,
// health status and alert log. There is exactly one ledger per pair.
type StockLedger struct {
	ID                string       `json:"id"`
	VendorID          string       `json:"vendor_id"`
	ProductID         string       `json:"product_id"`
	Lots              []Lot        `json:"lots"`
	CurrentStock      CurrentStock `json:"current_stock"`
	Settings          Settings     `json:"settings"`
	Analytics         Analytics    `json:"analytics"`
	Status            LedgerStatus `json:"status"`
	Alerts            []Alert      `json:"alerts"`
	LastStockUpdateAt time.Time    `json:"last_stock_update_at"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// NewStockLedger creates a ledger for a vendor-product pair with the given
// settings. The unit is fixed by the first purchase lot.
func NewStockLedger(vendorID, productID string, settings Settings, now time.Time) (*StockLedger, error) {
	details := map[string]string{}
	if vendorID == "" {
		details["vendor_id"] = "this field is required"
	}
	if productID == "" {
		details["product_id"] = "this field is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &StockLedger{
		ID:        uuid.New().String(),
		VendorID:  vendorID,
		ProductID: productID,
		Lots:      []Lot{},
		Settings:  settings,
		Status:    LedgerStatusOutOfStock,
		Alerts:    []Alert{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AddLot validates and appends a purchase lot, records the purchase movement
// and analytics contribution, and recomputes the ledger.
func (l *StockLedger) AddLot(in NewLotInput, now time.Time) (*Lot, error) {
	details := map[string]string{}
	if in.AcquiredQuantity.LessThan(decimal.NewFromInt(1)) {
		details["acquired_quantity"] = "must be at least 1"
	}
	if in.UnitCost.IsNegative() {
		details["unit_cost"] = "must not be negative"
	}
	if in.TransportCost.IsNegative() {
		details["transport_cost"] = "must not be negative"
	}
	if in.StorageCost.IsNegative() {
		details["storage_cost"] = "must not be negative"
	}
	if in.OtherCost.IsNegative() {
		details["other_cost"] = "must not be negative"
	}
	if in.Unit == "" {
		details["unit"] = "this field is required"
	} else if l.CurrentStock.Unit != "" && in.Unit != l.CurrentStock.Unit {
		details["unit"] = fmt.Sprintf("must match the ledger unit %q", l.CurrentStock.Unit)
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	lot := NewLot(in, now)
	l.Lots = append(l.Lots, lot)
	if l.CurrentStock.Unit == "" {
		l.CurrentStock.Unit = in.Unit
	}

	// Lifetime acquisition value grows by the purchase price at purchase time
	l.Analytics.TotalAcquisitionValue = l.Analytics.TotalAcquisitionValue.
		Add(in.UnitCost.Mul(in.AcquiredQuantity))

	l.appendMovement(Movement{
		Type:        MovementPurchase,
		Quantity:    in.AcquiredQuantity,
		Timestamp:   now,
		ReferenceID: lot.BatchID,
	})

	l.Recompute(now)
	return &l.Lots[len(l.Lots)-1], nil
}

// LotByBatchID returns the lot with the given batch ID
func (l *StockLedger) LotByBatchID(batchID string) (*Lot, error) {
	for i := range l.Lots {
		if l.Lots[i].BatchID == batchID {
			return &l.Lots[i], nil
		}
	}
	return nil, errors.NotFound("batch")
}

// activeLots returns pointers to lots whose status is active
func (l *StockLedger) activeLots() []*Lot {
	active := make([]*Lot, 0, len(l.Lots))
	for i := range l.Lots {
		if l.Lots[i].Status == LotStatusActive {
			active = append(active, &l.Lots[i])
		}
	}
	return active
}

// Recompute rebuilds the derived stock summary and health status from the
// active lots. It is deterministic over lot state: recomputing twice on
// unchanged lots yields the same summary and status.
func (l *StockLedger) Recompute(now time.Time) {
	active := l.activeLots()

	total := decimal.Zero
	weighted := decimal.Zero
	for _, lot := range active {
		total = total.Add(lot.RemainingQuantity)
		weighted = weighted.Add(lot.LandedCost().Mul(lot.RemainingQuantity))
	}

	l.CurrentStock.TotalQuantity = total
	if total.IsZero() {
		l.CurrentStock.AverageLandedCost = decimal.Zero
		l.CurrentStock.TotalValue = decimal.Zero
	} else {
		l.CurrentStock.AverageLandedCost = weighted.Div(total)
		l.CurrentStock.TotalValue = l.CurrentStock.AverageLandedCost.Mul(total)
	}

	l.Status = l.deriveStatus(total)
	l.LastStockUpdateAt = now
	l.UpdatedAt = now
}

// deriveStatus classifies stock health. Precedence: out_of_stock beats
// low_stock beats overstocked beats active.
func (l *StockLedger) deriveStatus(total decimal.Decimal) LedgerStatus {
	switch {
	case total.IsZero():
		return LedgerStatusOutOfStock
	case total.LessThanOrEqual(l.Settings.ReorderLevel):
		return LedgerStatusLowStock
	case total.GreaterThanOrEqual(l.Settings.MaxStockLevel):
		return LedgerStatusOverstocked
	default:
		return LedgerStatusActive
	}
}

// UpdateSettings replaces the stock thresholds and re-derives the status
// against them.
func (l *StockLedger) UpdateSettings(settings Settings, now time.Time) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	l.Settings = settings
	l.Recompute(now)
	return nil
}

// MarkExpiredLots transitions active lots past their expiry date to expired.
// Expiry does not zero the remaining quantity; the stock simply leaves the
// sellable pool. Returns the number of lots marked.
func (l *StockLedger) MarkExpiredLots(now time.Time) int {
	marked := 0
	for i := range l.Lots {
		lot := &l.Lots[i]
		if lot.Status != LotStatusActive {
			continue
		}
		if lot.IsExpired(now) && lot.RemainingQuantity.IsPositive() {
			lot.Status = LotStatusExpired
			marked++
		}
	}
	if marked > 0 {
		l.Recompute(now)
	}
	return marked
}

func (l *StockLedger) appendMovement(m Movement) {
	l.Analytics.Movements = append(l.Analytics.Movements, m)
}
