package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
)

// FixtureFactory builds test data with unique identifiers
type FixtureFactory struct {
	mu  sync.Mutex
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// VendorID returns a unique vendor identifier
func (f *FixtureFactory) VendorID() string {
	return fmt.Sprintf("vendor-%d-%s", f.nextSeq(), uuid.NewString()[:8])
}

// ProductID returns a unique product identifier
func (f *FixtureFactory) ProductID() string {
	return fmt.Sprintf("product-%d-%s", f.nextSeq(), uuid.NewString()[:8])
}

// DefaultSettings returns stock settings usable by most tests
func DefaultSettings() domain.Settings {
	return domain.Settings{
		ReorderLevel:  decimal.NewFromInt(10),
		MaxStockLevel: decimal.NewFromInt(500),
	}
}

// Ledger builds a stock ledger with unique vendor and product IDs
func (f *FixtureFactory) Ledger(opts ...func(*domain.Settings)) *domain.StockLedger {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	ledger, err := domain.NewStockLedger(f.VendorID(), f.ProductID(), settings, time.Now().UTC())
	if err != nil {
		panic(err)
	}
	return ledger
}

// WithReorderLevel overrides the reorder level
func WithReorderLevel(level int64) func(*domain.Settings) {
	return func(s *domain.Settings) {
		s.ReorderLevel = decimal.NewFromInt(level)
	}
}

// WithMaxStockLevel overrides the maximum stock level
func WithMaxStockLevel(level int64) func(*domain.Settings) {
	return func(s *domain.Settings) {
		s.MaxStockLevel = decimal.NewFromInt(level)
	}
}

// LotInput builds purchase lot input with the given quantity and unit cost
func (f *FixtureFactory) LotInput(quantity, unitCost int64, opts ...func(*domain.NewLotInput)) domain.NewLotInput {
	in := domain.NewLotInput{
		AcquisitionDate:  time.Now().UTC(),
		UnitCost:         decimal.NewFromInt(unitCost),
		AcquiredQuantity: decimal.NewFromInt(quantity),
		Unit:             "kg",
		Supplier:         fmt.Sprintf("supplier-%d", f.nextSeq()),
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

// WithAcquisitionDate overrides the lot's acquisition date
func WithAcquisitionDate(date time.Time) func(*domain.NewLotInput) {
	return func(in *domain.NewLotInput) {
		in.AcquisitionDate = date
	}
}

// WithExpiryDate sets the lot's expiry date
func WithExpiryDate(date time.Time) func(*domain.NewLotInput) {
	return func(in *domain.NewLotInput) {
		in.ExpiryDate = &date
	}
}

// WithUnit overrides the lot's unit
func WithUnit(unit string) func(*domain.NewLotInput) {
	return func(in *domain.NewLotInput) {
		in.Unit = unit
	}
}

// WithExtraCosts sets the lot's transport, storage and other costs
func WithExtraCosts(transport, storage, other int64) func(*domain.NewLotInput) {
	return func(in *domain.NewLotInput) {
		in.TransportCost = decimal.NewFromInt(transport)
		in.StorageCost = decimal.NewFromInt(storage)
		in.OtherCost = decimal.NewFromInt(other)
	}
}

// StockedLedger builds a ledger that already holds one lot
func (f *FixtureFactory) StockedLedger(quantity, unitCost int64) *domain.StockLedger {
	ledger := f.Ledger()
	if _, err := ledger.AddLot(f.LotInput(quantity, unitCost), time.Now().UTC()); err != nil {
		panic(err)
	}
	return ledger
}
