package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/errors"
	"github.com/agrolink/agrolink-backend/pkg/testutil"
)

var (
	suite     *testutil.IntegrationSuite
	suiteOnce sync.Once
	suiteErr  error
)

func setupSuite(t *testing.T) *testutil.IntegrationSuite {
	t.Helper()
	testutil.SkipIfShort(t)

	suiteOnce.Do(func() {
		suite, suiteErr = testutil.NewIntegrationSuite(context.Background())
	})
	if suiteErr != nil {
		t.Fatalf("failed to set up integration suite: %v", suiteErr)
	}
	return suite
}

func newService(s *testutil.IntegrationSuite) *service.StockService {
	return service.NewStockService(
		s.DB,
		repository.NewLedgerRepository(s.DB),
		repository.NewListingRepository(s.DB),
		nil,
		s.Logger,
	)
}

func createListing(t *testing.T, vendorID, productID string, quantity int64, price, unit string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := suite.RawDB.Exec(`
		INSERT INTO sale_listings (id, vendor_id, product_id, advertised_quantity, unit, price_per_unit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
	`, id, vendorID, productID, quantity, unit, price)
	require.NoError(t, err)
	return id
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestStockService_RecordPurchaseCreatesLedger(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	ledger, lot, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)
	require.NotNil(t, lot)
	assert.True(t, ledger.CurrentStock.TotalQuantity.Equal(dec(100)))
	assert.Equal(t, domain.LedgerStatusActive, ledger.Status)

	// second purchase reuses the same ledger
	again, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(50, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ID, again.ID)
	assert.True(t, again.CurrentStock.TotalQuantity.Equal(dec(150)))
	assert.Len(t, again.Lots, 2)
}

func TestStockService_RecordPurchaseConcurrentFirstPurchase(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	// Both writers race past the not-found check; the loser must retry
	// against the winner's row instead of surfacing the conflict.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.RecordPurchase(ctx, service.RecordPurchaseInput{
				VendorID:  vendorID,
				ProductID: productID,
				Lot:       s.Fixtures.LotInput(10, 2),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	ledger, err := svc.GetLedgerByVendorProduct(ctx, vendorID, productID)
	require.NoError(t, err)
	assert.Len(t, ledger.Lots, 2)
	assert.True(t, ledger.CurrentStock.TotalQuantity.Equal(dec(20)))
}

func TestStockService_RecordPurchaseWithSettings(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	settings := domain.Settings{
		ReorderLevel:  dec(25),
		MaxStockLevel: dec(80),
	}

	ledger, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  s.Fixtures.VendorID(),
		ProductID: s.Fixtures.ProductID(),
		Lot:       s.Fixtures.LotInput(100, 2),
		Settings:  &settings,
	})
	require.NoError(t, err)
	assert.True(t, ledger.Settings.ReorderLevel.Equal(dec(25)))
	assert.Equal(t, domain.LedgerStatusOverstocked, ledger.Status)
}

func TestStockService_RecordSaleConsumesAndClampsListing(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)

	listingID := createListing(t, vendorID, productID, 100, "4.50", "kg")

	ledger, result, err := svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         created.ID,
		Quantity:         dec(60),
		SalePricePerUnit: dec(5),
		ReferenceID:      "order-1",
	})
	require.NoError(t, err)
	assert.True(t, ledger.CurrentStock.TotalQuantity.Equal(dec(40)))
	assert.True(t, result.CostOfGoodsSold.Equal(dec(120)))

	// the listing was advertising 100 but only 40 remain
	listing, err := repository.NewListingRepository(s.DB).GetByVendorProduct(ctx, vendorID, productID)
	require.NoError(t, err)
	assert.Equal(t, listingID, listing.ID)
	assert.True(t, listing.AdvertisedQuantity.Equal(dec(40)))
}

func TestStockService_RecordSaleInsufficientStock(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(10, 2),
	})
	require.NoError(t, err)

	_, _, err = svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         created.ID,
		Quantity:         dec(11),
		SalePricePerUnit: dec(5),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	// the failed sale left nothing behind
	ledger, err := svc.GetLedgerByVendorProduct(ctx, vendorID, productID)
	require.NoError(t, err)
	assert.True(t, ledger.CurrentStock.TotalQuantity.Equal(dec(10)))
	assert.Len(t, ledger.Analytics.Movements, 1)
}

func TestStockService_RecordAdjustmentWastage(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(50, 2),
	})
	require.NoError(t, err)

	ledger, err := svc.RecordAdjustment(ctx, service.RecordAdjustmentInput{
		LedgerID: created.ID,
		Type:     domain.AdjustmentWastage,
		Quantity: dec(8),
		Reason:   "spoiled in transit",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, ledger.ID)
	assert.True(t, ledger.CurrentStock.TotalQuantity.Equal(dec(42)))

	movements := ledger.Analytics.Movements
	last := movements[len(movements)-1]
	assert.Equal(t, domain.MovementWastage, last.Type)
	assert.True(t, last.Quantity.Equal(dec(-8)))
}

func TestStockService_RecordAdjustmentTargetedBatch(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, first, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(20, 2),
	})
	require.NoError(t, err)
	_, second, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(20, 3),
	})
	require.NoError(t, err)

	ledger, err := svc.RecordAdjustment(ctx, service.RecordAdjustmentInput{
		LedgerID: created.ID,
		Type:     domain.AdjustmentDamage,
		Quantity: dec(20),
		Reason:   "crate crushed",
		BatchID:  second.BatchID,
	})
	require.NoError(t, err)

	damaged, err := ledger.LotByBatchID(second.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusDamaged, damaged.Status)

	untouched, err := ledger.LotByBatchID(first.BatchID)
	require.NoError(t, err)
	assert.True(t, untouched.RemainingQuantity.Equal(dec(20)))
}

func TestStockService_UpdateSettingsRederivesStatus(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerStatusActive, created.Status)

	ledger, err := svc.UpdateSettings(ctx, created.ID, domain.Settings{
		ReorderLevel:       dec(150),
		MaxStockLevel:      dec(400),
		AutoReorderEnabled: true,
		ReorderQuantity:    dec(50),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerStatusLowStock, ledger.Status)

	// the reorder preferences survive the round trip
	reloaded, err := svc.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Settings.AutoReorderEnabled)
	assert.True(t, reloaded.Settings.ReorderQuantity.Equal(dec(50)))
}

func TestStockService_MarkExpiredLotsClampsListing(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot: s.Fixtures.LotInput(30, 2,
			testutil.WithExpiryDate(time.Now().UTC().Add(-time.Hour))),
	})
	require.NoError(t, err)

	createListing(t, vendorID, productID, 30, "4.50", "kg")

	ledger, marked, err := svc.MarkExpiredLots(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.True(t, ledger.CurrentStock.TotalQuantity.IsZero())
	assert.Equal(t, domain.LedgerStatusOutOfStock, ledger.Status)

	listing, err := repository.NewListingRepository(s.DB).GetByVendorProduct(ctx, vendorID, productID)
	require.NoError(t, err)
	assert.True(t, listing.AdvertisedQuantity.IsZero())

	// nothing left to mark on the second pass
	_, marked, err = svc.MarkExpiredLots(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestStockService_AlertScanAndLifecycle(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)

	_, _, err = svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         created.ID,
		Quantity:         dec(95),
		SalePricePerUnit: dec(5),
	})
	require.NoError(t, err)

	ledger, raised, err := svc.RunAlertScan(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertLowStock, raised[0].Type)

	// the open alert suppresses a repeat scan
	_, raised, err = svc.RunAlertScan(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, raised)

	alertID := ledger.Alerts[0].ID
	require.NoError(t, svc.MarkAlertRead(ctx, created.ID, alertID))
	require.NoError(t, svc.ResolveAlert(ctx, created.ID, alertID))

	reloaded, err := svc.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Alerts[0].IsRead)
	assert.NotNil(t, reloaded.Alerts[0].ResolvedAt)

	err = svc.MarkAlertRead(ctx, created.ID, "no-such-alert")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStockService_CheckListingHealth(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)

	// a listing advertising more than stock, priced below the landed cost
	listingID := createListing(t, vendorID, productID, 150, "1.00", "kg")

	// the margin flag fires on the configured price even before any sale
	health, err := svc.CheckListingHealth(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, listingID, health.ListingID)
	assert.Contains(t, health.Issues, "overselling_risk")
	assert.Contains(t, health.Issues, "low_profit_margin")
	assert.NotContains(t, health.Issues, "low_inventory")

	// repricing well above cost clears the margin flag even though the
	// historical margin is zero after selling at cost
	_, err = s.RawDB.Exec(`UPDATE sale_listings SET price_per_unit = 4.50 WHERE id = $1`, listingID)
	require.NoError(t, err)

	_, _, err = svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         created.ID,
		Quantity:         dec(95),
		SalePricePerUnit: dec(2),
	})
	require.NoError(t, err)

	health, err = svc.CheckListingHealth(ctx, created.ID)
	require.NoError(t, err)
	assert.Contains(t, health.Issues, "low_inventory")
	assert.NotContains(t, health.Issues, "low_profit_margin")
}

func TestStockService_ReconcileListing(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(30, 2),
	})
	require.NoError(t, err)

	listingID := createListing(t, vendorID, productID, 50, "4.50", "kg")

	report, err := svc.ReconcileListing(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, report.Synced)
	assert.Equal(t, listingID, report.ListingID)
	assert.True(t, report.Previous.Equal(dec(50)))
	assert.True(t, report.Updated.Equal(dec(30)))

	// already within bounds, nothing to do
	report, err = svc.ReconcileListing(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, report.Synced)
}

func TestStockService_ReconcileListingRealignsUnit(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()

	created, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  vendorID,
		ProductID: productID,
		Lot:       s.Fixtures.LotInput(30, 2),
	})
	require.NoError(t, err)

	// quantity is within bounds, but the listing unit drifted from the ledger
	createListing(t, vendorID, productID, 20, "4.50", "bag")

	report, err := svc.ReconcileListing(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, report.Synced)
	assert.True(t, report.Updated.Equal(dec(20)))

	listing, err := repository.NewListingRepository(s.DB).GetByVendorProduct(ctx, vendorID, productID)
	require.NoError(t, err)
	assert.Equal(t, "kg", listing.Unit)
}

func TestStockService_RunAlertScanAll(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)

	low, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  s.Fixtures.VendorID(),
		ProductID: s.Fixtures.ProductID(),
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)
	_, _, err = svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         low.ID,
		Quantity:         dec(95),
		SalePricePerUnit: dec(5),
	})
	require.NoError(t, err)

	healthy, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
		VendorID:  s.Fixtures.VendorID(),
		ProductID: s.Fixtures.ProductID(),
		Lot:       s.Fixtures.LotInput(100, 2),
	})
	require.NoError(t, err)
	_, _, err = svc.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         healthy.ID,
		Quantity:         dec(10),
		SalePricePerUnit: dec(5),
	})
	require.NoError(t, err)

	report, err := svc.RunAlertScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Raised, 1)
	assert.Equal(t, domain.AlertLowStock, report.Raised[0].Type)

	// the open alert keeps the second sweep quiet
	report, err = svc.RunAlertScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Empty(t, report.Raised)
}

func TestStockService_ListAndStats(t *testing.T) {
	s := setupSuite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	svc := newService(s)
	vendorID := s.Fixtures.VendorID()

	for i := 0; i < 3; i++ {
		_, _, err := svc.RecordPurchase(ctx, service.RecordPurchaseInput{
			VendorID:  vendorID,
			ProductID: s.Fixtures.ProductID(),
			Lot:       s.Fixtures.LotInput(50, 2),
		})
		require.NoError(t, err)
	}

	ledgers, total, err := svc.ListLedgers(ctx, repository.ListFilter{VendorID: vendorID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, ledgers, 3)

	stats, err := svc.GetVendorStats(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalLedgers)
	assert.True(t, stats.TotalValue.Equal(dec(300)))
}
