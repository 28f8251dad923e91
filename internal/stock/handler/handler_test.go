package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolink/agrolink-backend/internal/stock/handler"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/logger"
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

// newRouter builds the stock API route tree the way the service binary does
func newRouter(s *testutil.IntegrationSuite) http.Handler {
	log := logger.New("test", "test")
	svc := service.NewStockService(
		s.DB,
		repository.NewLedgerRepository(s.DB),
		repository.NewListingRepository(s.DB),
		nil,
		log,
	)

	ledgerHandler := handler.NewLedgerHandler(svc, log)
	alertHandler := handler.NewAlertHandler(svc, log)
	listingHandler := handler.NewListingHandler(svc, log)
	dashboardHandler := handler.NewDashboardHandler(svc, log)

	r := chi.NewRouter()
	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/ledgers", func(r chi.Router) {
			r.Get("/", ledgerHandler.List)
			r.Post("/", ledgerHandler.Create)
			r.Get("/{id}", ledgerHandler.Get)
			r.Post("/{id}/sales", ledgerHandler.RecordSale)
			r.Post("/{id}/adjustments", ledgerHandler.RecordAdjustment)
			r.Put("/{id}/settings", ledgerHandler.UpdateSettings)
			r.Post("/{id}/alerts/scan", alertHandler.Scan)
			r.Put("/{id}/alerts/{alertID}/read", alertHandler.MarkRead)
			r.Put("/{id}/alerts/{alertID}/resolve", alertHandler.Resolve)
		})
		r.Post("/alerts/scan", alertHandler.ScanAll)
		r.Route("/listings", func(r chi.Router) {
			r.Get("/{id}/health", listingHandler.Health)
			r.Post("/{id}/sync", listingHandler.Sync)
		})
		r.Get("/dashboard/stats", dashboardHandler.GetStats)
	})
	return r
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Page       int   `json:"page"`
		PerPage    int   `json:"per_page"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"total_pages"`
	} `json:"meta"`
}

type ledgerPayload struct {
	ID       string `json:"id"`
	VendorID string `json:"vendor_id"`
	Status   string `json:"status"`
	Lots     []struct {
		BatchID string `json:"batch_id"`
		Status  string `json:"status"`
	} `json:"lots"`
	CurrentStock struct {
		TotalQuantity string `json:"total_quantity"`
	} `json:"current_stock"`
	Settings struct {
		ReorderLevel       string `json:"reorder_level"`
		AutoReorderEnabled bool   `json:"auto_reorder_enabled"`
		ReorderQuantity    string `json:"reorder_quantity"`
	} `json:"settings"`
	Alerts []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"alerts"`
}

func purchaseBody(vendorID, productID string, quantity int64) map[string]interface{} {
	return map[string]interface{}{
		"vendor_id":  vendorID,
		"product_id": productID,
		"quantity":   quantity,
		"unit":       "kg",
		"unit_cost":  2,
	}
}

func recordPurchase(t *testing.T, router http.Handler, vendorID, productID string, quantity int64) ledgerPayload {
	t.Helper()

	req := testutil.NewHTTPRequest(http.MethodPost, "/api/v1/stock/ledgers",
		purchaseBody(vendorID, productID, quantity))
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)

	var created struct {
		Ledger ledgerPayload `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	return created.Ledger
}

func TestLedgerEndpoints_PurchaseAndGet(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	vendorID := s.Fixtures.VendorID()
	ledger := recordPurchase(t, router, vendorID, s.Fixtures.ProductID(), 100)
	assert.Equal(t, vendorID, ledger.VendorID)
	assert.Equal(t, "active", ledger.Status)
	require.Len(t, ledger.Lots, 1)

	req := testutil.NewHTTPRequest(http.MethodGet, "/api/v1/stock/ledgers/"+ledger.ID, nil)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, ledger.ID)
}

func TestLedgerEndpoints_CreateValidation(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	req := testutil.NewHTTPRequest(http.MethodPost, "/api/v1/stock/ledgers",
		map[string]interface{}{"vendor_id": s.Fixtures.VendorID()})
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}

func TestLedgerEndpoints_SaleFlow(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	ledger := recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 100)

	req := testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/sales",
		map[string]interface{}{
			"quantity":            60,
			"sale_price_per_unit": 5,
			"reference_id":        "order-9",
		})
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)

	var sale struct {
		Ledger ledgerPayload `json:"ledger"`
		Sale   struct {
			Revenue         string `json:"revenue"`
			CostOfGoodsSold string `json:"cost_of_goods_sold"`
		} `json:"sale"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &sale))
	assert.Equal(t, "40", sale.Ledger.CurrentStock.TotalQuantity)
	assert.Equal(t, "300", sale.Sale.Revenue)
	assert.Equal(t, "120", sale.Sale.CostOfGoodsSold)

	// asking for more than remains is a conflict, not a server error
	req = testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/sales",
		map[string]interface{}{
			"quantity":            50,
			"sale_price_per_unit": 5,
		})
	rr = testutil.ExecuteRequest(router, req)
	assert.NotEqual(t, http.StatusInternalServerError, rr.Code)
	assert.GreaterOrEqual(t, rr.Code, http.StatusBadRequest)
}

func TestLedgerEndpoints_Adjustment(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	ledger := recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 50)

	req := testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/adjustments",
		map[string]interface{}{
			"type":     "wastage",
			"quantity": 10,
			"reason":   "spoiled",
		})
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	var updated ledgerPayload
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "40", updated.CurrentStock.TotalQuantity)

	// unknown adjustment type fails validation
	req = testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/adjustments",
		map[string]interface{}{
			"type":     "shrinkage",
			"quantity": 1,
			"reason":   "mystery",
		})
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestLedgerEndpoints_ListAndFilter(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	vendorID := s.Fixtures.VendorID()
	recordPurchase(t, router, vendorID, s.Fixtures.ProductID(), 100)
	recordPurchase(t, router, vendorID, s.Fixtures.ProductID(), 100)
	recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 100)

	req := testutil.NewHTTPRequest(http.MethodGet,
		"/api/v1/stock/ledgers?vendor_id="+vendorID, nil)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)
}

func TestLedgerEndpoints_SettingsAndAlerts(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	ledger := recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 100)

	// raising the reorder level above current stock flips the status
	req := testutil.NewHTTPRequest(http.MethodPut,
		"/api/v1/stock/ledgers/"+ledger.ID+"/settings",
		map[string]interface{}{
			"reorder_level":        150,
			"max_stock_level":      400,
			"auto_reorder_enabled": true,
			"reorder_quantity":     60,
		})
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	var updated ledgerPayload
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "low_stock", updated.Status)
	assert.True(t, updated.Settings.AutoReorderEnabled)
	assert.Equal(t, "60", updated.Settings.ReorderQuantity)

	req = testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/alerts/scan", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "low_stock")

	// read then resolve the raised alert
	getReq := testutil.NewHTTPRequest(http.MethodGet, "/api/v1/stock/ledgers/"+ledger.ID, nil)
	getRR := testutil.ExecuteRequest(router, getReq)
	testutil.ParseJSONBody(t, getRR, &resp)
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	require.NotEmpty(t, updated.Alerts)
	alertID := updated.Alerts[0].ID

	req = testutil.NewHTTPRequest(http.MethodPut,
		"/api/v1/stock/ledgers/"+ledger.ID+"/alerts/"+alertID+"/read", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	req = testutil.NewHTTPRequest(http.MethodPut,
		"/api/v1/stock/ledgers/"+ledger.ID+"/alerts/"+alertID+"/resolve", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	req = testutil.NewHTTPRequest(http.MethodPut,
		"/api/v1/stock/ledgers/"+ledger.ID+"/alerts/missing/read", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestAlertEndpoints_ScanAll(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	ledger := recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 100)
	other := recordPurchase(t, router, s.Fixtures.VendorID(), s.Fixtures.ProductID(), 100)

	// drain the first ledger so the sweep has something to raise; the second
	// gets a small recent sale and stays healthy
	req := testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+ledger.ID+"/sales",
		map[string]interface{}{
			"quantity":            95,
			"sale_price_per_unit": 5,
		})
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	req = testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/ledgers/"+other.ID+"/sales",
		map[string]interface{}{
			"quantity":            5,
			"sale_price_per_unit": 5,
		})
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	req = testutil.NewHTTPRequest(http.MethodPost, "/api/v1/stock/alerts/scan", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	var report struct {
		Scanned int `json:"scanned"`
		Failed  int `json:"failed"`
		Raised  []struct {
			Type string `json:"type"`
		} `json:"raised"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Raised, 1)
	assert.Equal(t, "low_stock", report.Raised[0].Type)
}

func TestListingEndpoints_HealthAndSync(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	vendorID := s.Fixtures.VendorID()
	productID := s.Fixtures.ProductID()
	ledger := recordPurchase(t, router, vendorID, productID, 30)

	_, err := s.RawDB.Exec(`
		INSERT INTO sale_listings (id, vendor_id, product_id, advertised_quantity, unit, price_per_unit, is_active)
		VALUES ('11111111-1111-1111-1111-111111111111', $1, $2, 50, 'kg', 4.50, true)
	`, vendorID, productID)
	require.NoError(t, err)

	req := testutil.NewHTTPRequest(http.MethodGet,
		"/api/v1/stock/listings/"+ledger.ID+"/health", nil)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "overselling_risk")

	req = testutil.NewHTTPRequest(http.MethodPost,
		"/api/v1/stock/listings/"+ledger.ID+"/sync", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp apiResponse
	testutil.ParseJSONBody(t, rr, &resp)
	var report struct {
		Synced  bool   `json:"synced"`
		Updated string `json:"updated_quantity"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.True(t, report.Synced)
	assert.Equal(t, "30", report.Updated)
}

func TestDashboardEndpoint_Stats(t *testing.T) {
	s := setupSuite(t)
	s.Reset(t, context.Background())
	router := newRouter(s)

	vendorID := s.Fixtures.VendorID()
	recordPurchase(t, router, vendorID, s.Fixtures.ProductID(), 100)

	req := testutil.NewHTTPRequest(http.MethodGet,
		"/api/v1/stock/dashboard/stats?vendor_id="+vendorID, nil)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "total_ledgers")

	req = testutil.NewHTTPRequest(http.MethodGet, "/api/v1/stock/dashboard/stats", nil)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
