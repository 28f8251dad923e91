package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/httputil"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// LedgerHandler handles stock ledger endpoints
type LedgerHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(svc *service.StockService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: svc,
		logger:  log,
	}
}

type recordPurchaseRequest struct {
	VendorID           string           `json:"vendor_id" validate:"required"`
	ProductID          string           `json:"product_id" validate:"required"`
	Quantity           decimal.Decimal  `json:"quantity" validate:"required"`
	Unit               string           `json:"unit" validate:"required"`
	UnitCost           decimal.Decimal  `json:"unit_cost"`
	AcquisitionDate    *time.Time       `json:"acquisition_date"`
	QualityGrade       string           `json:"quality_grade"`
	Supplier           string           `json:"supplier"`
	HarvestDate        *time.Time       `json:"harvest_date"`
	ExpiryDate         *time.Time       `json:"expiry_date"`
	Notes              string           `json:"notes"`
	TransportCost      decimal.Decimal  `json:"transport_cost"`
	StorageCost        decimal.Decimal  `json:"storage_cost"`
	OtherCost          decimal.Decimal  `json:"other_cost"`
	ReorderLevel       *decimal.Decimal `json:"reorder_level"`
	MaxStockLevel      *decimal.Decimal `json:"max_stock_level"`
	AutoReorderEnabled bool             `json:"auto_reorder_enabled"`
	ReorderQuantity    decimal.Decimal  `json:"reorder_quantity"`
}

// Create records a purchase, creating the vendor-product ledger on first use
func (h *LedgerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req recordPurchaseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	acquired := time.Now().UTC()
	if req.AcquisitionDate != nil {
		acquired = *req.AcquisitionDate
	}

	in := service.RecordPurchaseInput{
		VendorID:  req.VendorID,
		ProductID: req.ProductID,
		Lot: domain.NewLotInput{
			AcquisitionDate:  acquired,
			UnitCost:         req.UnitCost,
			AcquiredQuantity: req.Quantity,
			Unit:             req.Unit,
			QualityGrade:     req.QualityGrade,
			Supplier:         req.Supplier,
			HarvestDate:      req.HarvestDate,
			ExpiryDate:       req.ExpiryDate,
			Notes:            req.Notes,
			TransportCost:    req.TransportCost,
			StorageCost:      req.StorageCost,
			OtherCost:        req.OtherCost,
		},
	}
	if req.ReorderLevel != nil && req.MaxStockLevel != nil {
		in.Settings = &domain.Settings{
			ReorderLevel:       *req.ReorderLevel,
			MaxStockLevel:      *req.MaxStockLevel,
			AutoReorderEnabled: req.AutoReorderEnabled,
			ReorderQuantity:    req.ReorderQuantity,
		}
	}

	ledger, lot, err := h.service.RecordPurchase(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"ledger": ledger,
		"lot":    lot,
	})
}

// List lists ledgers with vendor and status filters
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter := repository.ListFilter{
		VendorID: r.URL.Query().Get("vendor_id"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PerPage:  perPage,
	}

	ledgers, total, err := h.service.ListLedgers(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, ledgers, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Get gets a ledger by ID
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ledger, err := h.service.GetLedger(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ledger)
}

type recordSaleRequest struct {
	Quantity         decimal.Decimal `json:"quantity" validate:"required"`
	SalePricePerUnit decimal.Decimal `json:"sale_price_per_unit" validate:"required"`
	ReferenceID      string          `json:"reference_id"`
}

// RecordSale records a sale against a ledger
func (h *LedgerHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordSaleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	ledger, result, err := h.service.RecordSale(r.Context(), service.RecordSaleInput{
		LedgerID:         id,
		Quantity:         req.Quantity,
		SalePricePerUnit: req.SalePricePerUnit,
		ReferenceID:      req.ReferenceID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"ledger": ledger,
		"sale":   result,
	})
}

type recordAdjustmentRequest struct {
	Type     string          `json:"type" validate:"required,oneof=wastage damage return"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
	Reason   string          `json:"reason" validate:"required"`
	BatchID  string          `json:"batch_id"`
}

// RecordAdjustment removes stock for wastage, damage or a supplier return
func (h *LedgerHandler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordAdjustmentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	ledger, err := h.service.RecordAdjustment(r.Context(), service.RecordAdjustmentInput{
		LedgerID: id,
		Type:     domain.AdjustmentType(req.Type),
		Quantity: req.Quantity,
		Reason:   req.Reason,
		BatchID:  req.BatchID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ledger)
}

type updateSettingsRequest struct {
	ReorderLevel       decimal.Decimal `json:"reorder_level"`
	MaxStockLevel      decimal.Decimal `json:"max_stock_level" validate:"required"`
	AutoReorderEnabled bool            `json:"auto_reorder_enabled"`
	ReorderQuantity    decimal.Decimal `json:"reorder_quantity"`
}

// UpdateSettings replaces a ledger's stock thresholds
func (h *LedgerHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateSettingsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	ledger, err := h.service.UpdateSettings(r.Context(), id, domain.Settings{
		ReorderLevel:       req.ReorderLevel,
		MaxStockLevel:      req.MaxStockLevel,
		AutoReorderEnabled: req.AutoReorderEnabled,
		ReorderQuantity:    req.ReorderQuantity,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ledger)
}
