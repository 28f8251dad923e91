package handler

import (
	"net/http"

	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/errors"
	"github.com/agrolink/agrolink-backend/pkg/httputil"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// DashboardHandler handles dashboard endpoints
type DashboardHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc *service.StockService, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: svc,
		logger:  log,
	}
}

// GetStats returns a vendor's stock summary
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	vendorID := r.URL.Query().Get("vendor_id")
	if vendorID == "" {
		httputil.Error(w, errors.BadRequest("vendor_id query parameter is required"))
		return
	}

	stats, err := h.service.GetVendorStats(r.Context(), vendorID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}
