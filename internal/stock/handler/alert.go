package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/httputil"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// AlertHandler handles ledger alert endpoints
type AlertHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(svc *service.StockService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		service: svc,
		logger:  log,
	}
}

// Scan derives alerts for one ledger and returns the newly raised ones
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, raised, err := h.service.RunAlertScan(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"raised": raised,
	})
}

// ScanAll walks every ledger and returns the scan report with the newly
// raised alerts
func (h *AlertHandler) ScanAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunAlertScanAll(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// MarkRead flags one of a ledger's alerts as read
func (h *AlertHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alertID := chi.URLParam(r, "alertID")

	if err := h.service.MarkAlertRead(r.Context(), id, alertID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Resolve stamps one of a ledger's alerts as resolved
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alertID := chi.URLParam(r, "alertID")

	if err := h.service.ResolveAlert(r.Context(), id, alertID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
