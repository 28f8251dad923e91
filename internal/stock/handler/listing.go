package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/httputil"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// ListingHandler handles sale listing endpoints. Listings are addressed by
// their ledger ID since the pair has at most one active listing.
type ListingHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewListingHandler creates a new listing handler
func NewListingHandler(svc *service.StockService, log *logger.Logger) *ListingHandler {
	return &ListingHandler{
		service: svc,
		logger:  log,
	}
}

// Health returns the advisory health report for a ledger's listing
func (h *ListingHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	health, err := h.service.CheckListingHealth(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, health)
}

// Sync reconciles a ledger's listing quantity with available stock
func (h *ListingHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.service.ReconcileListing(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
