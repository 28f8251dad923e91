package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// listingSyncResult describes a reconciliation performed inside a command
// transaction, carried out so the event can be published after commit.
type listingSyncResult struct {
	ListingID string
	Previous  decimal.Decimal
	Updated   decimal.Decimal
	Unit      string
}

// syncListing clamps the pair's advertised quantity down to the ledger's
// sellable stock and realigns the listing unit with the ledger unit. The
// advertised quantity is never raised automatically; putting more stock on
// sale stays a vendor decision. A pair without an active listing is not an
// error. Returns nil when nothing changed.
func (s *StockService) syncListing(ctx context.Context, tx *sqlx.Tx, ledger *domain.StockLedger, now time.Time) (*listingSyncResult, error) {
	listing, err := s.listingRepo.GetByVendorProductForUpdate(ctx, tx, ledger.VendorID, ledger.ProductID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	target := listing.AdvertisedQuantity
	if target.GreaterThan(ledger.CurrentStock.TotalQuantity) {
		target = ledger.CurrentStock.TotalQuantity
	}

	unit := listing.Unit
	if ledger.CurrentStock.Unit != "" {
		unit = ledger.CurrentStock.Unit
	}

	if target.Equal(listing.AdvertisedQuantity) && unit == listing.Unit {
		return nil, nil
	}

	if err := s.listingRepo.SetAdvertised(ctx, tx, listing.ID, target, unit, now); err != nil {
		return nil, err
	}

	return &listingSyncResult{
		ListingID: listing.ID,
		Previous:  listing.AdvertisedQuantity,
		Updated:   target,
		Unit:      unit,
	}, nil
}

func (s *StockService) publishListingSync(ctx context.Context, ledger *domain.StockLedger, sync *listingSyncResult) {
	if sync == nil {
		return
	}

	s.publisher.PublishListingSynced(ctx, ledger, sync.ListingID, sync.Previous, sync.Updated, sync.Unit)

	s.logger.Info().
		Str("ledger_id", ledger.ID).
		Str("listing_id", sync.ListingID).
		Str("previous", sync.Previous.String()).
		Str("updated", sync.Updated.String()).
		Msg("listing quantity reconciled")
}

// ListingSyncReport describes the outcome of an on-demand reconciliation
type ListingSyncReport struct {
	LedgerID  string          `json:"ledger_id"`
	ListingID string          `json:"listing_id,omitempty"`
	Synced    bool            `json:"synced"`
	Previous  decimal.Decimal `json:"previous_quantity"`
	Updated   decimal.Decimal `json:"updated_quantity"`
}

// ReconcileListing clamps the ledger's listing down to available stock on
// demand, outside the usual command flow. Synced is false when the listing
// was already within bounds or the pair has no active listing.
func (s *StockService) ReconcileListing(ctx context.Context, ledgerID string) (*ListingSyncReport, error) {
	var (
		ledger *domain.StockLedger
		sync   *listingSyncResult
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}
		ledger = locked

		sync, err = s.syncListing(ctx, tx, ledger, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishListingSync(ctx, ledger, sync)

	report := &ListingSyncReport{LedgerID: ledger.ID}
	if sync != nil {
		report.ListingID = sync.ListingID
		report.Synced = true
		report.Previous = sync.Previous
		report.Updated = sync.Updated
	}
	return report, nil
}

// ListingHealth is the advisory report for one vendor-product listing
type ListingHealth struct {
	LedgerID           string            `json:"ledger_id"`
	ListingID          string            `json:"listing_id,omitempty"`
	AdvertisedQuantity decimal.Decimal   `json:"advertised_quantity"`
	AvailableQuantity  decimal.Decimal   `json:"available_quantity"`
	Issues             []string          `json:"issues"`
	Details            map[string]string `json:"details,omitempty"`
}

const lowMarginThresholdPercent = 10

// CheckListingHealth inspects the ledger's listing and reports advisory
// issues: overselling risk, low inventory and a thin profit margin. It
// never mutates anything.
func (s *StockService) CheckListingHealth(ctx context.Context, ledgerID string) (*ListingHealth, error) {
	ledger, err := s.ledgerRepo.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	health := &ListingHealth{
		LedgerID:          ledger.ID,
		AvailableQuantity: ledger.CurrentStock.TotalQuantity,
		Issues:            []string{},
		Details:           map[string]string{},
	}

	listing, err := s.listingRepo.GetByVendorProduct(ctx, ledger.VendorID, ledger.ProductID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if listing != nil {
		health.ListingID = listing.ID
		health.AdvertisedQuantity = listing.AdvertisedQuantity

		if listing.AdvertisedQuantity.GreaterThan(ledger.CurrentStock.TotalQuantity) {
			health.Issues = append(health.Issues, "overselling_risk")
			health.Details["overselling_risk"] = "advertised quantity exceeds available stock"
		}

		// Margin is instantaneous: the listing's configured sale price
		// against the current average landed cost, not historical sales.
		if listing.PricePerUnit.IsPositive() {
			margin := listing.PricePerUnit.Sub(ledger.CurrentStock.AverageLandedCost).
				Div(listing.PricePerUnit).Mul(decimal.NewFromInt(100))
			if margin.LessThan(decimal.NewFromInt(lowMarginThresholdPercent)) {
				health.Issues = append(health.Issues, "low_profit_margin")
				health.Details["low_profit_margin"] = "sale price of " + listing.PricePerUnit.String() +
					" yields a margin below " + decimal.NewFromInt(lowMarginThresholdPercent).String() +
					" percent over the landed cost of " + ledger.CurrentStock.AverageLandedCost.String()
			}
		}
	}

	if ledger.Status == domain.LedgerStatusLowStock || ledger.Status == domain.LedgerStatusOutOfStock {
		health.Issues = append(health.Issues, "low_inventory")
		health.Details["low_inventory"] = "stock is at or below the reorder level"
	}

	return health, nil
}
