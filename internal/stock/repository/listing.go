package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/pkg/database"
	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// SaleListing is the marketplace-facing advertisement of a vendor's product.
// The synchronizer keeps its advertised quantity within the ledger's
// sellable stock.
type SaleListing struct {
	ID                 string          `db:"id" json:"id"`
	VendorID           string          `db:"vendor_id" json:"vendor_id"`
	ProductID          string          `db:"product_id" json:"product_id"`
	AdvertisedQuantity decimal.Decimal `db:"advertised_quantity" json:"advertised_quantity"`
	Unit               string          `db:"unit" json:"unit"`
	PricePerUnit       decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// ListingRepository handles sale listing persistence
type ListingRepository struct {
	db *database.DB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *database.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetByVendorProduct gets the active listing for a vendor-product pair
func (r *ListingRepository) GetByVendorProduct(ctx context.Context, vendorID, productID string) (*SaleListing, error) {
	var listing SaleListing
	query := `
		SELECT id, vendor_id, product_id, advertised_quantity, unit, price_per_unit,
		       is_active, created_at, updated_at
		FROM sale_listings WHERE vendor_id = $1 AND product_id = $2 AND is_active = true
	`
	if err := r.db.GetContext(ctx, &listing, query, vendorID, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("sale listing")
		}
		return nil, err
	}
	return &listing, nil
}

// GetByVendorProductForUpdate locks and loads the pair's active listing
// inside the command transaction, so the listing sync happens atomically
// with the stock change.
func (r *ListingRepository) GetByVendorProductForUpdate(ctx context.Context, tx *sqlx.Tx, vendorID, productID string) (*SaleListing, error) {
	var listing SaleListing
	query := `
		SELECT id, vendor_id, product_id, advertised_quantity, unit, price_per_unit,
		       is_active, created_at, updated_at
		FROM sale_listings WHERE vendor_id = $1 AND product_id = $2 AND is_active = true
		FOR UPDATE
	`
	if err := tx.GetContext(ctx, &listing, query, vendorID, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("sale listing")
		}
		return nil, err
	}
	return &listing, nil
}

// SetAdvertised updates the listing's advertised quantity and unit inside the
// command transaction
func (r *ListingRepository) SetAdvertised(ctx context.Context, tx *sqlx.Tx, id string, quantity decimal.Decimal, unit string, now time.Time) error {
	query := `UPDATE sale_listings SET advertised_quantity = $2, unit = $3, updated_at = $4 WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, quantity, unit, now)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound("sale listing")
	}
	return nil
}
