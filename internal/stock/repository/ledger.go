package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/pkg/database"
	"github.com/agrolink/agrolink-backend/pkg/errors"
)

// ledgerRow is the persistence shape of a stock ledger. The lot list,
// settings, analytics and alert log live in JSONB columns; the summary
// fields are broken out into scalar columns so listings and dashboard
// queries never have to unpack the documents.
type ledgerRow struct {
	ID                string          `db:"id"`
	VendorID          string          `db:"vendor_id"`
	ProductID         string          `db:"product_id"`
	Status            string          `db:"status"`
	TotalQuantity     decimal.Decimal `db:"total_quantity"`
	Unit              string          `db:"unit"`
	AverageLandedCost decimal.Decimal `db:"average_landed_cost"`
	TotalValue        decimal.Decimal `db:"total_value"`
	Lots              []byte          `db:"lots"`
	Settings          []byte          `db:"settings"`
	Analytics         []byte          `db:"analytics"`
	Alerts            []byte          `db:"alerts"`
	LastStockUpdateAt time.Time       `db:"last_stock_update_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func toRow(ledger *domain.StockLedger) (*ledgerRow, error) {
	lots, err := json.Marshal(ledger.Lots)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lots: %w", err)
	}
	settings, err := json.Marshal(ledger.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	analytics, err := json.Marshal(ledger.Analytics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analytics: %w", err)
	}
	alerts, err := json.Marshal(ledger.Alerts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alerts: %w", err)
	}

	return &ledgerRow{
		ID:                ledger.ID,
		VendorID:          ledger.VendorID,
		ProductID:         ledger.ProductID,
		Status:            string(ledger.Status),
		TotalQuantity:     ledger.CurrentStock.TotalQuantity,
		Unit:              ledger.CurrentStock.Unit,
		AverageLandedCost: ledger.CurrentStock.AverageLandedCost,
		TotalValue:        ledger.CurrentStock.TotalValue,
		Lots:              lots,
		Settings:          settings,
		Analytics:         analytics,
		Alerts:            alerts,
		LastStockUpdateAt: ledger.LastStockUpdateAt,
		CreatedAt:         ledger.CreatedAt,
		UpdatedAt:         ledger.UpdatedAt,
	}, nil
}

func (r *ledgerRow) toDomain() (*domain.StockLedger, error) {
	ledger := &domain.StockLedger{
		ID:        r.ID,
		VendorID:  r.VendorID,
		ProductID: r.ProductID,
		Status:    domain.LedgerStatus(r.Status),
		CurrentStock: domain.CurrentStock{
			TotalQuantity:     r.TotalQuantity,
			Unit:              r.Unit,
			AverageLandedCost: r.AverageLandedCost,
			TotalValue:        r.TotalValue,
		},
		LastStockUpdateAt: r.LastStockUpdateAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}

	if err := json.Unmarshal(r.Lots, &ledger.Lots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lots: %w", err)
	}
	if err := json.Unmarshal(r.Settings, &ledger.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(r.Analytics, &ledger.Analytics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analytics: %w", err)
	}
	if err := json.Unmarshal(r.Alerts, &ledger.Alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	return ledger, nil
}

// LedgerRepository handles stock ledger persistence
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, vendor_id, product_id, status, total_quantity, unit,
	average_landed_cost, total_value, lots, settings, analytics, alerts,
	last_stock_update_at, created_at, updated_at`

// Create inserts a new ledger inside the command transaction. The unique
// constraint on (vendor_id, product_id) guarantees one ledger per pair; a
// duplicate insert surfaces as a conflict error.
func (r *LedgerRepository) Create(ctx context.Context, tx *sqlx.Tx, ledger *domain.StockLedger) error {
	row, err := toRow(ledger)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stock_ledgers (
			id, vendor_id, product_id, status, total_quantity, unit,
			average_landed_cost, total_value, lots, settings, analytics, alerts,
			last_stock_update_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = tx.ExecContext(ctx, query,
		row.ID, row.VendorID, row.ProductID, row.Status, row.TotalQuantity,
		row.Unit, row.AverageLandedCost, row.TotalValue, row.Lots, row.Settings,
		row.Analytics, row.Alerts, row.LastStockUpdateAt, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a ledger by ID
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.StockLedger, error) {
	var row ledgerRow
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledgers WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock ledger")
		}
		return nil, err
	}
	return row.toDomain()
}

// GetByVendorProduct gets the ledger for a vendor-product pair
func (r *LedgerRepository) GetByVendorProduct(ctx context.Context, vendorID, productID string) (*domain.StockLedger, error) {
	var row ledgerRow
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledgers WHERE vendor_id = $1 AND product_id = $2`
	if err := r.db.GetContext(ctx, &row, query, vendorID, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock ledger")
		}
		return nil, err
	}
	return row.toDomain()
}

// GetForUpdate loads a ledger inside a transaction with a row lock, so that
// concurrent commands against the same ledger serialize on the database.
func (r *LedgerRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*domain.StockLedger, error) {
	var row ledgerRow
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledgers WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock ledger")
		}
		return nil, err
	}
	return row.toDomain()
}

// GetByVendorProductForUpdate loads the pair's ledger with a row lock
func (r *LedgerRepository) GetByVendorProductForUpdate(ctx context.Context, tx *sqlx.Tx, vendorID, productID string) (*domain.StockLedger, error) {
	var row ledgerRow
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledgers WHERE vendor_id = $1 AND product_id = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, vendorID, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock ledger")
		}
		return nil, err
	}
	return row.toDomain()
}

// Update writes the full ledger state back inside the locking transaction
func (r *LedgerRepository) Update(ctx context.Context, tx *sqlx.Tx, ledger *domain.StockLedger) error {
	row, err := toRow(ledger)
	if err != nil {
		return err
	}

	query := `
		UPDATE stock_ledgers SET
			status = $2, total_quantity = $3, unit = $4, average_landed_cost = $5,
			total_value = $6, lots = $7, settings = $8, analytics = $9, alerts = $10,
			last_stock_update_at = $11, updated_at = $12
		WHERE id = $1
	`

	result, err := tx.ExecContext(ctx, query,
		row.ID, row.Status, row.TotalQuantity, row.Unit, row.AverageLandedCost,
		row.TotalValue, row.Lots, row.Settings, row.Analytics, row.Alerts,
		row.LastStockUpdateAt, row.UpdatedAt,
	)
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
		return errors.NotFound("stock ledger")
	}
	return nil
}

// ListFilter narrows a ledger listing
type ListFilter struct {
	VendorID string
	Status   string
	Page     int
	PerPage  int
}

// List lists ledgers with filtering and pagination
func (r *LedgerRepository) List(ctx context.Context, filter ListFilter) ([]*domain.StockLedger, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 20
	}

	where := ` WHERE 1=1`
	args := []interface{}{}
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		where += fmt.Sprintf(` AND vendor_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_ledgers`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + ledgerColumns + ` FROM stock_ledgers` + where +
		` ORDER BY updated_at DESC` +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)

	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	ledgers := make([]*domain.StockLedger, 0, len(rows))
	for i := range rows {
		ledger, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		ledgers = append(ledgers, ledger)
	}
	return ledgers, total, nil
}

// ListIDsAfter returns up to limit ledger IDs greater than afterID in ID
// order. The monitor uses this to walk the whole table in bounded batches.
func (r *LedgerRepository) ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	query := `SELECT id FROM stock_ledgers WHERE id > $1 ORDER BY id LIMIT $2`
	if err := r.db.SelectContext(ctx, &ids, query, afterID, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// StatusCount is one row of the status breakdown
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

// VendorStats aggregates a vendor's ledgers for the dashboard
type VendorStats struct {
	TotalLedgers   int64           `json:"total_ledgers"`
	TotalValue     decimal.Decimal `json:"total_value"`
	StatusCounts   []StatusCount   `json:"status_counts"`
	OpenAlertCount int64           `json:"open_alert_count"`
}

// GetVendorStats computes the dashboard aggregates for one vendor
func (r *LedgerRepository) GetVendorStats(ctx context.Context, vendorID string) (*VendorStats, error) {
	stats := &VendorStats{TotalValue: decimal.Zero}

	var summary struct {
		Total int64           `db:"total"`
		Value decimal.Decimal `db:"value"`
	}
	query := `
		SELECT COUNT(*) AS total, COALESCE(SUM(total_value), 0) AS value
		FROM stock_ledgers WHERE vendor_id = $1
	`
	if err := r.db.GetContext(ctx, &summary, query, vendorID); err != nil {
		return nil, err
	}
	stats.TotalLedgers = summary.Total
	stats.TotalValue = summary.Value

	statusQuery := `
		SELECT status, COUNT(*) AS count
		FROM stock_ledgers WHERE vendor_id = $1
		GROUP BY status ORDER BY status
	`
	if err := r.db.SelectContext(ctx, &stats.StatusCounts, statusQuery, vendorID); err != nil {
		return nil, err
	}

	alertQuery := `
		SELECT COALESCE(SUM(jsonb_array_length(open.alert)), 0) FROM (
			SELECT jsonb_path_query_array(alerts, '$[*] ? (@.is_read == false && !exists(@.resolved_at))') AS alert
			FROM stock_ledgers WHERE vendor_id = $1
		) AS open
	`
	if err := r.db.GetContext(ctx, &stats.OpenAlertCount, alertQuery, vendorID); err != nil {
		return nil, err
	}

	return stats, nil
}
