package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/pkg/database"
)

// StockNotification records one alert notification sent to a vendor. The
// monitor consults this log to avoid re-notifying the same condition within
// its notification window.
type StockNotification struct {
	ID           string          `db:"id" json:"id"`
	LedgerID     string          `db:"ledger_id" json:"ledger_id"`
	VendorID     string          `db:"vendor_id" json:"vendor_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	AlertType    string          `db:"alert_type" json:"alert_type"`
	Severity     string          `db:"severity" json:"severity"`
	Message      string          `db:"message" json:"message"`
	CurrentStock decimal.Decimal `db:"current_stock" json:"current_stock"`
	ReorderLevel decimal.Decimal `db:"reorder_level" json:"reorder_level"`
	SentAt       time.Time       `db:"sent_at" json:"sent_at"`
}

// NotificationRepository handles the sent-notification log
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// ExistsSince reports whether a notification of the given type was already
// sent for the ledger at or after the cutoff
func (r *NotificationRepository) ExistsSince(ctx context.Context, ledgerID, alertType string, cutoff time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stock_notifications
			WHERE ledger_id = $1 AND alert_type = $2 AND sent_at >= $3
		)
	`
	if err := r.db.GetContext(ctx, &exists, query, ledgerID, alertType, cutoff); err != nil {
		return false, err
	}
	return exists, nil
}

// Record appends a sent notification
func (r *NotificationRepository) Record(ctx context.Context, n *StockNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_notifications (
			id, ledger_id, vendor_id, product_id, alert_type, severity, message,
			current_stock, reorder_level, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.LedgerID, n.VendorID, n.ProductID, n.AlertType, n.Severity,
		n.Message, n.CurrentStock, n.ReorderLevel, n.SentAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// ListByVendor returns a vendor's recent notifications, newest first
func (r *NotificationRepository) ListByVendor(ctx context.Context, vendorID string, limit int) ([]*StockNotification, error) {
	if limit < 1 {
		limit = 50
	}

	var notifications []*StockNotification
	query := `
		SELECT id, ledger_id, vendor_id, product_id, alert_type, severity, message,
		       current_stock, reorder_level, sent_at
		FROM stock_notifications WHERE vendor_id = $1
		ORDER BY sent_at DESC LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &notifications, query, vendorID, limit); err != nil {
		return nil, err
	}
	return notifications, nil
}
