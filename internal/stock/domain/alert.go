package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertType classifies stock alert conditions
type AlertType string

const (
	AlertLowStock     AlertType = "low_stock"
	AlertOutOfStock   AlertType = "out_of_stock"
	AlertExpiredItems AlertType = "expired_items"
	AlertOverstock    AlertType = "overstock"
	AlertNoMovement   AlertType = "no_movement"
)

// IsValid reports whether the alert type is a known value
func (t AlertType) IsValid() bool {
	switch t {
	case AlertLowStock, AlertOutOfStock, AlertExpiredItems, AlertOverstock, AlertNoMovement:
		return true
	default:
		return false
	}
}

// Severity grades how urgent an alert is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one entry in the ledger's alert log
type Alert struct {
	ID         string     `json:"id"`
	Type       AlertType  `json:"type"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NoMovementWindow is how long a stocked ledger may sit without a sale before
// a no_movement alert fires.
const NoMovementWindow = 30 * 24 * time.Hour

// DeriveAlerts evaluates the alert conditions over the current ledger state
// and merges the hits into the alert log. A condition is suppressed while an
// alert of the same type is still unread and unresolved, so repeated scans do
// not pile up duplicates. Returns exactly the alerts that were newly
// appended.
func (l *StockLedger) DeriveAlerts(now time.Time) []Alert {
	var derived []Alert

	total := l.CurrentStock.TotalQuantity

	if total.LessThanOrEqual(l.Settings.ReorderLevel) {
		severity := SeverityHigh
		if total.IsZero() {
			severity = SeverityCritical
		}
		derived = append(derived, Alert{
			Type:     AlertLowStock,
			Severity: severity,
			Message: fmt.Sprintf("stock is at %s %s (reorder level %s)",
				total.String(), l.CurrentStock.Unit, l.Settings.ReorderLevel.String()),
		})
	}

	if total.GreaterThanOrEqual(l.Settings.MaxStockLevel) {
		derived = append(derived, Alert{
			Type:     AlertOverstock,
			Severity: SeverityMedium,
			Message: fmt.Sprintf("stock is at %s %s, above the maximum level %s",
				total.String(), l.CurrentStock.Unit, l.Settings.MaxStockLevel.String()),
		})
	}

	if expired := l.expiredActiveQuantity(now); expired.IsPositive() {
		derived = append(derived, Alert{
			Type:     AlertExpiredItems,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("%s %s of stock has passed its expiry date",
				expired.String(), l.CurrentStock.Unit),
		})
	}

	if total.IsPositive() && l.noRecentMovement(now) {
		derived = append(derived, Alert{
			Type:     AlertNoMovement,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("no sales recorded in the last %d days", int(NoMovementWindow.Hours()/24)),
		})
	}

	var appended []Alert
	for _, alert := range derived {
		if l.hasOpenAlert(alert.Type) {
			continue
		}
		alert.ID = uuid.New().String()
		alert.CreatedAt = now
		l.Alerts = append(l.Alerts, alert)
		appended = append(appended, alert)
	}
	return appended
}

// expiredActiveQuantity sums the remaining quantity of active lots whose
// expiry date has passed
func (l *StockLedger) expiredActiveQuantity(now time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range l.Lots {
		lot := &l.Lots[i]
		if lot.Status == LotStatusActive && lot.IsExpired(now) && lot.RemainingQuantity.IsPositive() {
			total = total.Add(lot.RemainingQuantity)
		}
	}
	return total
}

func (l *StockLedger) noRecentMovement(now time.Time) bool {
	if l.Analytics.LastSoldAt == nil {
		return true
	}
	return l.Analytics.LastSoldAt.Before(now.Add(-NoMovementWindow))
}

// hasOpenAlert reports whether an alert of the given type is still unread and
// unresolved
func (l *StockLedger) hasOpenAlert(alertType AlertType) bool {
	for i := range l.Alerts {
		a := &l.Alerts[i]
		if a.Type == alertType && !a.IsRead && a.ResolvedAt == nil {
			return true
		}
	}
	return false
}

// AlertByID returns the alert with the given ID, or nil if absent
func (l *StockLedger) AlertByID(alertID string) *Alert {
	for i := range l.Alerts {
		if l.Alerts[i].ID == alertID {
			return &l.Alerts[i]
		}
	}
	return nil
}

// MarkAlertRead flags an alert as read
func (l *StockLedger) MarkAlertRead(alertID string) bool {
	alert := l.AlertByID(alertID)
	if alert == nil {
		return false
	}
	alert.IsRead = true
	return true
}

// ResolveAlert stamps an alert as resolved
func (l *StockLedger) ResolveAlert(alertID string, now time.Time) bool {
	alert := l.AlertByID(alertID)
	if alert == nil {
		return false
	}
	if alert.ResolvedAt == nil {
		resolved := now
		alert.ResolvedAt = &resolved
	}
	return true
}
