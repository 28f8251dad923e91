package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Stock ledger events
	EventPurchaseRecorded   = "stock.purchase.recorded"
	EventSaleRecorded       = "stock.sale.recorded"
	EventAdjustmentRecorded = "stock.adjustment.recorded"
	EventAlertRaised        = "stock.alert.raised"
	EventListingSynced      = "stock.listing.synced"

	// Order events consumed from the order service
	EventOrderCompleted = "order.completed"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
	ExchangeOrderEvents = "order.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// PurchaseRecordedEvent is published when a purchase lot is added to a ledger
type PurchaseRecordedEvent struct {
	LedgerID  string          `json:"ledger_id"`
	VendorID  string          `json:"vendor_id"`
	ProductID string          `json:"product_id"`
	BatchID   string          `json:"batch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Supplier  string          `json:"supplier,omitempty"`
}

// SaleRecordedEvent is published after a sale has been consumed from a ledger
type SaleRecordedEvent struct {
	LedgerID          string          `json:"ledger_id"`
	VendorID          string          `json:"vendor_id"`
	ProductID         string          `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	SalePricePerUnit  decimal.Decimal `json:"sale_price_per_unit"`
	CostOfGoodsSold   decimal.Decimal `json:"cost_of_goods_sold"`
	ReferenceID       string          `json:"reference_id,omitempty"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

// AdjustmentRecordedEvent is published after a non-sale stock reduction
type AdjustmentRecordedEvent struct {
	LedgerID       string          `json:"ledger_id"`
	VendorID       string          `json:"vendor_id"`
	ProductID      string          `json:"product_id"`
	AdjustmentType string          `json:"adjustment_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Reason         string          `json:"reason,omitempty"`
	BatchID        string          `json:"batch_id,omitempty"`
}

// StockAlertEvent is handed to the external notifier for each newly raised alert
type StockAlertEvent struct {
	LedgerID     string          `json:"ledger_id"`
	VendorID     string          `json:"vendor_id"`
	ProductID    string          `json:"product_id"`
	AlertType    string          `json:"alert_type"`
	Severity     string          `json:"severity"`
	Message      string          `json:"message"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
}

// ListingSyncedEvent is published when a listing's advertised quantity is reconciled
type ListingSyncedEvent struct {
	ListingID        string          `json:"listing_id"`
	LedgerID         string          `json:"ledger_id"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	Unit             string          `json:"unit"`
}

// OrderCompletedEvent arrives from the order service when a buyer's order is
// fulfilled. The market service consumes it to deduct sold stock.
type OrderCompletedEvent struct {
	OrderID      string          `json:"order_id"`
	VendorID     string          `json:"vendor_id"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}
