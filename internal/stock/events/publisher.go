package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/pkg/logger"
	"github.com/agrolink/agrolink-backend/pkg/messaging"
)

// StockEventPublisher publishes stock ledger events. A nil publisher is a
// no-op, so the service keeps working when RabbitMQ is not configured.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "market-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishPurchaseRecorded publishes a purchase recorded event
func (p *StockEventPublisher) PublishPurchaseRecorded(ctx context.Context, ledger *domain.StockLedger, lot *domain.Lot) {
	if p == nil {
		return
	}

	data := messaging.PurchaseRecordedEvent{
		LedgerID:  ledger.ID,
		VendorID:  ledger.VendorID,
		ProductID: ledger.ProductID,
		BatchID:   lot.BatchID,
		Quantity:  lot.AcquiredQuantity,
		Unit:      lot.Unit,
		UnitCost:  lot.UnitCost,
		Supplier:  lot.Supplier,
	}

	if err := p.publisher.Publish(ctx, messaging.EventPurchaseRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("ledger_id", ledger.ID).Msg("failed to publish purchase recorded event")
	}
}

// PublishSaleRecorded publishes a sale recorded event
func (p *StockEventPublisher) PublishSaleRecorded(ctx context.Context, ledger *domain.StockLedger, result *domain.ConsumeResult, pricePerUnit decimal.Decimal, referenceID string) {
	if p == nil {
		return
	}

	data := messaging.SaleRecordedEvent{
		LedgerID:          ledger.ID,
		VendorID:          ledger.VendorID,
		ProductID:         ledger.ProductID,
		Quantity:          result.Quantity,
		SalePricePerUnit:  pricePerUnit,
		CostOfGoodsSold:   result.CostOfGoodsSold,
		ReferenceID:       referenceID,
		RemainingQuantity: ledger.CurrentStock.TotalQuantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventSaleRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("ledger_id", ledger.ID).Msg("failed to publish sale recorded event")
	}
}

// PublishAdjustmentRecorded publishes an adjustment recorded event
func (p *StockEventPublisher) PublishAdjustmentRecorded(ctx context.Context, ledger *domain.StockLedger, adjType domain.AdjustmentType, quantity decimal.Decimal, reason, batchID string) {
	if p == nil {
		return
	}

	data := messaging.AdjustmentRecordedEvent{
		LedgerID:       ledger.ID,
		VendorID:       ledger.VendorID,
		ProductID:      ledger.ProductID,
		AdjustmentType: string(adjType),
		Quantity:       quantity,
		Reason:         reason,
		BatchID:        batchID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventAdjustmentRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("ledger_id", ledger.ID).Msg("failed to publish adjustment recorded event")
	}
}

// PublishAlertRaised publishes an alert raised event
func (p *StockEventPublisher) PublishAlertRaised(ctx context.Context, ledger *domain.StockLedger, alert *domain.Alert) {
	if p == nil {
		return
	}

	data := messaging.StockAlertEvent{
		LedgerID:     ledger.ID,
		VendorID:     ledger.VendorID,
		ProductID:    ledger.ProductID,
		AlertType:    string(alert.Type),
		Severity:     string(alert.Severity),
		Message:      alert.Message,
		CurrentStock: ledger.CurrentStock.TotalQuantity,
		ReorderLevel: ledger.Settings.ReorderLevel,
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertRaised, data); err != nil {
		p.logger.Error().Err(err).Str("ledger_id", ledger.ID).Str("alert_id", alert.ID).Msg("failed to publish alert raised event")
	}
}

// PublishListingSynced publishes a listing synced event
func (p *StockEventPublisher) PublishListingSynced(ctx context.Context, ledger *domain.StockLedger, listingID string, previous, updated decimal.Decimal, unit string) {
	if p == nil {
		return
	}

	data := messaging.ListingSyncedEvent{
		ListingID:        listingID,
		LedgerID:         ledger.ID,
		PreviousQuantity: previous,
		NewQuantity:      updated,
		Unit:             unit,
	}

	if err := p.publisher.Publish(ctx, messaging.EventListingSynced, data); err != nil {
		p.logger.Error().Err(err).Str("ledger_id", ledger.ID).Str("listing_id", listingID).Msg("failed to publish listing synced event")
	}
}
