package consumers

import (
	"context"

	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/errors"
	"github.com/agrolink/agrolink-backend/pkg/logger"
	"github.com/agrolink/agrolink-backend/pkg/messaging"
)

// OrderEventConsumer deducts stock when the order service reports a
// fulfilled order
type OrderEventConsumer struct {
	consumer *messaging.Consumer
	stock    *service.StockService
	logger   *logger.Logger
}

// NewOrderEventConsumer creates a new order event consumer
func NewOrderEventConsumer(rmq *messaging.RabbitMQ, stock *service.StockService, log *logger.Logger) (*OrderEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "market-service.order-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeOrderEvents, "order.#"); err != nil {
		return nil, err
	}

	c := &OrderEventConsumer{
		consumer: consumer,
		stock:    stock,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventOrderCompleted, c.handleOrderCompleted)

	return c, nil
}

// Start starts consuming messages
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *OrderEventConsumer) handleOrderCompleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderCompletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("order_id", data.OrderID).
		Str("vendor_id", data.VendorID).
		Str("product_id", data.ProductID).
		Msg("received order completed event")

	ledger, err := c.stock.GetLedgerByVendorProduct(ctx, data.VendorID, data.ProductID)
	if err != nil {
		// An order for a pair without a ledger cannot be reconciled here.
		// Dropping it beats requeueing forever.
		if errors.Is(err, errors.ErrNotFound) {
			c.logger.Warn().
				Str("order_id", data.OrderID).
				Str("vendor_id", data.VendorID).
				Str("product_id", data.ProductID).
				Msg("no stock ledger for completed order")
			return nil
		}
		return err
	}

	_, _, err = c.stock.RecordSale(ctx, service.RecordSaleInput{
		LedgerID:         ledger.ID,
		Quantity:         data.Quantity,
		SalePricePerUnit: data.PricePerUnit,
		ReferenceID:      data.OrderID,
	})
	if err != nil {
		// Overselling reached the ledger after the fact. Surface it loudly
		// but do not requeue; the quantity will never become available.
		if errors.Is(err, errors.ErrInsufficientStock) {
			c.logger.Error().
				Str("order_id", data.OrderID).
				Str("ledger_id", ledger.ID).
				Str("quantity", data.Quantity.String()).
				Msg("completed order exceeds available stock")
			return nil
		}
		return err
	}

	return nil
}
