package service

import (
	"context"
	"time"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/pkg/config"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// ledgerSource lists ledger IDs for the monitor's batched walk
type ledgerSource interface {
	ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error)
}

// ledgerScanner runs the per-ledger maintenance commands
type ledgerScanner interface {
	RunAlertScan(ctx context.Context, ledgerID string) (*domain.StockLedger, []domain.Alert, error)
	MarkExpiredLots(ctx context.Context, ledgerID string) (*domain.StockLedger, int, error)
}

// notificationLog is the sent-notification store used for dedup
type notificationLog interface {
	ExistsSince(ctx context.Context, ledgerID, alertType string, cutoff time.Time) (bool, error)
	Record(ctx context.Context, n *repository.StockNotification) error
}

// Notifier delivers an alert notification to the vendor. Delivery transport
// lives outside this service.
type Notifier interface {
	Notify(ctx context.Context, n *repository.StockNotification) error
}

// LogNotifier writes notifications to the service log. It stands in when no
// delivery transport is wired up.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

// Notify logs the notification
func (n *LogNotifier) Notify(ctx context.Context, notification *repository.StockNotification) error {
	n.logger.Info().
		Str("ledger_id", notification.LedgerID).
		Str("vendor_id", notification.VendorID).
		Str("product_id", notification.ProductID).
		Str("alert_type", notification.AlertType).
		Str("severity", notification.Severity).
		Str("current_stock", notification.CurrentStock.String()).
		Str("reorder_level", notification.ReorderLevel.String()).
		Msg(notification.Message)
	return nil
}

// StockMonitor periodically walks all ledgers, derives alerts, retires
// expired lots and notifies vendors. Repeat notifications for the same
// condition are suppressed within the configured window.
type StockMonitor struct {
	source    ledgerSource
	scanner   ledgerScanner
	log       notificationLog
	notifier  Notifier
	interval  time.Duration
	batchSize int
	window    time.Duration
	logger    *logger.Logger
	clock     func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStockMonitor creates a new stock monitor
func NewStockMonitor(
	source ledgerSource,
	scanner ledgerScanner,
	log notificationLog,
	notifier Notifier,
	cfg config.MonitorConfig,
	logg *logger.Logger,
) *StockMonitor {
	return &StockMonitor{
		source:    source,
		scanner:   scanner,
		log:       log,
		notifier:  notifier,
		interval:  cfg.ScanInterval,
		batchSize: cfg.BatchSize,
		window:    cfg.NotificationWindow,
		logger:    logg,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Start starts the monitor in a background goroutine. The first scan runs
// immediately, then the monitor ticks at its configured interval.
func (m *StockMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.logger.Info().Dur("interval", m.interval).Msg("stock monitor started")

		m.runCycle(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info().Msg("stock monitor stopped")
				return
			case <-ticker.C:
				m.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the monitor goroutine and waits for the current cycle to finish
func (m *StockMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// runCycle walks the whole ledger table in bounded batches. One broken
// ledger never takes down the cycle.
func (m *StockMonitor) runCycle(ctx context.Context) {
	start := m.clock()
	scanned := 0
	failed := 0
	cursor := ""

	for {
		if ctx.Err() != nil {
			return
		}

		ids, err := m.source.ListIDsAfter(ctx, cursor, m.batchSize)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to list ledgers for scan")
			return
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := m.processLedger(ctx, id); err != nil {
				failed++
				m.logger.Error().Err(err).Str("ledger_id", id).Msg("ledger scan failed")
			}
			scanned++
		}
		cursor = ids[len(ids)-1]
	}

	m.logger.Info().
		Dur("duration", time.Since(start)).
		Int("scanned", scanned).
		Int("failed", failed).
		Msg("stock scan cycle completed")
}

// processLedger scans one ledger. Alerts are derived before expired lots are
// retired, so stock sitting past its expiry date raises expired_items on the
// same cycle that removes it from the sellable pool.
func (m *StockMonitor) processLedger(ctx context.Context, id string) error {
	ledger, raised, err := m.scanner.RunAlertScan(ctx, id)
	if err != nil {
		return err
	}

	if _, _, err := m.scanner.MarkExpiredLots(ctx, id); err != nil {
		return err
	}

	for i := range raised {
		if err := m.maybeNotify(ctx, ledger, &raised[i]); err != nil {
			m.logger.Error().Err(err).
				Str("ledger_id", id).
				Str("alert_type", string(raised[i].Type)).
				Msg("failed to notify vendor")
		}
	}
	return nil
}

// maybeNotify sends a vendor notification unless one of the same type went
// out for this ledger within the notification window
func (m *StockMonitor) maybeNotify(ctx context.Context, ledger *domain.StockLedger, alert *domain.Alert) error {
	now := m.clock()

	sent, err := m.log.ExistsSince(ctx, ledger.ID, string(alert.Type), now.Add(-m.window))
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	notification := &repository.StockNotification{
		LedgerID:     ledger.ID,
		VendorID:     ledger.VendorID,
		ProductID:    ledger.ProductID,
		AlertType:    string(alert.Type),
		Severity:     string(alert.Severity),
		Message:      alert.Message,
		CurrentStock: ledger.CurrentStock.TotalQuantity,
		ReorderLevel: ledger.Settings.ReorderLevel,
		SentAt:       now,
	}

	if err := m.notifier.Notify(ctx, notification); err != nil {
		return err
	}
	return m.log.Record(ctx, notification)
}
