package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/internal/stock/events"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/pkg/database"
	"github.com/agrolink/agrolink-backend/pkg/errors"
	"github.com/agrolink/agrolink-backend/pkg/logger"
)

// StockService handles stock ledger business logic. Every command loads the
// ledger under a row lock, applies the domain operation, reconciles the sale
// listing and writes the whole document back in one transaction.
type StockService struct {
	db          *database.DB
	ledgerRepo  *repository.LedgerRepository
	listingRepo *repository.ListingRepository
	publisher   *events.StockEventPublisher
	logger      *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	db *database.DB,
	ledgerRepo *repository.LedgerRepository,
	listingRepo *repository.ListingRepository,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *StockService {
	return &StockService{
		db:          db,
		ledgerRepo:  ledgerRepo,
		listingRepo: listingRepo,
		publisher:   publisher,
		logger:      log,
	}
}

// RecordPurchaseInput carries a purchase command
type RecordPurchaseInput struct {
	VendorID  string
	ProductID string
	Lot       domain.NewLotInput
	// Settings apply only when the purchase creates the ledger
	Settings *domain.Settings
}

// RecordSaleInput carries a sale command
type RecordSaleInput struct {
	LedgerID         string
	Quantity         decimal.Decimal
	SalePricePerUnit decimal.Decimal
	ReferenceID      string
}

// RecordAdjustmentInput carries an adjustment command
type RecordAdjustmentInput struct {
	LedgerID string
	Type     domain.AdjustmentType
	Quantity decimal.Decimal
	Reason   string
	BatchID  string
}

// RecordPurchase adds a purchase lot to the vendor-product ledger, creating
// the ledger on first purchase. Returns the updated ledger and the new lot.
// Two concurrent first purchases of the same pair both pass the not-found
// check, so a conflicting create is retried once; the second attempt finds
// and locks the winner's row.
func (s *StockService) RecordPurchase(ctx context.Context, in RecordPurchaseInput) (*domain.StockLedger, *domain.Lot, error) {
	ledger, lot, err := s.recordPurchase(ctx, in)
	if err != nil && errors.Is(err, errors.ErrConflict) {
		ledger, lot, err = s.recordPurchase(ctx, in)
	}
	if err != nil {
		return nil, nil, err
	}

	s.publisher.PublishPurchaseRecorded(ctx, ledger, lot)

	s.logger.Info().
		Str("ledger_id", ledger.ID).
		Str("batch_id", lot.BatchID).
		Str("quantity", lot.AcquiredQuantity.String()).
		Msg("purchase recorded")

	return ledger, lot, nil
}

func (s *StockService) recordPurchase(ctx context.Context, in RecordPurchaseInput) (*domain.StockLedger, *domain.Lot, error) {
	var (
		ledger *domain.StockLedger
		lot    *domain.Lot
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()

		existing, err := s.ledgerRepo.GetByVendorProductForUpdate(ctx, tx, in.VendorID, in.ProductID)
		switch {
		case err == nil:
			lot, err = existing.AddLot(in.Lot, now)
			if err != nil {
				return err
			}
			ledger = existing
			return s.ledgerRepo.Update(ctx, tx, ledger)

		case errors.Is(err, errors.ErrNotFound):
			settings := domain.Settings{
				ReorderLevel:  decimal.NewFromInt(10),
				MaxStockLevel: decimal.NewFromInt(1000),
			}
			if in.Settings != nil {
				settings = *in.Settings
			}
			created, err := domain.NewStockLedger(in.VendorID, in.ProductID, settings, now)
			if err != nil {
				return err
			}
			lot, err = created.AddLot(in.Lot, now)
			if err != nil {
				return err
			}
			ledger = created
			return s.ledgerRepo.Create(ctx, tx, created)

		default:
			return err
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return ledger, lot, nil
}

// RecordSale consumes stock for a sale, oldest lots first, and reconciles
// the sale listing inside the same transaction.
func (s *StockService) RecordSale(ctx context.Context, in RecordSaleInput) (*domain.StockLedger, *domain.ConsumeResult, error) {
	var (
		ledger *domain.StockLedger
		result *domain.ConsumeResult
		sync   *listingSyncResult
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()

		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, in.LedgerID)
		if err != nil {
			return err
		}

		result, err = locked.Consume(in.Quantity, in.SalePricePerUnit, in.ReferenceID, now)
		if err != nil {
			return err
		}
		ledger = locked

		if err := s.ledgerRepo.Update(ctx, tx, ledger); err != nil {
			return err
		}

		sync, err = s.syncListing(ctx, tx, ledger, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.publisher.PublishSaleRecorded(ctx, ledger, result, in.SalePricePerUnit, in.ReferenceID)
	s.publishListingSync(ctx, ledger, sync)

	s.logger.Info().
		Str("ledger_id", ledger.ID).
		Str("quantity", result.Quantity.String()).
		Str("remaining", ledger.CurrentStock.TotalQuantity.String()).
		Msg("sale recorded")

	return ledger, result, nil
}

// RecordAdjustment removes stock for wastage, damage or a supplier return
func (s *StockService) RecordAdjustment(ctx context.Context, in RecordAdjustmentInput) (*domain.StockLedger, error) {
	var (
		ledger *domain.StockLedger
		sync   *listingSyncResult
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()

		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, in.LedgerID)
		if err != nil {
			return err
		}

		if err := locked.Adjust(in.Type, in.Quantity, in.Reason, in.BatchID, now); err != nil {
			return err
		}
		ledger = locked

		if err := s.ledgerRepo.Update(ctx, tx, ledger); err != nil {
			return err
		}

		sync, err = s.syncListing(ctx, tx, ledger, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishAdjustmentRecorded(ctx, ledger, in.Type, in.Quantity, in.Reason, in.BatchID)
	s.publishListingSync(ctx, ledger, sync)

	s.logger.Info().
		Str("ledger_id", ledger.ID).
		Str("type", string(in.Type)).
		Str("quantity", in.Quantity.String()).
		Msg("adjustment recorded")

	return ledger, nil
}

// UpdateSettings replaces a ledger's stock thresholds
func (s *StockService) UpdateSettings(ctx context.Context, ledgerID string, settings domain.Settings) (*domain.StockLedger, error) {
	var ledger *domain.StockLedger

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}

		if err := locked.UpdateSettings(settings, time.Now().UTC()); err != nil {
			return err
		}
		ledger = locked

		return s.ledgerRepo.Update(ctx, tx, ledger)
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// MarkExpiredLots transitions a ledger's expired lots and reconciles the
// listing. Returns the updated ledger and how many lots were marked.
func (s *StockService) MarkExpiredLots(ctx context.Context, ledgerID string) (*domain.StockLedger, int, error) {
	var (
		ledger *domain.StockLedger
		marked int
		sync   *listingSyncResult
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()

		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}

		marked = locked.MarkExpiredLots(now)
		ledger = locked
		if marked == 0 {
			return nil
		}

		if err := s.ledgerRepo.Update(ctx, tx, ledger); err != nil {
			return err
		}

		sync, err = s.syncListing(ctx, tx, ledger, now)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	s.publishListingSync(ctx, ledger, sync)
	return ledger, marked, nil
}

// RunAlertScan derives alerts for one ledger and persists any new ones.
// Returns the newly raised alerts.
func (s *StockService) RunAlertScan(ctx context.Context, ledgerID string) (*domain.StockLedger, []domain.Alert, error) {
	var (
		ledger *domain.StockLedger
		raised []domain.Alert
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}

		raised = locked.DeriveAlerts(time.Now().UTC())
		ledger = locked
		if len(raised) == 0 {
			return nil
		}

		return s.ledgerRepo.Update(ctx, tx, ledger)
	})
	if err != nil {
		return nil, nil, err
	}

	for i := range raised {
		s.publisher.PublishAlertRaised(ctx, ledger, &raised[i])
	}
	return ledger, raised, nil
}

// AlertScanReport summarizes an on-demand scan across all ledgers
type AlertScanReport struct {
	Scanned int            `json:"scanned"`
	Failed  int            `json:"failed"`
	Raised  []domain.Alert `json:"raised"`
}

const alertScanBatchSize = 100

// RunAlertScanAll scans every ledger in bounded batches, collecting the newly
// raised alerts. A single ledger's failure is logged and counted without
// aborting the rest of the scan.
func (s *StockService) RunAlertScanAll(ctx context.Context) (*AlertScanReport, error) {
	report := &AlertScanReport{Raised: []domain.Alert{}}
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids, err := s.ledgerRepo.ListIDsAfter(ctx, cursor, alertScanBatchSize)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			_, raised, err := s.RunAlertScan(ctx, id)
			if err != nil {
				report.Failed++
				s.logger.Error().Err(err).Str("ledger_id", id).Msg("alert scan failed")
			} else {
				report.Raised = append(report.Raised, raised...)
			}
			report.Scanned++
		}
		cursor = ids[len(ids)-1]
	}

	return report, nil
}

// MarkAlertRead flags one of a ledger's alerts as read
func (s *StockService) MarkAlertRead(ctx context.Context, ledgerID, alertID string) error {
	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}
		if !locked.MarkAlertRead(alertID) {
			return errors.NotFound("alert")
		}
		return s.ledgerRepo.Update(ctx, tx, locked)
	})
}

// ResolveAlert stamps one of a ledger's alerts as resolved
func (s *StockService) ResolveAlert(ctx context.Context, ledgerID, alertID string) error {
	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.ledgerRepo.GetForUpdate(ctx, tx, ledgerID)
		if err != nil {
			return err
		}
		if !locked.ResolveAlert(alertID, time.Now().UTC()) {
			return errors.NotFound("alert")
		}
		return s.ledgerRepo.Update(ctx, tx, locked)
	})
}

// GetLedger gets a ledger by ID
func (s *StockService) GetLedger(ctx context.Context, id string) (*domain.StockLedger, error) {
	return s.ledgerRepo.GetByID(ctx, id)
}

// GetLedgerByVendorProduct gets the ledger for a vendor-product pair
func (s *StockService) GetLedgerByVendorProduct(ctx context.Context, vendorID, productID string) (*domain.StockLedger, error) {
	return s.ledgerRepo.GetByVendorProduct(ctx, vendorID, productID)
}

// ListLedgers lists ledgers with filtering and pagination
func (s *StockService) ListLedgers(ctx context.Context, filter repository.ListFilter) ([]*domain.StockLedger, int64, error) {
	return s.ledgerRepo.List(ctx, filter)
}

// GetVendorStats computes a vendor's dashboard aggregates
func (s *StockService) GetVendorStats(ctx context.Context, vendorID string) (*repository.VendorStats, error) {
	return s.ledgerRepo.GetVendorStats(ctx, vendorID)
}
