// Package testutil provides testing utilities for AgroLink backend services.
// It includes a testcontainers PostgreSQL harness, sqlmock wrappers, fixture
// factories and common HTTP test helpers.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "agrolink_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "agrolink_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateStockSchema creates the market service tables
func (c *PostgresContainer) CreateStockSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS stock_ledgers (
			id UUID PRIMARY KEY,
			vendor_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL,
			total_quantity NUMERIC(14, 3) NOT NULL DEFAULT 0,
			unit VARCHAR(20) NOT NULL DEFAULT '',
			average_landed_cost NUMERIC(14, 4) NOT NULL DEFAULT 0,
			total_value NUMERIC(14, 4) NOT NULL DEFAULT 0,
			lots JSONB NOT NULL DEFAULT '[]',
			settings JSONB NOT NULL DEFAULT '{}',
			analytics JSONB NOT NULL DEFAULT '{}',
			alerts JSONB NOT NULL DEFAULT '[]',
			last_stock_update_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_ledgers_vendor_product_key UNIQUE (vendor_id, product_id),
			CONSTRAINT stock_ledgers_quantity_nonnegative CHECK (total_quantity >= 0),
			CONSTRAINT stock_ledgers_status_valid CHECK (
				status IN ('active', 'low_stock', 'out_of_stock', 'overstocked', 'inactive')
			)
		);

		CREATE INDEX IF NOT EXISTS idx_stock_ledgers_vendor ON stock_ledgers (vendor_id);
		CREATE INDEX IF NOT EXISTS idx_stock_ledgers_status ON stock_ledgers (status);

		CREATE TABLE IF NOT EXISTS sale_listings (
			id UUID PRIMARY KEY,
			vendor_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			advertised_quantity NUMERIC(14, 3) NOT NULL DEFAULT 0,
			unit VARCHAR(20) NOT NULL DEFAULT '',
			price_per_unit NUMERIC(14, 4) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sale_listings_vendor_product
			ON sale_listings (vendor_id, product_id) WHERE is_active;

		CREATE TABLE IF NOT EXISTS stock_notifications (
			id UUID PRIMARY KEY,
			ledger_id UUID NOT NULL,
			vendor_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(64) NOT NULL DEFAULT '',
			alert_type VARCHAR(30) NOT NULL,
			severity VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			current_stock NUMERIC(14, 3) NOT NULL DEFAULT 0,
			reorder_level NUMERIC(14, 3) NOT NULL DEFAULT 0,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_stock_notifications_ledger_type
			ON stock_notifications (ledger_id, alert_type, sent_at DESC);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create stock schema: %w", err)
	}

	return nil
}
