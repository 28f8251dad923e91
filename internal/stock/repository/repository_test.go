package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/agrolink/agrolink-backend/internal/stock/domain"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/pkg/testutil"
)

var (
	suite     *testutil.IntegrationSuite
	suiteOnce sync.Once
	suiteErr  error
)

// setupSuite lazily starts the shared postgres container. Tests running with
// -short never touch it.
func setupSuite(t *testing.T) *testutil.IntegrationSuite {
	t.Helper()
	testutil.SkipIfShort(t)

	suiteOnce.Do(func() {
		suite, suiteErr = testutil.NewIntegrationSuite(context.Background())
	})
	if suiteErr != nil {
		t.Fatalf("failed to set up integration suite: %v", suiteErr)
	}
	return suite
}

func testCtx(t *testing.T) context.Context {
	return testutil.DefaultTestContext(t)
}

func defaultSettings() domain.Settings {
	return testutil.DefaultSettings()
}

// createLedger inserts a ledger through the repository inside its own
// transaction, the way the service's create path does
func createLedger(ctx context.Context, repo *repository.LedgerRepository, ledger *domain.StockLedger) error {
	return suite.DB.Transaction(ctx, func(tx *sqlx.Tx) error {
		return repo.Create(ctx, tx, ledger)
	})
}
