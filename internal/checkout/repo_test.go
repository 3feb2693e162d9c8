package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	checkouts := `
CREATE TABLE IF NOT EXISTS checkouts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  reference TEXT NOT NULL UNIQUE,
  sumup_checkout_id TEXT UNIQUE,
  amount_pence INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'GBP',
  merchant_code TEXT NOT NULL,
  platform_collected INTEGER NOT NULL DEFAULT 0,
  platform_fee_pence INTEGER NOT NULL,
  artist_amount_pence INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  checkout_url TEXT,
  raw_response TEXT,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(checkouts).Error)
	return db
}

func newCheckoutRow(t *testing.T, db *gorm.DB, status enums.CheckoutStatus, created time.Time) *models.Checkout {
	t.Helper()

	record := &models.Checkout{
		ID:                uuid.New(),
		OrderID:           uuid.New(),
		Reference:         "order-" + uuid.NewString(),
		AmountPence:       5000,
		Currency:          enums.CurrencyGBP,
		MerchantCode:      "MARTIST",
		PlatformFeePence:  250,
		ArtistAmountPence: 4750,
		Status:            status,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func TestCheckoutRepoFindBySumUpCheckoutID(t *testing.T) {
	db := setupCheckoutTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newCheckoutRow(t, db, enums.CheckoutStatusPending, time.Now().UTC())
	sumupID := "chk_live_" + uuid.NewString()
	record.SumUpCheckoutID = &sumupID
	require.NoError(t, repo.Update(ctx, record))

	found, err := repo.FindBySumUpCheckoutID(ctx, sumupID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.ID, found.ID)

	missing, err := repo.FindBySumUpCheckoutID(ctx, "chk_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCheckoutRepoListPendingOlderThan(t *testing.T) {
	db := setupCheckoutTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newCheckoutRow(t, db, enums.CheckoutStatusPending, now.Add(-time.Hour))
	older := newCheckoutRow(t, db, enums.CheckoutStatusPending, now.Add(-2*time.Hour))
	// orphaned before the outcome write ever ran; the sweep must still see it
	stuck := newCheckoutRow(t, db, enums.CheckoutStatusCreated, now.Add(-3*time.Hour))
	newCheckoutRow(t, db, enums.CheckoutStatusPending, now.Add(-time.Minute))
	newCheckoutRow(t, db, enums.CheckoutStatusPaid, now.Add(-4*time.Hour))

	batch, err := repo.ListPendingOlderThan(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	// oldest first
	assert.Equal(t, stuck.ID, batch[0].ID)
	assert.Equal(t, older.ID, batch[1].ID)
	assert.Equal(t, old.ID, batch[2].ID)

	limited, err := repo.ListPendingOlderThan(ctx, now.Add(-30*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, stuck.ID, limited[0].ID)
}

func TestCheckoutRepoUniqueReference(t *testing.T) {
	db := setupCheckoutTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := newCheckoutRow(t, db, enums.CheckoutStatusCreated, time.Now().UTC())

	dup := &models.Checkout{
		ID:           uuid.New(),
		OrderID:      first.OrderID,
		Reference:    first.Reference,
		AmountPence:  5000,
		MerchantCode: "MARTIST",
	}
	err := repo.Create(ctx, dup)
	require.Error(t, err)
}
