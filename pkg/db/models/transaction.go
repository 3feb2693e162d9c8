package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

// Transaction records one successful payment event. The unique index on
// sumup_transaction_id is the settlement dedup key. PlatformFeePence plus
// ArtistEarningsPence equals AmountPence exactly.
type Transaction struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	CheckoutID          uuid.UUID      `gorm:"column:checkout_id;type:uuid;not null"`
	SumUpTransactionID  string         `gorm:"column:sumup_transaction_id;not null;uniqueIndex:uq_transactions_sumup_transaction_id"`
	AmountPence         int64          `gorm:"column:amount_pence;not null"`
	PlatformFeePence    int64          `gorm:"column:platform_fee_pence;not null"`
	ArtistEarningsPence int64          `gorm:"column:artist_earnings_pence;not null"`
	Currency            enums.Currency `gorm:"column:currency;type:text;not null;default:'GBP'"`
	SettledAt           time.Time      `gorm:"column:settled_at;not null"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
}
