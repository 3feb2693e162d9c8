package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

// Checkout mirrors one SumUp checkout attempt for an order. The fee split is
// frozen here at creation time; settlement never recomputes it. Amount always
// equals the order total at creation and the row is immutable once the status
// leaves created/pending.
type Checkout struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	Reference         string               `gorm:"column:reference;not null;uniqueIndex"`
	SumUpCheckoutID   *string              `gorm:"column:sumup_checkout_id;uniqueIndex"`
	AmountPence       int64                `gorm:"column:amount_pence;not null"`
	Currency          enums.Currency       `gorm:"column:currency;type:text;not null;default:'GBP'"`
	MerchantCode      string               `gorm:"column:merchant_code;not null"`
	PlatformCollected bool                 `gorm:"column:platform_collected;not null;default:false"`
	PlatformFeePence  int64                `gorm:"column:platform_fee_pence;not null"`
	ArtistAmountPence int64                `gorm:"column:artist_amount_pence;not null"`
	Status            enums.CheckoutStatus `gorm:"column:status;type:checkout_status;not null;default:'created'"`
	CheckoutURL       *string              `gorm:"column:checkout_url"`
	RawResponse       json.RawMessage      `gorm:"column:raw_response;type:jsonb"`
	FailureReason     *string              `gorm:"column:failure_reason"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
