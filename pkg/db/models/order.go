package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

// Order is a customer purchase intent for an artist's event. Created by the
// external checkout flow; mutated only by the settlement processor afterwards.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ArtistID      uuid.UUID         `gorm:"column:artist_id;type:uuid;not null;index"`
	BuyerName     string            `gorm:"column:buyer_name;not null"`
	BuyerEmail    string            `gorm:"column:buyer_email;not null"`
	Currency      enums.Currency    `gorm:"column:currency;type:text;not null;default:'GBP'"`
	SubtotalPence int64             `gorm:"column:subtotal_pence;not null"`
	TotalPence    int64             `gorm:"column:total_pence;not null"`
	Status        enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	ConfirmedAt   *time.Time        `gorm:"column:confirmed_at"`
	CancelledAt   *time.Time        `gorm:"column:cancelled_at"`
	ExpiredAt     *time.Time        `gorm:"column:expired_at"`
	RefundedAt    *time.Time        `gorm:"column:refunded_at"`
	Items         []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
