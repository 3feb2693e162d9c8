package models

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is one admission issued after a transaction settles. One row per
// unit of line-item quantity.
type Ticket struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	LineItemID    uuid.UUID `gorm:"column:line_item_id;type:uuid;not null"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index"`
	ProductName   string    `gorm:"column:product_name;not null"`
	Code          string    `gorm:"column:code;not null;uniqueIndex"`
	IssuedAt      time.Time `gorm:"column:issued_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
