package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

// ArtistConnection holds the delegated SumUp credential for one artist.
// Tokens are only meaningful while status is connected; merchant_code is
// filled from the profile lookup after the code exchange.
type ArtistConnection struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ArtistID     uuid.UUID              `gorm:"column:artist_id;type:uuid;not null;uniqueIndex"`
	AccessToken  string                 `gorm:"column:access_token;not null;default:''"`
	RefreshToken string                 `gorm:"column:refresh_token;not null;default:''"`
	TokenType    string                 `gorm:"column:token_type;not null;default:''"`
	Scope        string                 `gorm:"column:scope;not null;default:''"`
	MerchantCode string                 `gorm:"column:merchant_code;not null;default:''"`
	Status       enums.ConnectionStatus `gorm:"column:status;type:connection_status;not null;default:'not_connected'"`
	ExpiresAt    *time.Time             `gorm:"column:expires_at"`
	ConnectedAt  *time.Time             `gorm:"column:connected_at"`
	LastError    *string                `gorm:"column:last_error"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
