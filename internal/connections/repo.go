package connections

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
)

// Repository handles artist connection persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, conn *models.ArtistConnection) error
	Update(ctx context.Context, conn *models.ArtistConnection) error
	FindByArtistID(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error)
	FindByArtistIDForUpdate(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a connection repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert keeps one row per artist; reconnecting replaces the credential in place.
func (r *repository) Upsert(ctx context.Context, conn *models.ArtistConnection) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "artist_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token", "refresh_token", "token_type", "scope",
				"merchant_code", "status", "expires_at", "connected_at",
				"last_error", "updated_at",
			}),
		}).
		Create(conn).Error
}

func (r *repository) Update(ctx context.Context, conn *models.ArtistConnection) error {
	return r.db.WithContext(ctx).Save(conn).Error
}

func (r *repository) FindByArtistID(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	var conn models.ArtistConnection
	if err := r.db.WithContext(ctx).
		Where("artist_id = ?", artistID).
		First(&conn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// FindByArtistIDForUpdate row-locks the connection so concurrent refreshes
// serialize on the database as well as on the process-local singleflight.
func (r *repository) FindByArtistIDForUpdate(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	var conn models.ArtistConnection
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("artist_id = ?", artistID).
		First(&conn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}
