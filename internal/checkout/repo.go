package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
)

// Repository handles checkout persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, checkout *models.Checkout) error
	Update(ctx context.Context, checkout *models.Checkout) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Checkout, error)
	FindBySumUpCheckoutID(ctx context.Context, sumupCheckoutID string) (*models.Checkout, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Checkout, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a checkout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, checkout *models.Checkout) error {
	return r.db.WithContext(ctx).Create(checkout).Error
}

func (r *repository) Update(ctx context.Context, checkout *models.Checkout) error {
	return r.db.WithContext(ctx).Save(checkout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	var checkout models.Checkout
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&checkout).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &checkout, nil
}

// FindByIDForUpdate row-locks the checkout for a settlement transition.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	var checkout models.Checkout
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&checkout).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &checkout, nil
}

func (r *repository) FindBySumUpCheckoutID(ctx context.Context, sumupCheckoutID string) (*models.Checkout, error) {
	if sumupCheckoutID == "" {
		return nil, nil
	}
	var checkout models.Checkout
	if err := r.db.WithContext(ctx).
		Where("sumup_checkout_id = ?", sumupCheckoutID).
		First(&checkout).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &checkout, nil
}

// ListPendingOlderThan returns non-terminal checkouts created before the
// cutoff, oldest first. The poller works through these in batches. Rows stuck
// in created (a crash between the persist and the outcome write) are included
// so the poll window can expire them.
func (r *repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Checkout, error) {
	if limit <= 0 {
		limit = 100
	}
	var checkouts []models.Checkout
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.CheckoutStatus{enums.CheckoutStatusCreated, enums.CheckoutStatusPending}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&checkouts).Error; err != nil {
		return nil, err
	}
	return checkouts, nil
}
