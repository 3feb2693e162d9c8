package settlement

import (
	"context"

	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
)

// Repository handles transaction persistence. The unique index on
// sumup_transaction_id is the settlement dedup key.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, transaction *models.Transaction) error
	FindBySumUpTransactionID(ctx context.Context, sumupTransactionID string) (*models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, transaction *models.Transaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) FindBySumUpTransactionID(ctx context.Context, sumupTransactionID string) (*models.Transaction, error) {
	if sumupTransactionID == "" {
		return nil, nil
	}
	var transaction models.Transaction
	if err := r.db.WithContext(ctx).
		Where("sumup_transaction_id = ?", sumupTransactionID).
		First(&transaction).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}
