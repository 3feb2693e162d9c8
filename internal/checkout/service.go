package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/internal/routing"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	apperrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/sumup"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type tokenSource interface {
	EnsureFresh(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error)
	PlatformToken(ctx context.Context) (string, error)
}

type router interface {
	Route(order *models.Order, conn *models.ArtistConnection) (routing.Decision, error)
}

type checkoutCreator interface {
	CreateCheckout(ctx context.Context, params sumup.CreateCheckoutParams) (*sumup.Checkout, error)
}

// ServiceParams groups dependencies for the checkout orchestrator.
type ServiceParams struct {
	DB        txRunner
	Repo      Repository
	Orders    orders.Repository
	Tokens    tokenSource
	Router    router
	Processor checkoutCreator
	SumUp     config.SumUpConfig
	Payments  config.PaymentsConfig
	Logger    *logger.Logger
}

// Service turns pending orders into processor checkout sessions.
type Service struct {
	db       txRunner
	repo     Repository
	orders   orders.Repository
	tokens   tokenSource
	router   router
	proc     checkoutCreator
	sumupCfg config.SumUpConfig
	payments config.PaymentsConfig
	logg     *logger.Logger
}

// NewService builds a checkout service. Missing processor credentials refuse
// the whole service rather than routing payments to a misconfigured merchant.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if params.Router == nil {
		return nil, errors.New("router is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor client is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := params.SumUp.Validate(); err != nil {
		return nil, fmt.Errorf("sumup config: %w", err)
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		orders:   params.Orders,
		tokens:   params.Tokens,
		router:   params.Router,
		proc:     params.Processor,
		sumupCfg: params.SumUp,
		payments: params.Payments,
		logg:     params.Logger,
	}, nil
}

// CreateOptions carries per-attempt caller preferences.
type CreateOptions struct {
	// ReturnURL overrides the configured 3DS redirect target for this attempt.
	ReturnURL string
}

// Create opens a processor checkout for a pending order. The local row is
// written before the network call so a crash can never lose track of an
// attempt; the processor outcome lands in a short second transaction. A
// processor failure leaves the order pending so the buyer can retry, and each
// retry gets a brand-new reference.
func (s *Service) Create(ctx context.Context, orderID uuid.UUID, opts CreateOptions) (*models.Checkout, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, apperrors.New(apperrors.CodeStateConflict, "order is not pending")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	conn, accessToken, err := s.resolveCredential(ctx, order.ArtistID)
	if err != nil {
		return nil, err
	}

	decision, err := s.router.Route(order, conn)
	if err != nil {
		return nil, err
	}
	if decision.PlatformCollected {
		s.logg.Warn(ctx, "routing checkout to platform collection")
		accessToken, err = s.tokens.PlatformToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	record := &models.Checkout{
		OrderID:           order.ID,
		Reference:         newReference(order.ID),
		AmountPence:       order.TotalPence,
		Currency:          order.Currency,
		MerchantCode:      decision.MerchantCode,
		PlatformCollected: decision.PlatformCollected,
		PlatformFeePence:  decision.PlatformFeePence,
		ArtistAmountPence: decision.ArtistAmountPence,
		Status:            enums.CheckoutStatusCreated,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, record)
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "persist checkout attempt")
	}

	ctx = s.logg.WithCheckoutID(ctx, record.ID.String())

	returnURL := s.sumupCfg.ReturnURL
	if opts.ReturnURL != "" {
		returnURL = opts.ReturnURL
	}

	remote, procErr := s.proc.CreateCheckout(ctx, sumup.CreateCheckoutParams{
		AccessToken:  accessToken,
		AmountPence:  record.AmountPence,
		Currency:     record.Currency.String(),
		Reference:    record.Reference,
		Description:  checkoutDescription(order),
		MerchantCode: record.MerchantCode,
		ReturnURL:    returnURL,
	})

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("reload checkout: %w", err)
		}
		if current == nil {
			return fmt.Errorf("checkout %s vanished", record.ID)
		}

		if procErr != nil {
			reason := procErr.Error()
			current.Status = enums.CheckoutStatusFailed
			current.FailureReason = &reason
		} else {
			id := remote.ID
			current.Status = enums.CheckoutStatusPending
			current.SumUpCheckoutID = &id
			if remote.CheckoutURL != "" {
				checkoutURL := remote.CheckoutURL
				current.CheckoutURL = &checkoutURL
			}
			current.RawResponse = remote.Raw
		}
		record = current
		return repo.Update(ctx, current)
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "record checkout outcome")
	}

	if procErr != nil {
		s.logg.Error(ctx, "processor rejected checkout", procErr)
		return nil, procErr
	}

	s.logg.Info(ctx, "checkout opened")
	return record, nil
}

// Get returns one checkout.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	checkout, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "load checkout")
	}
	if checkout == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "checkout not found")
	}
	return checkout, nil
}

// resolveCredential tries for the artist's own token first. A connection that
// needs reconnecting is not an error here: the decision falls back to
// platform collection and the artist keeps selling.
func (s *Service) resolveCredential(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, string, error) {
	conn, err := s.tokens.EnsureFresh(ctx, artistID)
	if err == nil {
		return conn, conn.AccessToken, nil
	}
	if appErr := apperrors.As(err); appErr != nil && appErr.Code() == apperrors.CodeStateConflict {
		return nil, "", nil
	}
	return nil, "", err
}

// newReference builds a reference that is unique per attempt. Retries for the
// same order never reuse a reference, so processor-side idempotency can never
// glue two attempts together.
func newReference(orderID uuid.UUID) string {
	short := strings.ReplaceAll(orderID.String(), "-", "")[:8]
	return fmt.Sprintf("order-%s-%s", short, uuid.NewString())
}

func checkoutDescription(order *models.Order) string {
	if len(order.Items) == 0 {
		return "Showbill order"
	}
	first := order.Items[0].ProductName
	if len(order.Items) == 1 {
		return first
	}
	return fmt.Sprintf("%s and %d more", first, len(order.Items)-1)
}
