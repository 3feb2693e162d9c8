package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/internal/settlement"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/sumup"
)

const checkoutPollBatchSize = 100

type settler interface {
	Apply(ctx context.Context, event settlement.Event) (settlement.Outcome, error)
}

type statusFetcher interface {
	GetCheckout(ctx context.Context, accessToken, checkoutID string) (*sumup.Checkout, error)
}

type tokenSource interface {
	EnsureFresh(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error)
	PlatformToken(ctx context.Context) (string, error)
}

// CheckoutPollJobParams configure the checkout poll job.
type CheckoutPollJobParams struct {
	Checkouts  checkout.Repository
	Orders     orders.Repository
	Settlement settler
	Processor  statusFetcher
	Tokens     tokenSource
	Payments   config.PaymentsConfig
	Logger     *logger.Logger
}

// CheckoutPollJob sweeps pending checkouts whose webhook may have been lost.
// Fresh checkouts get a grace period so the webhook can win the race; anything
// pending past the maximum poll window is expired locally, never left pending
// forever.
type CheckoutPollJob struct {
	checkouts  checkout.Repository
	orders     orders.Repository
	settlement settler
	proc       statusFetcher
	tokens     tokenSource
	grace      time.Duration
	maxWindow  time.Duration
	logg       *logger.Logger
	now        func() time.Time
}

// NewCheckoutPollJob builds the checkout poll job.
func NewCheckoutPollJob(params CheckoutPollJobParams) (*CheckoutPollJob, error) {
	if params.Checkouts == nil {
		return nil, errors.New("checkouts repo is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Settlement == nil {
		return nil, errors.New("settlement is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor client is required")
	}
	if params.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	grace := params.Payments.PollGrace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	maxWindow := params.Payments.MaxPollDuration
	if maxWindow <= 0 {
		maxWindow = 24 * time.Hour
	}
	return &CheckoutPollJob{
		checkouts:  params.Checkouts,
		orders:     params.Orders,
		settlement: params.Settlement,
		proc:       params.Processor,
		tokens:     params.Tokens,
		grace:      grace,
		maxWindow:  maxWindow,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Name implements Job.
func (j *CheckoutPollJob) Name() string { return "checkout_poll" }

// Run implements Job. One failing checkout never blocks the rest of the batch.
func (j *CheckoutPollJob) Run(ctx context.Context) error {
	now := j.now()
	batch, err := j.checkouts.ListPendingOlderThan(ctx, now.Add(-j.grace), checkoutPollBatchSize)
	if err != nil {
		return fmt.Errorf("list pending checkouts: %w", err)
	}

	var errs error
	for i := range batch {
		record := batch[i]
		if err := j.pollOne(ctx, &record, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("checkout %s: %w", record.ID, err))
			j.logg.Error(j.logg.WithCheckoutID(ctx, record.ID.String()), "poll failed", err)
		}
	}
	return errs
}

func (j *CheckoutPollJob) pollOne(ctx context.Context, record *models.Checkout, now time.Time) error {
	ctx = j.logg.WithCheckoutID(ctx, record.ID.String())

	// past the window: close it out locally through the shared transition
	if now.Sub(record.CreatedAt) > j.maxWindow {
		j.logg.Warn(ctx, "checkout exceeded the poll window, expiring")
		_, err := j.settlement.Apply(ctx, settlement.Event{
			CheckoutID: record.ID,
			Status:     "EXPIRED",
		})
		return err
	}

	if record.SumUpCheckoutID == nil {
		return nil
	}

	token, err := j.accessToken(ctx, record)
	if err != nil {
		return err
	}

	remote, err := j.proc.GetCheckout(ctx, token, *record.SumUpCheckoutID)
	if err != nil {
		return fmt.Errorf("fetch processor status: %w", err)
	}
	if isStillPending(remote.Status) {
		return nil
	}

	_, err = j.settlement.Apply(ctx, settlement.Event{
		CheckoutID:      record.ID,
		Status:          remote.Status,
		TransactionID:   remote.TransactionID,
		TransactionCode: remote.TransactionCode,
	})
	return err
}

func (j *CheckoutPollJob) accessToken(ctx context.Context, record *models.Checkout) (string, error) {
	if record.PlatformCollected {
		return j.tokens.PlatformToken(ctx)
	}
	order, err := j.orders.FindByID(ctx, record.OrderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return "", fmt.Errorf("order %s vanished", record.OrderID)
	}
	conn, err := j.tokens.EnsureFresh(ctx, order.ArtistID)
	if err != nil {
		return "", fmt.Errorf("artist token: %w", err)
	}
	return conn.AccessToken, nil
}

func isStillPending(status string) bool {
	switch status {
	case "", "PENDING", "pending":
		return true
	default:
		return false
	}
}
