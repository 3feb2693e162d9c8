// Package settlement reconciles processor-reported outcomes into durable
// order, checkout and transaction state. The webhook handler and the polling
// fallback both funnel into the same Apply transition, so a notification and
// a poll result can never disagree about the rules.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/pkg/db"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	apperrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/metrics"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ticketIssuer interface {
	Issue(ctx context.Context, tx *gorm.DB, order *models.Order, transaction *models.Transaction) ([]models.Ticket, error)
}

// Event is one processor-reported checkout outcome, whether it arrived by
// webhook or by polling. Exactly one of CheckoutID / SumUpCheckoutID must be
// set to resolve the local row.
type Event struct {
	CheckoutID      uuid.UUID
	SumUpCheckoutID string
	Status          string
	TransactionID   string
	TransactionCode string
}

// Outcome describes what Apply did with an event.
type Outcome string

const (
	// OutcomeApplied means order/checkout state changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event was already settled; success no-op.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event matched nothing actionable.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the event targeted a terminal order; no mutation.
	OutcomeRejected Outcome = "rejected"
)

// ServiceParams groups dependencies for the settlement service.
type ServiceParams struct {
	DB           txRunner
	Checkouts    checkout.Repository
	Orders       orders.Repository
	Transactions Repository
	Fulfillment  ticketIssuer
	Outbox       outbox.Emitter
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
}

// Service applies settlement transitions.
type Service struct {
	db           txRunner
	checkouts    checkout.Repository
	orders       orders.Repository
	transactions Repository
	fulfillment  ticketIssuer
	outbox       outbox.Emitter
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
}

// NewService builds a settlement service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Checkouts == nil {
		return nil, errors.New("checkouts repo is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Transactions == nil {
		return nil, errors.New("transactions repo is required")
	}
	if params.Fulfillment == nil {
		return nil, errors.New("fulfillment is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:           params.DB,
		checkouts:    params.Checkouts,
		orders:       params.Orders,
		transactions: params.Transactions,
		fulfillment:  params.Fulfillment,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

// Apply runs one settlement transition. It is idempotent: replaying the same
// event any number of times yields the same final state and never duplicates
// transactions or tickets. Delivery is assumed at-least-once, out-of-order
// and concurrent; the dedup is the unique transaction id constraint plus a
// terminal-state re-read inside the row-locked transaction.
func (s *Service) Apply(ctx context.Context, event Event) (Outcome, error) {
	target, known := mapProcessorStatus(event.Status)
	if !known {
		s.metrics.IncUnknown()
		s.logg.Warn(ctx, fmt.Sprintf("unknown processor status %q, leaving state untouched", event.Status))
		return OutcomeIgnored, nil
	}

	record, err := s.resolveCheckout(ctx, event)
	if err != nil {
		return OutcomeIgnored, err
	}
	if record == nil {
		s.logg.Warn(ctx, "notification for unknown checkout, ignoring")
		return OutcomeIgnored, nil
	}

	ctx = s.logg.WithCheckoutID(s.logg.WithOrderID(ctx, record.OrderID.String()), record.ID.String())

	var outcome Outcome
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		outcome, txErr = s.transition(ctx, tx, record.ID, target, event)
		return txErr
	})
	if err != nil {
		return OutcomeIgnored, apperrors.Wrap(apperrors.CodeInternal, err, "apply settlement transition")
	}

	switch outcome {
	case OutcomeApplied:
		s.metrics.IncApplied(string(target))
	case OutcomeDuplicate:
		s.metrics.IncDuplicate()
	case OutcomeRejected:
		s.metrics.IncRejected()
	}
	return outcome, nil
}

type targetStatus string

const (
	targetPaid      targetStatus = "paid"
	targetFailed    targetStatus = "failed"
	targetCancelled targetStatus = "cancelled"
	targetExpired   targetStatus = "expired"
	targetRefunded  targetStatus = "refunded"
)

func mapProcessorStatus(raw string) (targetStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCESSFUL":
		return targetPaid, true
	case "FAILED":
		return targetFailed, true
	case "CANCELLED", "CANCELED":
		return targetCancelled, true
	case "EXPIRED":
		return targetExpired, true
	case "REFUNDED":
		return targetRefunded, true
	default:
		return "", false
	}
}

func (s *Service) resolveCheckout(ctx context.Context, event Event) (*models.Checkout, error) {
	if event.CheckoutID != uuid.Nil {
		return s.checkouts.FindByID(ctx, event.CheckoutID)
	}
	return s.checkouts.FindBySumUpCheckoutID(ctx, event.SumUpCheckoutID)
}

// transition re-reads both rows under lock, aborts on terminal state, and
// applies exactly one state change.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, checkoutID uuid.UUID, target targetStatus, event Event) (Outcome, error) {
	checkoutRepo := s.checkouts.WithTx(tx)
	orderRepo := s.orders.WithTx(tx)

	record, err := checkoutRepo.FindByIDForUpdate(ctx, checkoutID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("lock checkout: %w", err)
	}
	if record == nil {
		return OutcomeIgnored, fmt.Errorf("checkout %s vanished", checkoutID)
	}
	order, err := orderRepo.FindByIDForUpdate(ctx, record.OrderID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("lock order: %w", err)
	}
	if order == nil {
		return OutcomeIgnored, fmt.Errorf("order %s vanished", record.OrderID)
	}

	switch target {
	case targetPaid:
		return s.settlePaid(ctx, tx, checkoutRepo, orderRepo, record, order, event)
	case targetRefunded:
		return s.settleRefund(ctx, tx, orderRepo, record, order, event)
	default:
		return s.settleFailure(ctx, tx, checkoutRepo, orderRepo, record, order, target)
	}
}

func (s *Service) settlePaid(ctx context.Context, tx *gorm.DB, checkoutRepo checkout.Repository, orderRepo orders.Repository, record *models.Checkout, order *models.Order, event Event) (Outcome, error) {
	if event.TransactionID == "" {
		s.logg.Warn(ctx, "paid notification without transaction id, ignoring")
		return OutcomeIgnored, nil
	}

	txRepo := s.transactions.WithTx(tx)
	existing, err := txRepo.FindBySumUpTransactionID(ctx, event.TransactionID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		return OutcomeDuplicate, nil
	}

	if order.Status != enums.OrderStatusPending {
		s.logg.Warn(ctx, fmt.Sprintf("paid notification for %s order, rejecting", order.Status))
		return OutcomeRejected, nil
	}
	if record.Status.IsTerminal() {
		s.logg.Warn(ctx, fmt.Sprintf("paid notification for %s checkout, rejecting", record.Status))
		return OutcomeRejected, nil
	}

	now := time.Now().UTC()
	transaction := &models.Transaction{
		ID:                 uuid.New(),
		OrderID:            order.ID,
		CheckoutID:         record.ID,
		SumUpTransactionID: event.TransactionID,
		// the split frozen at checkout creation, never recomputed here
		AmountPence:         record.AmountPence,
		PlatformFeePence:    record.PlatformFeePence,
		ArtistEarningsPence: record.ArtistAmountPence,
		Currency:            record.Currency,
		SettledAt:           now,
	}
	if err := txRepo.Create(ctx, transaction); err != nil {
		if db.IsUniqueViolation(err, "uq_transactions_sumup_transaction_id") {
			// concurrent delivery of the same notification; the other writer won
			return OutcomeDuplicate, nil
		}
		return OutcomeIgnored, fmt.Errorf("create transaction: %w", err)
	}

	record.Status = enums.CheckoutStatusPaid
	if err := checkoutRepo.Update(ctx, record); err != nil {
		return OutcomeIgnored, fmt.Errorf("mark checkout paid: %w", err)
	}

	order.Status = enums.OrderStatusConfirmed
	order.ConfirmedAt = &now
	if err := orderRepo.Update(ctx, order); err != nil {
		return OutcomeIgnored, fmt.Errorf("confirm order: %w", err)
	}

	if _, err := s.fulfillment.Issue(ctx, tx, order, transaction); err != nil {
		return OutcomeIgnored, fmt.Errorf("issue tickets: %w", err)
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderSettledEvent{
			OrderID:            order.ID,
			CheckoutID:         record.ID,
			Status:             enums.OrderStatusConfirmed.String(),
			SumUpTransactionID: event.TransactionID,
			AmountPence:        transaction.AmountPence,
			OccurredAt:         now,
		},
	})
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("emit order confirmed: %w", err)
	}

	s.logg.Info(ctx, "order confirmed")
	return OutcomeApplied, nil
}

func (s *Service) settleFailure(ctx context.Context, tx *gorm.DB, checkoutRepo checkout.Repository, orderRepo orders.Repository, record *models.Checkout, order *models.Order, target targetStatus) (Outcome, error) {
	orderTarget, checkoutTarget, eventType := failureMapping(target)

	if order.Status == orderTarget {
		return OutcomeDuplicate, nil
	}
	if order.Status != enums.OrderStatusPending {
		s.logg.Warn(ctx, fmt.Sprintf("%s notification for %s order, rejecting", target, order.Status))
		return OutcomeRejected, nil
	}
	if record.Status.IsTerminal() {
		if record.Status == checkoutTarget {
			return OutcomeDuplicate, nil
		}
		s.logg.Warn(ctx, fmt.Sprintf("%s notification for %s checkout, rejecting", target, record.Status))
		return OutcomeRejected, nil
	}

	now := time.Now().UTC()
	reason := string(target)
	record.Status = checkoutTarget
	record.FailureReason = &reason
	if err := checkoutRepo.Update(ctx, record); err != nil {
		return OutcomeIgnored, fmt.Errorf("mark checkout %s: %w", checkoutTarget, err)
	}

	order.Status = orderTarget
	switch orderTarget {
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	case enums.OrderStatusExpired:
		order.ExpiredAt = &now
	}
	if err := orderRepo.Update(ctx, order); err != nil {
		return OutcomeIgnored, fmt.Errorf("mark order %s: %w", orderTarget, err)
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderSettledEvent{
			OrderID:    order.ID,
			CheckoutID: record.ID,
			Status:     orderTarget.String(),
			OccurredAt: now,
		},
	})
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("emit order %s: %w", orderTarget, err)
	}

	s.logg.Info(ctx, fmt.Sprintf("order %s", orderTarget))
	return OutcomeApplied, nil
}

// settleRefund handles the one-way confirmed -> refunded edge. The checkout
// stays paid; the money movement is tracked on the order.
func (s *Service) settleRefund(ctx context.Context, tx *gorm.DB, orderRepo orders.Repository, record *models.Checkout, order *models.Order, event Event) (Outcome, error) {
	if order.Status == enums.OrderStatusRefunded {
		return OutcomeDuplicate, nil
	}
	if order.Status != enums.OrderStatusConfirmed {
		s.logg.Warn(ctx, fmt.Sprintf("refund notification for %s order, rejecting", order.Status))
		return OutcomeRejected, nil
	}

	now := time.Now().UTC()
	order.Status = enums.OrderStatusRefunded
	order.RefundedAt = &now
	if err := orderRepo.Update(ctx, order); err != nil {
		return OutcomeIgnored, fmt.Errorf("mark order refunded: %w", err)
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderSettledEvent{
			OrderID:            order.ID,
			CheckoutID:         record.ID,
			Status:             enums.OrderStatusRefunded.String(),
			SumUpTransactionID: event.TransactionID,
			OccurredAt:         now,
		},
	})
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("emit order refunded: %w", err)
	}

	s.logg.Info(ctx, "order refunded")
	return OutcomeApplied, nil
}

func failureMapping(target targetStatus) (enums.OrderStatus, enums.CheckoutStatus, enums.OutboxEventType) {
	switch target {
	case targetCancelled:
		return enums.OrderStatusCancelled, enums.CheckoutStatusFailed, enums.EventOrderCancelled
	case targetExpired:
		return enums.OrderStatusExpired, enums.CheckoutStatusExpired, enums.EventOrderExpired
	default:
		return enums.OrderStatusFailed, enums.CheckoutStatusFailed, enums.EventOrderFailed
	}
}
