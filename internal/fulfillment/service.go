// Package fulfillment turns settled transactions into issued tickets.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox/payloads"
)

// ServiceParams groups dependencies for the fulfillment service.
type ServiceParams struct {
	Repo   Repository
	Outbox outbox.Emitter
	Logger *logger.Logger
}

// Service issues admission tickets once a payment settles.
type Service struct {
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService builds a fulfillment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: params.Repo, outbox: params.Outbox, logg: params.Logger}, nil
}

// Issue creates one ticket per unit of line-item quantity inside the caller's
// settlement transaction, so tickets exist exactly when the order confirms.
// Callers guarantee it runs at most once per transaction; the dedup lives in
// the settlement state machine, not here.
func (s *Service) Issue(ctx context.Context, tx *gorm.DB, order *models.Order, transaction *models.Transaction) ([]models.Ticket, error) {
	if order == nil || transaction == nil {
		return nil, errors.New("order and transaction are required")
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("order %s has no line items to fulfil", order.ID)
	}

	now := time.Now().UTC()
	var tickets []models.Ticket
	for _, item := range order.Items {
		for unit := 0; unit < item.Quantity; unit++ {
			tickets = append(tickets, models.Ticket{
				ID:            uuid.New(),
				OrderID:       order.ID,
				LineItemID:    item.ID,
				TransactionID: transaction.ID,
				ProductName:   item.ProductName,
				Code:          newTicketCode(),
				IssuedAt:      now,
			})
		}
	}

	repo := s.repo.WithTx(tx)
	if err := repo.CreateBatch(ctx, tickets); err != nil {
		return nil, fmt.Errorf("create tickets: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(tickets))
	for i := range tickets {
		ids = append(ids, tickets[i].ID)
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTicketsIssued,
		AggregateType: enums.AggregateTicket,
		AggregateID:   order.ID,
		Data: payloads.TicketsIssuedEvent{
			OrderID:       order.ID,
			TransactionID: transaction.ID,
			TicketIDs:     ids,
			BuyerEmail:    order.BuyerEmail,
			IssuedAt:      now,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("emit tickets issued: %w", err)
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("issued %d tickets", len(tickets)))
	return tickets, nil
}

// ListForOrder returns the tickets issued for an order.
func (s *Service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

func newTicketCode() string {
	return "tkt_" + uuid.NewString()
}
