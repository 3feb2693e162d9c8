package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderSettledEvent is published when a settlement transition lands an order
// in a new status.
type OrderSettledEvent struct {
	OrderID            uuid.UUID `json:"orderId"`
	CheckoutID         uuid.UUID `json:"checkoutId"`
	Status             string    `json:"status"`
	SumUpTransactionID string    `json:"sumupTransactionId,omitempty"`
	AmountPence        int64     `json:"amountPence"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// TicketsIssuedEvent notifies fulfillment consumers that admissions exist.
type TicketsIssuedEvent struct {
	OrderID       uuid.UUID   `json:"orderId"`
	TransactionID uuid.UUID   `json:"transactionId"`
	TicketIDs     []uuid.UUID `json:"ticketIds"`
	BuyerEmail    string      `json:"buyerEmail"`
	IssuedAt      time.Time   `json:"issuedAt"`
}

// ReconnectNeededEvent prompts the notification collaborator to ask the
// artist to re-run the connect flow.
type ReconnectNeededEvent struct {
	ArtistID uuid.UUID `json:"artistId"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ConnectionChangedEvent reports connect/disconnect lifecycle edges.
type ConnectionChangedEvent struct {
	ArtistID     uuid.UUID `json:"artistId"`
	MerchantCode string    `json:"merchantCode,omitempty"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}
