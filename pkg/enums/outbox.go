package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateCheckout   OutboxAggregateType = "checkout"
	AggregateConnection OutboxAggregateType = "artist_connection"
	AggregateTicket     OutboxAggregateType = "ticket"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCheckout,
	AggregateConnection,
	AggregateTicket,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderConfirmed            OutboxEventType = "order_confirmed"
	EventOrderFailed               OutboxEventType = "order_failed"
	EventOrderCancelled            OutboxEventType = "order_cancelled"
	EventOrderExpired              OutboxEventType = "order_expired"
	EventOrderRefunded             OutboxEventType = "order_refunded"
	EventTicketsIssued             OutboxEventType = "tickets_issued"
	EventConnectionReconnectNeeded OutboxEventType = "connection_reconnect_needed"
	EventConnectionEstablished     OutboxEventType = "connection_established"
	EventConnectionRevoked         OutboxEventType = "connection_revoked"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderConfirmed,
	EventOrderFailed,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderRefunded,
	EventTicketsIssued,
	EventConnectionReconnectNeeded,
	EventConnectionEstablished,
	EventConnectionRevoked,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
