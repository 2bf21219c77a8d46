package messaging

import (
	"context"
)

// Broker is the downstream consumer-facing side of the outbox: processed
// domain events are published here for interested services to pick up.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Envelope is the wire shape published for kind=event outbox items.
type Envelope struct {
	EventType     string      `json:"event_type"`
	TenantID      string      `json:"tenant_id"`
	AggregateType string      `json:"aggregate_type"`
	AggregateID   string      `json:"aggregate_id"`
	Payload       interface{} `json:"payload"`
}
