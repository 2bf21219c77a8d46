package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/pkg/messaging"
)

// BrokerTransport publishes kind=event items to the message broker. Broker
// failures are connectivity problems and therefore always retryable.
type BrokerTransport struct {
	broker  messaging.Broker
	channel string
}

// payload shape for kind=event items.
type eventPayload struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

func NewBrokerTransport(broker messaging.Broker, channel string) *BrokerTransport {
	return &BrokerTransport{broker: broker, channel: channel}
}

func (t *BrokerTransport) Send(ctx context.Context, item *model.OutboxItem) (*SendResult, error) {
	var ev eventPayload
	if err := json.Unmarshal(item.Payload, &ev); err != nil {
		return nil, NewPermanent("invalid_payload", fmt.Sprintf("malformed event payload: %v", err))
	}
	if ev.EventType == "" {
		return nil, NewPermanent("invalid_payload", "event payload missing event_type")
	}

	envelope := messaging.Envelope{
		EventType:     ev.EventType,
		TenantID:      item.TenantID.String(),
		AggregateType: item.AggregateType,
		AggregateID:   item.AggregateID.String(),
		Payload:       json.RawMessage(ev.Data),
	}
	if err := t.broker.Publish(ctx, t.channel, envelope); err != nil {
		return nil, NewRetryable("broker_publish", err.Error())
	}
	return &SendResult{MessageID: fmt.Sprintf("%s-%d", ev.EventType, item.ID)}, nil
}
