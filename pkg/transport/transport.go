package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/messaging-api/internal/model"
)

// SendResult is the successful outcome of delivering one outbox item.
type SendResult struct {
	MessageID string
}

// Error is a classified delivery failure. Retryable errors reschedule the
// item with backoff; permanent ones dead-letter it immediately since a retry
// cannot succeed.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewRetryable(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

func NewPermanent(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: false}
}

// IsRetryable classifies any error from a Send call. Errors that are not a
// *transport.Error (connectivity, timeouts) are treated as retryable.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

// Transport delivers one item's payload to an external system at-least-once.
type Transport interface {
	Send(ctx context.Context, item *model.OutboxItem) (*SendResult, error)
}

// Registry routes items to a Transport by kind.
type Registry struct {
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

func (r *Registry) Register(kind string, t Transport) {
	r.transports[kind] = t
}

// Lookup returns the transport for kind. An unknown kind is permanent: no
// amount of retrying teaches the dispatcher a new transport.
func (r *Registry) Lookup(kind string) (Transport, error) {
	t, ok := r.transports[kind]
	if !ok {
		return nil, NewPermanent("unknown_kind", fmt.Sprintf("no transport registered for kind %q", kind))
	}
	return t, nil
}
