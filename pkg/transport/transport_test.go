package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/messaging-api/internal/model"
)

type stubTransport struct{ id string }

func (s *stubTransport) Send(context.Context, *model.OutboxItem) (*SendResult, error) {
	return &SendResult{MessageID: s.id}, nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	email := &stubTransport{id: "email"}
	r.Register(model.KindEmail, email)

	got, err := r.Lookup(model.KindEmail)
	require.NoError(t, err)
	assert.Same(t, email, got)
}

func TestRegistryUnknownKindIsPermanent(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("carrier_pigeon")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "unknown_kind", te.Code)
}

func TestIsRetryable(t *testing.T) {
	testcases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "retryable transport error", err: NewRetryable("remote_throttled", "429"), want: true},
		{name: "permanent transport error", err: NewPermanent("rejected", "bad number"), want: false},
		{name: "wrapped permanent error", err: fmt.Errorf("send: %w", NewPermanent("rejected", "x")), want: false},
		{name: "plain error defaults to retryable", err: errors.New("connection refused"), want: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewRetryable("remote_throttled", "slow down")
	assert.Equal(t, "remote_throttled: slow down", err.Error())
}
