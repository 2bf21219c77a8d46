package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository/memory"
)

func TestCleanupPrunesOnlyOldProcessedItems(t *testing.T) {
	outboxRepo := memory.NewOutboxRepository()
	idempotencyRepo := memory.NewIdempotencyRepository()
	tenantID := uuid.New()
	ctx := context.Background()

	now := time.Now()
	outboxRepo.Now = func() time.Time { return now.Add(-48 * time.Hour) }

	oldProcessed, err := outboxRepo.Add(ctx, nil, &model.OutboxItem{
		TenantID:      tenantID,
		AggregateType: "conversation",
		AggregateID:   uuid.New(),
		Kind:          model.KindEmail,
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, outboxRepo.MarkProcessed(ctx, tenantID, oldProcessed))

	outboxRepo.Now = time.Now
	pending, err := outboxRepo.Add(ctx, nil, &model.OutboxItem{
		TenantID:      tenantID,
		AggregateType: "conversation",
		AggregateID:   uuid.New(),
		Kind:          model.KindEmail,
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	w := NewCleanupWorker(outboxRepo, idempotencyRepo, 24*time.Hour, time.Hour, testLogger)
	w.cleanup(ctx)

	gone, err := outboxRepo.Get(ctx, tenantID, oldProcessed)
	require.NoError(t, err)
	assert.Nil(t, gone, "processed item past retention is pruned")

	kept, err := outboxRepo.Get(ctx, tenantID, pending)
	require.NoError(t, err)
	assert.NotNil(t, kept, "pending item survives cleanup")
}

func TestNewCleanupWorkerDefaults(t *testing.T) {
	w := NewCleanupWorker(memory.NewOutboxRepository(), memory.NewIdempotencyRepository(), 0, 0, testLogger)

	assert.Equal(t, 7*24*time.Hour, w.retention)
	assert.Equal(t, time.Hour, w.interval)
}
