package inspect

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
	apperrors "github.com/jwalitptl/messaging-api/pkg/errors"
)

func addItem(t *testing.T, repo *memory.OutboxRepository, tenantID, aggregateID uuid.UUID) int64 {
	t.Helper()
	id, err := repo.Add(context.Background(), nil, &model.OutboxItem{
		TenantID:      tenantID,
		AggregateType: "conversation",
		AggregateID:   aggregateID,
		Kind:          model.KindEmail,
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return id
}

func TestDiagnoseUnknownItem(t *testing.T) {
	svc := NewService(memory.NewOutboxRepository(), 30*time.Second)

	_, err := svc.Diagnose(context.Background(), uuid.New(), 12345)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDiagnoseReadyItem(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	id := addItem(t, repo, tenantID, uuid.New())

	svc := NewService(repo, 30*time.Second)
	d, err := svc.Diagnose(context.Background(), tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, d.Status)
	assert.Contains(t, d.Reason, "ready")
}

func TestDiagnoseClaimedItem(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	id := addItem(t, repo, tenantID, uuid.New())

	_, err := repo.ClaimNextBatch(context.Background(), tenantID, "worker-7", 30*time.Second, 10)
	require.NoError(t, err)

	svc := NewService(repo, 30*time.Second)
	d, err := svc.Diagnose(context.Background(), tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusClaimed, d.Status)
	require.NotNil(t, d.LeasedBy)
	assert.Equal(t, "worker-7", *d.LeasedBy)
	assert.NotNil(t, d.LeaseExpiry)
}

func TestDiagnoseProcessedItem(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	id := addItem(t, repo, tenantID, uuid.New())
	require.NoError(t, repo.MarkProcessed(context.Background(), tenantID, id))

	svc := NewService(repo, 30*time.Second)
	d, err := svc.Diagnose(context.Background(), tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusProcessed, d.Status)
	assert.Contains(t, d.Reason, "delivered")
}

func TestDiagnoseDeadLetteredItem(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	id := addItem(t, repo, tenantID, uuid.New())
	require.NoError(t, repo.MarkFailed(context.Background(), tenantID, id, "rejected: bad number", time.Now(), true))

	svc := NewService(repo, 30*time.Second)
	d, err := svc.Diagnose(context.Background(), tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusDeadLettered, d.Status)
	assert.Contains(t, d.Reason, "dead-lettered")
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, "rejected")
}

func TestDiagnoseRetryBackoff(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	id := addItem(t, repo, tenantID, uuid.New())

	retryAt := time.Now().Add(time.Minute)
	require.NoError(t, repo.MarkFailed(context.Background(), tenantID, id, "503", retryAt, false))

	svc := NewService(repo, 30*time.Second)
	d, err := svc.Diagnose(context.Background(), tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, d.Status)
	assert.Contains(t, d.Reason, "backoff")
	require.NotNil(t, d.NextEligible)
	assert.True(t, d.NextEligible.Equal(retryAt))
}

func TestListByAggregate(t *testing.T) {
	repo := memory.NewOutboxRepository()
	tenantID := uuid.New()
	aggregateID := uuid.New()

	addItem(t, repo, tenantID, aggregateID)
	addItem(t, repo, tenantID, aggregateID)
	addItem(t, repo, tenantID, uuid.New())

	svc := NewService(repo, 30*time.Second)
	items, err := svc.ListByAggregate(context.Background(), tenantID, aggregateID, 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
