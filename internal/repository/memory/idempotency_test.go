package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/messaging-api/internal/model"
)

func storedRecord(tenantID uuid.UUID) *model.IdempotencyRecord {
	return &model.IdempotencyRecord{
		TenantID:       tenantID,
		Endpoint:       "POST /api/v1/messages",
		IdempotencyKey: "key-1",
		RequestHash:    "hash-a",
		ResponseCode:   202,
		ResponseBody:   json.RawMessage(`{"status":"success","data":{"id":7}}`),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func TestCheckAbsent(t *testing.T) {
	repo := NewIdempotencyRepository()

	check, err := repo.Check(context.Background(), uuid.New(), "POST /x", "nope", "h")
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyAbsent, check.Outcome)
}

func TestStoreThenReplay(t *testing.T) {
	repo := NewIdempotencyRepository()
	tenantID := uuid.New()
	ctx := context.Background()

	rec := storedRecord(tenantID)
	require.NoError(t, repo.StoreResult(ctx, rec))

	check, err := repo.Check(ctx, tenantID, rec.Endpoint, rec.IdempotencyKey, rec.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyHit, check.Outcome)
	assert.Equal(t, 202, check.ResponseCode)
	assert.JSONEq(t, string(rec.ResponseBody), string(check.ResponseBody))
}

func TestKeyReuseWithDifferentBodyConflicts(t *testing.T) {
	repo := NewIdempotencyRepository()
	tenantID := uuid.New()
	ctx := context.Background()

	require.NoError(t, repo.StoreResult(ctx, storedRecord(tenantID)))

	check, err := repo.Check(ctx, tenantID, "POST /api/v1/messages", "key-1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyConflict, check.Outcome)
}

func TestFirstWriterWins(t *testing.T) {
	repo := NewIdempotencyRepository()
	tenantID := uuid.New()
	ctx := context.Background()

	first := storedRecord(tenantID)
	require.NoError(t, repo.StoreResult(ctx, first))

	second := storedRecord(tenantID)
	second.ResponseCode = 500
	second.ResponseBody = json.RawMessage(`{"status":"error"}`)
	require.NoError(t, repo.StoreResult(ctx, second))

	check, err := repo.Check(ctx, tenantID, first.Endpoint, first.IdempotencyKey, first.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyHit, check.Outcome)
	assert.Equal(t, 202, check.ResponseCode)
}

func TestTenantsDoNotShareKeys(t *testing.T) {
	repo := NewIdempotencyRepository()
	ctx := context.Background()

	rec := storedRecord(uuid.New())
	require.NoError(t, repo.StoreResult(ctx, rec))

	check, err := repo.Check(ctx, uuid.New(), rec.Endpoint, rec.IdempotencyKey, rec.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyAbsent, check.Outcome)
}

func TestExpiredRecordIsAbsent(t *testing.T) {
	repo := NewIdempotencyRepository()
	tenantID := uuid.New()
	ctx := context.Background()

	rec := storedRecord(tenantID)
	rec.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	require.NoError(t, repo.StoreResult(ctx, rec))

	time.Sleep(50 * time.Millisecond)

	check, err := repo.Check(ctx, tenantID, rec.Endpoint, rec.IdempotencyKey, rec.RequestHash)
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyAbsent, check.Outcome)
}
