package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepository struct {
	BaseRepository
}

func NewIdempotencyRepository(base BaseRepository) repository.IdempotencyRepository {
	return &idempotencyRepository{base}
}

func (r *idempotencyRepository) Check(ctx context.Context, tenantID uuid.UUID, endpoint, key, requestHash string) (*model.IdempotencyCheck, error) {
	query := `
		SELECT tenant_id, endpoint, idempotency_key, request_hash,
			response_code, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE tenant_id = $1
		AND endpoint = $2
		AND idempotency_key = $3
		AND expires_at > NOW()
	`

	var rec model.IdempotencyRecord
	err := r.db.GetContext(ctx, &rec, query, tenantID, endpoint, key)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.IdempotencyCheck{Outcome: model.IdempotencyAbsent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	// same key, different body: a client error, never a cache hit
	if rec.RequestHash != requestHash {
		return &model.IdempotencyCheck{Outcome: model.IdempotencyConflict}, nil
	}

	return &model.IdempotencyCheck{
		Outcome:      model.IdempotencyHit,
		ResponseCode: rec.ResponseCode,
		ResponseBody: rec.ResponseBody,
	}, nil
}

func (r *idempotencyRepository) StoreResult(ctx context.Context, rec *model.IdempotencyRecord) error {
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = time.Now().Add(defaultIdempotencyTTL)
	}

	// A concurrent duplicate may have stored first; the earlier record wins
	// and this write becomes a no-op.
	query := `
		INSERT INTO idempotency_keys (
			tenant_id, endpoint, idempotency_key, request_hash,
			response_code, response_body, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (tenant_id, endpoint, idempotency_key) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.TenantID,
		rec.Endpoint,
		rec.IdempotencyKey,
		rec.RequestHash,
		rec.ResponseCode,
		rec.ResponseBody,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup idempotency keys: %w", err)
	}
	return result.RowsAffected()
}
