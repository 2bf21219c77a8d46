package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/messaging-api/internal/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository backs the ledger with an in-process TTL cache.
// Expiry is handled by the cache itself, so CleanupExpired only reports what
// the janitor already evicted.
type IdempotencyRepository struct {
	cache *gocache.Cache
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		cache: gocache.New(defaultIdempotencyTTL, 10*time.Minute),
	}
}

func cacheKey(tenantID uuid.UUID, endpoint, key string) string {
	return tenantID.String() + "\x00" + endpoint + "\x00" + key
}

func (r *IdempotencyRepository) Check(_ context.Context, tenantID uuid.UUID, endpoint, key, requestHash string) (*model.IdempotencyCheck, error) {
	v, ok := r.cache.Get(cacheKey(tenantID, endpoint, key))
	if !ok {
		return &model.IdempotencyCheck{Outcome: model.IdempotencyAbsent}, nil
	}

	rec := v.(*model.IdempotencyRecord)
	if rec.RequestHash != requestHash {
		return &model.IdempotencyCheck{Outcome: model.IdempotencyConflict}, nil
	}
	return &model.IdempotencyCheck{
		Outcome:      model.IdempotencyHit,
		ResponseCode: rec.ResponseCode,
		ResponseBody: rec.ResponseBody,
	}, nil
}

func (r *IdempotencyRepository) StoreResult(_ context.Context, rec *model.IdempotencyRecord) error {
	ttl := gocache.DefaultExpiration
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
	}
	k := cacheKey(rec.TenantID, rec.Endpoint, rec.IdempotencyKey)
	// first writer wins, matching the postgres ON CONFLICT DO NOTHING
	_ = r.cache.Add(k, rec, ttl)
	return nil
}

func (r *IdempotencyRepository) CleanupExpired(_ context.Context) (int64, error) {
	before := int64(r.cache.ItemCount())
	r.cache.DeleteExpired()
	after := int64(r.cache.ItemCount())
	return before - after, nil
}
