package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/messaging-api/internal/model"
)

const defaultMaxAttempts = 12

// OutboxRepository is an in-memory implementation of
// repository.OutboxRepository with the same claim/lease semantics as the
// postgres one. Used by tests and local development; the tx parameter is
// accepted and ignored.
type OutboxRepository struct {
	mu     sync.Mutex
	items  map[int64]*model.OutboxItem
	dedupe map[string]int64
	nextID int64

	// Now is injectable so lease expiry can be tested without sleeping.
	Now func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		items:  make(map[int64]*model.OutboxItem),
		dedupe: make(map[string]int64),
		Now:    time.Now,
	}
}

func dedupeKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + "\x00" + key
}

func (r *OutboxRepository) Add(_ context.Context, _ *sqlx.Tx, item *model.OutboxItem) (int64, error) {
	if item == nil {
		return 0, fmt.Errorf("item cannot be nil")
	}
	if len(item.Payload) == 0 {
		return 0, fmt.Errorf("item payload cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(item)
}

func (r *OutboxRepository) addLocked(item *model.OutboxItem) (int64, error) {
	now := r.Now()

	if item.DedupeKey != nil {
		if id, ok := r.dedupe[dedupeKey(item.TenantID, *item.DedupeKey)]; ok {
			return id, nil
		}
	}

	r.nextID++
	stored := *item
	stored.ID = r.nextID
	if stored.MaxAttempts <= 0 {
		stored.MaxAttempts = defaultMaxAttempts
	}
	if stored.AvailableAt.IsZero() {
		stored.AvailableAt = now
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.items[stored.ID] = &stored
	if stored.DedupeKey != nil {
		r.dedupe[dedupeKey(stored.TenantID, *stored.DedupeKey)] = stored.ID
	}
	item.ID = stored.ID
	return stored.ID, nil
}

func (r *OutboxRepository) AddMany(_ context.Context, _ *sqlx.Tx, items []*model.OutboxItem) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if item == nil || len(item.Payload) == 0 {
			return nil, fmt.Errorf("item payload cannot be empty")
		}
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := r.addLocked(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *OutboxRepository) ClaimNextBatch(_ context.Context, tenantID uuid.UUID, workerID string, lease time.Duration, limit int) ([]*model.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	var ready []*model.OutboxItem
	for _, item := range r.items {
		if item.TenantID != tenantID || item.Terminal() {
			continue
		}
		if item.AvailableAt.After(now) {
			continue
		}
		if item.ClaimedAt != nil && now.Sub(*item.ClaimedAt) < lease {
			continue
		}
		ready = append(ready, item)
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].AvailableAt.Equal(ready[j].AvailableAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].AvailableAt.Before(ready[j].AvailableAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]*model.OutboxItem, 0, len(ready))
	for _, item := range ready {
		worker := workerID
		claimedAt := now
		item.ClaimedBy = &worker
		item.ClaimedAt = &claimedAt
		item.UpdatedAt = now

		cp := *item
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *OutboxRepository) MarkProcessed(_ context.Context, tenantID uuid.UUID, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok || item.TenantID != tenantID || item.Terminal() {
		return nil
	}
	now := r.Now()
	item.ProcessedAt = &now
	item.ClaimedBy = nil
	item.ClaimedAt = nil
	item.UpdatedAt = now
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, tenantID uuid.UUID, itemID int64, errMsg string, retryAt time.Time, permanent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok || item.TenantID != tenantID || item.Terminal() {
		return nil
	}

	now := r.Now()
	item.Attempt++
	item.LastError = &errMsg
	item.ClaimedBy = nil
	item.ClaimedAt = nil
	item.UpdatedAt = now

	if permanent || item.Attempt >= item.MaxAttempts {
		item.DeadLetteredAt = &now
	} else {
		item.AvailableAt = retryAt
	}
	return nil
}

func (r *OutboxRepository) Requeue(_ context.Context, tenantID uuid.UUID, itemID int64, availableAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok || item.TenantID != tenantID || item.Terminal() {
		return nil
	}
	item.AvailableAt = availableAt
	item.ClaimedBy = nil
	item.ClaimedAt = nil
	item.UpdatedAt = r.Now()
	return nil
}

func (r *OutboxRepository) Get(_ context.Context, tenantID uuid.UUID, itemID int64) (*model.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok || item.TenantID != tenantID {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *OutboxRepository) ListByAggregate(_ context.Context, tenantID, aggregateID uuid.UUID, limit int) ([]*model.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*model.OutboxItem
	for _, item := range r.items {
		if item.TenantID == tenantID && item.AggregateID == aggregateID {
			cp := *item
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *OutboxRepository) TenantsWithPending(_ context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	seen := make(map[uuid.UUID]bool)
	var tenants []uuid.UUID
	for _, item := range r.items {
		if item.Terminal() || item.AvailableAt.After(now) || seen[item.TenantID] {
			continue
		}
		seen[item.TenantID] = true
		tenants = append(tenants, item.TenantID)
		if len(tenants) >= limit {
			break
		}
	}
	return tenants, nil
}

func (r *OutboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, item := range r.items {
		if item.ProcessedAt != nil && item.ProcessedAt.Before(before) {
			delete(r.items, id)
			if item.DedupeKey != nil {
				delete(r.dedupe, dedupeKey(item.TenantID, *item.DedupeKey))
			}
			count++
		}
	}
	return count, nil
}
