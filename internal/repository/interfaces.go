package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/messaging-api/internal/model"
)

// OutboxRepository is the durable, tenant-scoped append log of pending work.
// Every operation is parameterized by tenant so no call can observe or mutate
// another tenant's rows. Two implementations exist: postgres for production
// and memory for tests.
type OutboxRepository interface {
	// Add inserts one item. When tx is non-nil the insert joins the caller's
	// transaction so it commits atomically with the business write. A
	// duplicate dedupe key is not an error: the existing item's id is
	// returned and no row is written.
	Add(ctx context.Context, tx *sqlx.Tx, item *model.OutboxItem) (int64, error)

	// AddMany is the all-or-nothing batch variant of Add.
	AddMany(ctx context.Context, tx *sqlx.Tx, items []*model.OutboxItem) ([]int64, error)

	// ClaimNextBatch atomically claims up to limit ready items for workerID.
	// An item is ready when it is non-terminal, available_at has passed, and
	// it is unclaimed or its current claim's lease has expired. Items are
	// returned in (available_at, id) order.
	ClaimNextBatch(ctx context.Context, tenantID uuid.UUID, workerID string, lease time.Duration, limit int) ([]*model.OutboxItem, error)

	// MarkProcessed records terminal success. Marking an already-processed
	// item is a no-op.
	MarkProcessed(ctx context.Context, tenantID uuid.UUID, itemID int64) error

	// MarkFailed records a failed attempt. The item re-enters the pool at
	// retryAt unless the attempt budget is exhausted or permanent is set, in
	// which case it is dead-lettered.
	MarkFailed(ctx context.Context, tenantID uuid.UUID, itemID int64, errMsg string, retryAt time.Time, permanent bool) error

	// Requeue releases a claim and pushes available_at forward without
	// counting an attempt. Used for rate-limit deferral.
	Requeue(ctx context.Context, tenantID uuid.UUID, itemID int64, availableAt time.Time) error

	Get(ctx context.Context, tenantID uuid.UUID, itemID int64) (*model.OutboxItem, error)
	ListByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID, limit int) ([]*model.OutboxItem, error)

	// TenantsWithPending lists tenants that currently have claimable items,
	// so one dispatcher can multiplex across tenants.
	TenantsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error)

	// DeleteProcessedBefore prunes terminally processed rows for retention.
	// Dead-lettered rows are never pruned here.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// IdempotencyRepository is the (tenant, endpoint, key) -> cached result
// ledger guarding the API boundary.
type IdempotencyRepository interface {
	// Check looks up the key. Absent means the request is new; Hit carries
	// the stored response for verbatim replay; Conflict means the key was
	// reused with a different request hash.
	Check(ctx context.Context, tenantID uuid.UUID, endpoint, key, requestHash string) (*model.IdempotencyCheck, error)

	// StoreResult persists the outcome of a successfully processed request.
	StoreResult(ctx context.Context, rec *model.IdempotencyRecord) error

	// CleanupExpired deletes records past their TTL and returns the count.
	CleanupExpired(ctx context.Context) (int64, error)
}
