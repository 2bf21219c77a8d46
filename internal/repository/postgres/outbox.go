package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
)

const defaultMaxAttempts = 12

const outboxColumns = `
	id, tenant_id, aggregate_type, aggregate_id, kind, payload, dedupe_key,
	available_at, attempt, max_attempts, last_error, claimed_by, claimed_at,
	processed_at, dead_lettered_at, created_at, updated_at`

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// q returns the executor for the caller's transaction, or the pool when the
// caller is not inside one.
func (r *outboxRepository) q(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *outboxRepository) Add(ctx context.Context, tx *sqlx.Tx, item *model.OutboxItem) (int64, error) {
	if item == nil {
		return 0, fmt.Errorf("item cannot be nil")
	}
	if len(item.Payload) == 0 {
		return 0, fmt.Errorf("item payload cannot be empty")
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = defaultMaxAttempts
	}
	if item.AvailableAt.IsZero() {
		item.AvailableAt = time.Now()
	}

	query := `
		INSERT INTO outbox_events (
			tenant_id, aggregate_type, aggregate_id, kind, payload,
			dedupe_key, available_at, max_attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()
		)
		ON CONFLICT (tenant_id, dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.q(tx).QueryRowxContext(ctx, query,
		item.TenantID,
		item.AggregateType,
		item.AggregateID,
		item.Kind,
		item.Payload,
		item.DedupeKey,
		item.AvailableAt,
		item.MaxAttempts,
	).Scan(&id)

	switch {
	case err == nil:
		item.ID = id
		return id, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		// dedupe hit: resolve to the existing item, never an error
		return r.existingID(ctx, tx, item.TenantID, item.DedupeKey)
	default:
		return 0, fmt.Errorf("failed to add outbox item: %w", err)
	}
}

func (r *outboxRepository) existingID(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, dedupeKey *string) (int64, error) {
	if dedupeKey == nil {
		return 0, fmt.Errorf("outbox insert returned no id without a dedupe key")
	}
	var id int64
	err := sqlx.GetContext(ctx, r.q(tx), &id,
		`SELECT id FROM outbox_events WHERE tenant_id = $1 AND dedupe_key = $2`,
		tenantID, *dedupeKey,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve deduplicated outbox item: %w", err)
	}
	return id, nil
}

func (r *outboxRepository) AddMany(ctx context.Context, tx *sqlx.Tx, items []*model.OutboxItem) ([]int64, error) {
	if tx != nil {
		return r.addMany(ctx, tx, items)
	}

	// no caller transaction: open one so the batch is all-or-nothing
	var ids []int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ids, err = r.addMany(ctx, tx, items)
		return err
	})
	return ids, err
}

func (r *outboxRepository) addMany(ctx context.Context, tx *sqlx.Tx, items []*model.OutboxItem) ([]int64, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := r.Add(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *outboxRepository) ClaimNextBatch(ctx context.Context, tenantID uuid.UUID, workerID string, lease time.Duration, limit int) ([]*model.OutboxItem, error) {
	// The locking read skips rows claimed by concurrent workers, so two
	// dispatchers can never claim the same item. Lease expiry is part of the
	// claim predicate: a row abandoned by a crashed worker becomes claimable
	// again without any sweep.
	query := `
		UPDATE outbox_events SET
			claimed_by = $2,
			claimed_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE tenant_id = $1
			AND processed_at IS NULL
			AND dead_lettered_at IS NULL
			AND available_at <= NOW()
			AND (claimed_by IS NULL OR claimed_at < NOW() - ($3::bigint * interval '1 second'))
			ORDER BY available_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var items []*model.OutboxItem
	err := sqlx.SelectContext(ctx, r.db, &items, query, tenantID, workerID, int64(lease.Seconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}

	// RETURNING does not guarantee order
	sort.Slice(items, func(i, j int) bool {
		if items[i].AvailableAt.Equal(items[j].AvailableAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].AvailableAt.Before(items[j].AvailableAt)
	})
	return items, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, tenantID uuid.UUID, itemID int64) error {
	// terminal rows are immutable, so the predicate makes this idempotent
	query := `
		UPDATE outbox_events SET
			processed_at = NOW(),
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		AND processed_at IS NULL AND dead_lettered_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, tenantID, itemID); err != nil {
		return fmt.Errorf("failed to mark outbox item processed: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, tenantID uuid.UUID, itemID int64, errMsg string, retryAt time.Time, permanent bool) error {
	query := `
		UPDATE outbox_events SET
			attempt = attempt + 1,
			last_error = $3,
			claimed_by = NULL,
			claimed_at = NULL,
			dead_lettered_at = CASE
				WHEN $5 OR attempt + 1 >= max_attempts THEN NOW()
				ELSE NULL
			END,
			available_at = CASE
				WHEN $5 OR attempt + 1 >= max_attempts THEN available_at
				ELSE $4
			END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		AND processed_at IS NULL AND dead_lettered_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, tenantID, itemID, errMsg, retryAt, permanent); err != nil {
		return fmt.Errorf("failed to mark outbox item failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) Requeue(ctx context.Context, tenantID uuid.UUID, itemID int64, availableAt time.Time) error {
	query := `
		UPDATE outbox_events SET
			available_at = $3,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		AND processed_at IS NULL AND dead_lettered_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, tenantID, itemID, availableAt); err != nil {
		return fmt.Errorf("failed to requeue outbox item: %w", err)
	}
	return nil
}

func (r *outboxRepository) Get(ctx context.Context, tenantID uuid.UUID, itemID int64) (*model.OutboxItem, error) {
	var item model.OutboxItem
	query := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE tenant_id = $1 AND id = $2`
	err := r.db.GetContext(ctx, &item, query, tenantID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item: %w", err)
	}
	return &item, nil
}

func (r *outboxRepository) ListByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID, limit int) ([]*model.OutboxItem, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE tenant_id = $1 AND aggregate_id = $2
		ORDER BY id DESC
		LIMIT $3
	`
	var items []*model.OutboxItem
	if err := r.db.SelectContext(ctx, &items, query, tenantID, aggregateID, limit); err != nil {
		return nil, fmt.Errorf("failed to list outbox items: %w", err)
	}
	return items, nil
}

func (r *outboxRepository) TenantsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT tenant_id FROM outbox_events
		WHERE processed_at IS NULL
		AND dead_lettered_at IS NULL
		AND available_at <= NOW()
		LIMIT $1
	`
	var tenants []uuid.UUID
	if err := r.db.SelectContext(ctx, &tenants, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list tenants with pending items: %w", err)
	}
	return tenants, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE processed_at IS NOT NULL
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed items: %w", err)
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
