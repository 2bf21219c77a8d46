package inspect

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
	apperrors "github.com/jwalitptl/messaging-api/pkg/errors"
)

// Diagnosis explains why an item is in its current state, for operators
// asking "why hasn't this been sent yet". Read-only; never touches the write
// path.
type Diagnosis struct {
	ItemID      int64              `json:"item_id"`
	Status      model.OutboxStatus `json:"status"`
	Reason      string             `json:"reason"`
	Attempt     int                `json:"attempt"`
	MaxAttempts int                `json:"max_attempts"`
	LastError   *string            `json:"last_error,omitempty"`
	NextEligible *time.Time        `json:"next_eligible,omitempty"`
	LeasedBy    *string            `json:"leased_by,omitempty"`
	LeaseExpiry *time.Time         `json:"lease_expiry,omitempty"`
}

type Service struct {
	outboxRepo repository.OutboxRepository
	lease      time.Duration
}

func NewService(outboxRepo repository.OutboxRepository, lease time.Duration) *Service {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Service{outboxRepo: outboxRepo, lease: lease}
}

func (s *Service) ListByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID, limit int) ([]*model.OutboxItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.outboxRepo.ListByAggregate(ctx, tenantID, aggregateID, limit)
}

func (s *Service) Diagnose(ctx context.Context, tenantID uuid.UUID, itemID int64) (*Diagnosis, error) {
	item, err := s.outboxRepo.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperrors.NotFound("outbox item", nil)
	}

	now := time.Now()
	d := &Diagnosis{
		ItemID:      item.ID,
		Status:      item.Status(now, s.lease),
		Attempt:     item.Attempt,
		MaxAttempts: item.MaxAttempts,
		LastError:   item.LastError,
	}

	switch d.Status {
	case model.OutboxStatusProcessed:
		d.Reason = fmt.Sprintf("delivered at %s", item.ProcessedAt.Format(time.RFC3339))
	case model.OutboxStatusDeadLettered:
		d.Reason = fmt.Sprintf("dead-lettered after %d attempts; operator intervention required", item.Attempt)
	case model.OutboxStatusClaimed:
		expiry := item.ClaimedAt.Add(s.lease)
		d.LeasedBy = item.ClaimedBy
		d.LeaseExpiry = &expiry
		d.Reason = fmt.Sprintf("currently leased to %s until %s", *item.ClaimedBy, expiry.Format(time.RFC3339))
	default:
		if item.AvailableAt.After(now) {
			next := item.AvailableAt
			d.NextEligible = &next
			if item.Attempt > 0 {
				d.Reason = fmt.Sprintf("waiting out retry backoff until %s (attempt %d of %d)",
					next.Format(time.RFC3339), item.Attempt, item.MaxAttempts)
			} else {
				d.Reason = fmt.Sprintf("scheduled for %s", next.Format(time.RFC3339))
			}
		} else {
			d.Reason = "ready; will be claimed on the next dispatcher poll"
		}
	}
	return d, nil
}
