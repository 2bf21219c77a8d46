package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
	apperrors "github.com/jwalitptl/messaging-api/pkg/errors"
	"github.com/jwalitptl/messaging-api/pkg/logger"
)

// EmitRequest describes one unit of work to enqueue. ScheduleAt in the future
// turns the item into a scheduled send.
type EmitRequest struct {
	AggregateType string      `validate:"required"`
	AggregateID   uuid.UUID   `validate:"required"`
	Kind          string      `validate:"required"`
	Payload       interface{} `validate:"required"`
	DedupeKey     string
	ScheduleAt    time.Time
	MaxAttempts   int
}

// Service bridges domain writes into the outbox. Emit must be called with the
// command handler's transaction so the outbox row commits or rolls back with
// the business data.
type Service struct {
	outboxRepo repository.OutboxRepository
	validate   *validator.Validate
	logger     *logger.Logger
}

func NewService(outboxRepo repository.OutboxRepository, logger *logger.Logger) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		validate:   validator.New(),
		logger:     logger,
	}
}

func (s *Service) Emit(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, req EmitRequest) (int64, error) {
	item, err := s.buildItem(tenantID, req)
	if err != nil {
		return 0, err
	}

	id, err := s.outboxRepo.Add(ctx, tx, item)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox item: %w", err)
	}

	s.logger.Debug("outbox item enqueued",
		"tenant_id", tenantID.String(),
		"item_id", id,
		"kind", req.Kind,
	)
	return id, nil
}

// EmitMany enqueues a batch all-or-nothing.
func (s *Service) EmitMany(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, reqs []EmitRequest) ([]int64, error) {
	items := make([]*model.OutboxItem, 0, len(reqs))
	for _, req := range reqs {
		item, err := s.buildItem(tenantID, req)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	ids, err := s.outboxRepo.AddMany(ctx, tx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox batch: %w", err)
	}
	return ids, nil
}

// EmitEvent enqueues a kind=event item carrying a domain event for broker
// publication.
func (s *Service) EmitEvent(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, eventType, aggregateType string, aggregateID uuid.UUID, data interface{}) (int64, error) {
	return s.Emit(ctx, tx, tenantID, EmitRequest{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Kind:          model.KindDomainEvent,
		Payload: map[string]interface{}{
			"event_type": eventType,
			"data":       data,
		},
	})
}

func (s *Service) buildItem(tenantID uuid.UUID, req EmitRequest) (*model.OutboxItem, error) {
	if tenantID == uuid.Nil {
		return nil, apperrors.BadRequest("tenant id is required", nil)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.BadRequest("invalid emit request", err)
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, apperrors.BadRequest("failed to marshal payload", err)
	}

	item := &model.OutboxItem{
		TenantID:      tenantID,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		Kind:          req.Kind,
		Payload:       payload,
		AvailableAt:   req.ScheduleAt,
		MaxAttempts:   req.MaxAttempts,
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		item.DedupeKey = &key
	}
	return item, nil
}
