package outbox

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/messaging-api/internal/handler"
	"github.com/jwalitptl/messaging-api/internal/middleware"
	"github.com/jwalitptl/messaging-api/internal/repository/postgres"
	"github.com/jwalitptl/messaging-api/internal/service/inspect"
	"github.com/jwalitptl/messaging-api/internal/service/publisher"
	apperrors "github.com/jwalitptl/messaging-api/pkg/errors"
)

// Handler exposes the enqueue and inspection endpoints. Enqueues run inside a
// database transaction so the outbox row commits atomically with any future
// domain writes sharing that transaction.
type Handler struct {
	base      postgres.BaseRepository
	publisher *publisher.Service
	inspector *inspect.Service
}

func NewHandler(base postgres.BaseRepository, pub *publisher.Service, ins *inspect.Service) *Handler {
	return &Handler{base: base, publisher: pub, inspector: ins}
}

type enqueueRequest struct {
	AggregateType string          `json:"aggregate_type" binding:"required"`
	AggregateID   uuid.UUID       `json:"aggregate_id" binding:"required"`
	Kind          string          `json:"kind" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
	DedupeKey     string          `json:"dedupe_key"`
	ScheduleAt    *time.Time      `json:"schedule_at"`
	MaxAttempts   int             `json:"max_attempts"`
}

type enqueueEventRequest struct {
	EventType     string          `json:"event_type" binding:"required"`
	AggregateType string          `json:"aggregate_type" binding:"required"`
	AggregateID   uuid.UUID       `json:"aggregate_id" binding:"required"`
	Data          json.RawMessage `json:"data" binding:"required"`
}

func (r *enqueueRequest) toEmitRequest() publisher.EmitRequest {
	req := publisher.EmitRequest{
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		Kind:          r.Kind,
		Payload:       r.Payload,
		DedupeKey:     r.DedupeKey,
		MaxAttempts:   r.MaxAttempts,
	}
	if r.ScheduleAt != nil {
		req.ScheduleAt = *r.ScheduleAt
	}
	return req
}

// Enqueue accepts a single message for asynchronous delivery.
func (h *Handler) Enqueue(c *gin.Context) {
	tenantID, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required"))
		return
	}

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var id int64
	err := h.base.WithTx(c.Request.Context(), func(tx *sqlx.Tx) error {
		var err error
		id, err = h.publisher.Emit(c.Request.Context(), tx, tenantID, req.toEmitRequest())
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"id": id}))
}

// EnqueueBatch accepts a batch of messages, all-or-nothing.
func (h *Handler) EnqueueBatch(c *gin.Context) {
	tenantID, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required"))
		return
	}

	var reqs []enqueueRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("empty batch"))
		return
	}

	emits := make([]publisher.EmitRequest, 0, len(reqs))
	for _, r := range reqs {
		emits = append(emits, r.toEmitRequest())
	}

	var ids []int64
	err := h.base.WithTx(c.Request.Context(), func(tx *sqlx.Tx) error {
		var err error
		ids, err = h.publisher.EmitMany(c.Request.Context(), tx, tenantID, emits)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"ids": ids}))
}

// EnqueueEvent accepts a domain event for broker publication.
func (h *Handler) EnqueueEvent(c *gin.Context) {
	tenantID, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required"))
		return
	}

	var req enqueueEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var id int64
	err := h.base.WithTx(c.Request.Context(), func(tx *sqlx.Tx) error {
		var err error
		id, err = h.publisher.EmitEvent(c.Request.Context(), tx, tenantID,
			req.EventType, req.AggregateType, req.AggregateID, req.Data)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"id": id}))
}

// Diagnose reports an item's state and why it is in that state.
func (h *Handler) Diagnose(c *gin.Context) {
	tenantID, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required"))
		return
	}

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid item ID"))
		return
	}

	diagnosis, err := h.inspector.Diagnose(c.Request.Context(), tenantID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(diagnosis))
}

// ListByAggregate returns the outbox history for one aggregate.
func (h *Handler) ListByAggregate(c *gin.Context) {
	tenantID, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required"))
		return
	}

	aggregateID, err := uuid.Parse(c.Query("aggregate_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid aggregate ID"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid limit"))
			return
		}
	}

	items, err := h.inspector.ListByAggregate(c.Request.Context(), tenantID, aggregateID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

func respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, handler.NewErrorResponse(err.Error()))
	case apperrors.IsConflict(err):
		c.JSON(http.StatusConflict, handler.NewErrorResponse(err.Error()))
	case apperrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
	}
}
