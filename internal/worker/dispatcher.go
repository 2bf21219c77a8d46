package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
	"github.com/jwalitptl/messaging-api/pkg/backoff"
	"github.com/jwalitptl/messaging-api/pkg/logger"
	"github.com/jwalitptl/messaging-api/pkg/metrics"
	"github.com/jwalitptl/messaging-api/pkg/ratelimit"
	"github.com/jwalitptl/messaging-api/pkg/transport"
)

const (
	defaultBatchSize          = 100
	defaultPollInterval       = 5 * time.Second
	defaultLeaseDuration      = 30 * time.Second
	defaultMaxTenantsPerCycle = 50
	defaultDeferral           = 2 * time.Second
)

// DispatcherConfig tunes the poll/claim/dispatch loop.
type DispatcherConfig struct {
	BatchSize          int           // items claimed per tenant per cycle
	PollInterval       time.Duration // idle wait between cycles
	LeaseDuration      time.Duration // must cover transport latency plus margin
	MaxTenantsPerCycle int
	Deferral           time.Duration // requeue delay on rate-limit denial
	Backoff            backoff.Policy
}

// validateConfig applies defaults for unset fields.
func validateConfig(c *DispatcherConfig) {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.MaxTenantsPerCycle <= 0 {
		c.MaxTenantsPerCycle = defaultMaxTenantsPerCycle
	}
	if c.Deferral <= 0 {
		c.Deferral = defaultDeferral
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = backoff.DefaultPolicy()
	}
}

// Dispatcher claims batches of ready outbox items, pushes them through the
// transport registry, and records each item's outcome. Any number of
// dispatcher instances can run concurrently; the store's atomic claim is the
// only coordination between them.
type Dispatcher struct {
	repo       repository.OutboxRepository
	transports *transport.Registry
	limiter    ratelimit.Limiter
	config     DispatcherConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	workerID   string
}

func NewDispatcher(
	repo repository.OutboxRepository,
	transports *transport.Registry,
	limiter ratelimit.Limiter,
	config DispatcherConfig,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	validateConfig(&config)
	workerID := generateWorkerID()
	return &Dispatcher{
		repo:       repo,
		transports: transports,
		limiter:    limiter,
		config:     config,
		logger:     logger.WithFields(map[string]interface{}{"worker_id": workerID}),
		metrics:    m,
		workerID:   workerID,
	}
}

func (d *Dispatcher) WorkerID() string {
	return d.workerID
}

// Run polls until ctx is cancelled. Store-level failures back the poll off
// exponentially so a down database is not hammered; a full batch polls again
// immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting outbox dispatcher")

	pollBackoff := backoff.Policy{Base: d.config.PollInterval, Max: 2 * time.Minute}
	consecutiveFailures := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down outbox dispatcher")
			return
		case <-timer.C:
		}

		dispatched, err := d.runCycle(ctx)

		var next time.Duration
		switch {
		case err != nil:
			consecutiveFailures++
			next = pollBackoff.Delay(consecutiveFailures - 1)
			d.logger.Error(err, "dispatch cycle failed", "consecutive_failures", consecutiveFailures)
		case dispatched > 0:
			// more work is likely waiting
			consecutiveFailures = 0
			next = 0
		default:
			consecutiveFailures = 0
			next = d.config.PollInterval
		}
		timer.Reset(next)
	}
}

// runCycle claims and processes one batch per tenant. The returned error is
// only for store-level failures that abort the whole cycle; individual item
// failures never do.
func (d *Dispatcher) runCycle(ctx context.Context) (int, error) {
	tenants, err := d.repo.TenantsWithPending(ctx, d.config.MaxTenantsPerCycle)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("tenants_with_pending", "error").Inc()
		return 0, fmt.Errorf("failed to list tenants with pending items: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("tenants_with_pending", "success").Inc()

	total := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return total, nil
		}
		n, err := d.processTenant(ctx, tenantID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *Dispatcher) processTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	items, err := d.repo.ClaimNextBatch(ctx, tenantID, d.workerID, d.config.LeaseDuration, d.config.BatchSize)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("claim_batch", "error").Inc()
		return 0, fmt.Errorf("failed to claim batch for tenant %s: %w", tenantID, err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("claim_batch", "success").Inc()
	d.metrics.ClaimBatchSize.Observe(float64(len(items)))

	for _, item := range items {
		// Shutdown before the transport call abandons cleanly: the claim
		// simply expires and another worker picks the item up.
		if ctx.Err() != nil {
			return len(items), nil
		}
		d.processItem(ctx, item)
	}
	return len(items), nil
}

// processItem delivers one claimed item and records the outcome. Errors are
// contained here so one bad item cannot abort the rest of the batch.
func (d *Dispatcher) processItem(ctx context.Context, item *model.OutboxItem) {
	log := d.logger.WithFields(map[string]interface{}{
		"tenant_id": item.TenantID.String(),
		"item_id":   item.ID,
		"kind":      item.Kind,
	})

	allowed, err := d.limiter.Allow(ctx, rateLimitKey(item), 1)
	if err != nil {
		// limiter trouble is not the item's fault; release without an attempt
		log.Error(err, "rate limiter check failed, requeueing item")
		allowed = false
	}
	if !allowed {
		// throttling is admission control, not a delivery failure
		d.metrics.ItemsDeferred.WithLabelValues(item.Kind).Inc()
		if err := d.repo.Requeue(ctx, item.TenantID, item.ID, time.Now().Add(d.config.Deferral)); err != nil {
			log.Error(err, "failed to requeue rate-limited item")
		}
		return
	}

	timer := prometheus.NewTimer(d.metrics.DispatchLatency.WithLabelValues(item.Kind))
	result, sendErr := d.send(ctx, item)
	timer.ObserveDuration()

	if sendErr == nil {
		d.metrics.ItemsProcessed.WithLabelValues(item.Kind).Inc()
		if err := d.repo.MarkProcessed(ctx, item.TenantID, item.ID); err != nil {
			// the send happened; lease expiry will cause a duplicate send,
			// which is the accepted at-least-once limitation
			log.Error(err, "failed to mark item processed after successful send")
			return
		}
		log.Debug("item delivered", "message_id", result.MessageID)
		return
	}

	retryable := transport.IsRetryable(sendErr)
	d.metrics.ItemsFailed.WithLabelValues(item.Kind, fmt.Sprintf("%t", retryable)).Inc()

	retryAt := d.config.Backoff.NextAvailableAt(time.Now(), item.Attempt)
	if err := d.repo.MarkFailed(ctx, item.TenantID, item.ID, sendErr.Error(), retryAt, !retryable); err != nil {
		log.Error(err, "failed to record item failure")
		return
	}

	if !retryable || item.Attempt+1 >= item.MaxAttempts {
		d.metrics.ItemsDeadLettered.WithLabelValues(item.Kind).Inc()
		log.Warn("item dead-lettered", "attempt", item.Attempt+1, "error", sendErr.Error())
	} else {
		log.Debug("item scheduled for retry", "attempt", item.Attempt+1, "retry_at", retryAt)
	}
}

func (d *Dispatcher) send(ctx context.Context, item *model.OutboxItem) (*transport.SendResult, error) {
	t, err := d.transports.Lookup(item.Kind)
	if err != nil {
		return nil, err
	}
	return t.Send(ctx, item)
}

func rateLimitKey(item *model.OutboxItem) string {
	return item.TenantID.String() + ":" + item.Kind
}

func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("worker-%s-%s", hostname, uuid.NewString()[:8])
}
