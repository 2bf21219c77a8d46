package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/messaging-api/internal/handler"
	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/internal/repository"
	"github.com/jwalitptl/messaging-api/pkg/logger"
	"github.com/jwalitptl/messaging-api/pkg/metrics"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyMiddleware guards side-effecting endpoints: duplicate client
// retries replay the cached response instead of executing twice, and key
// reuse with a different body is rejected.
type IdempotencyMiddleware struct {
	repo    repository.IdempotencyRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

func NewIdempotencyMiddleware(repo repository.IdempotencyRepository, logger *logger.Logger, m *metrics.Metrics, ttl time.Duration) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{repo: repo, logger: logger, metrics: m, ttl: ttl}
}

// bodyRecorder captures the response so a successful outcome can be stored
// for replay.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

func (m *IdempotencyMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		tenantID, ok := TenantFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("tenant required for idempotent requests"))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		endpoint := c.Request.Method + " " + c.FullPath()
		requestHash := RequestHash(body)

		check, err := m.repo.Check(c.Request.Context(), tenantID, endpoint, key, requestHash)
		if err != nil {
			m.logger.Error(err, "idempotency check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, handler.NewErrorResponse("idempotency check failed"))
			return
		}

		switch check.Outcome {
		case model.IdempotencyConflict:
			m.metrics.IdempotencyConflicts.Inc()
			c.AbortWithStatusJSON(http.StatusConflict, handler.NewErrorResponse("idempotency key already used with a different request body"))
			return
		case model.IdempotencyHit:
			m.metrics.IdempotencyHits.Inc()
			c.Data(check.ResponseCode, "application/json", check.ResponseBody)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Only successful outcomes are cached; a failed request may be
		// retried with the same key and should execute again.
		status := recorder.Status()
		if status < 200 || status >= 300 {
			return
		}

		rec := &model.IdempotencyRecord{
			TenantID:       tenantID,
			Endpoint:       endpoint,
			IdempotencyKey: key,
			RequestHash:    requestHash,
			ResponseCode:   status,
			ResponseBody:   recorder.body.Bytes(),
			ExpiresAt:      time.Now().Add(m.ttl),
		}
		if err := m.repo.StoreResult(c.Request.Context(), rec); err != nil {
			// the operation itself succeeded; a lost record only costs a
			// harmless re-execution guarded by the outbox dedupe key
			m.logger.Error(err, "failed to store idempotency result")
		}
	}
}

// RequestHash digests the normalized request body: JSON bodies are re-encoded
// with sorted keys so formatting differences do not defeat replay detection.
func RequestHash(body []byte) string {
	normalized := body
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if encoded, err := json.Marshal(decoded); err == nil {
			normalized = encoded
		}
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}
