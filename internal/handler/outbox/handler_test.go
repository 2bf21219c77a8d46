package outbox

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/messaging-api/internal/middleware"
	"github.com/jwalitptl/messaging-api/internal/repository/postgres"
	"github.com/jwalitptl/messaging-api/internal/service/inspect"
	"github.com/jwalitptl/messaging-api/internal/service/publisher"
	"github.com/jwalitptl/messaging-api/pkg/logger"
)

var testLogger = logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := postgres.NewBaseRepository(sqlx.NewDb(db, "sqlmock"))
	outboxRepo := postgres.NewOutboxRepository(base)
	h := NewHandler(base,
		publisher.NewService(outboxRepo, testLogger),
		inspect.NewService(outboxRepo, 30*time.Second),
	)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.Tenant())
	api.POST("/messages", h.Enqueue)
	api.GET("/outbox/:id", h.Diagnose)
	return r, mock
}

func postMessage(r *gin.Engine, tenantID string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderXTenantID, tenantID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueAccepted(t *testing.T) {
	r, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	w := postMessage(r, uuid.NewString(), map[string]interface{}{
		"aggregate_type": "conversation",
		"aggregate_id":   uuid.NewString(),
		"kind":           "wa_message",
		"payload":        map[string]string{"to": "+15551234567"},
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, int64(7), resp.Data.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueValidationFailureRollsBack(t *testing.T) {
	r, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	w := postMessage(r, uuid.NewString(), map[string]interface{}{
		"aggregate_type": "conversation",
		"aggregate_id":   uuid.NewString(),
		"kind":           "wa_message",
		// payload missing
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueRequiresTenant(t *testing.T) {
	r, _ := newTestRouter(t)

	payload, _ := json.Marshal(map[string]string{"kind": "email"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnoseNotFound(t *testing.T) {
	r, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/404", nil)
	req.Header.Set(middleware.HeaderXTenantID, uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnoseInvalidID(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/not-a-number", nil)
	req.Header.Set(middleware.HeaderXTenantID, uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnoseProcessedItem(t *testing.T) {
	r, mock := newTestRouter(t)
	tenantID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "aggregate_type", "aggregate_id", "kind", "payload", "dedupe_key",
		"available_at", "attempt", "max_attempts", "last_error", "claimed_by", "claimed_at",
		"processed_at", "dead_lettered_at", "created_at", "updated_at",
	}).AddRow(int64(7), tenantID, "conversation", uuid.New(), "email", []byte(`{}`), nil,
		now, 1, 12, nil, nil, nil, now, nil, now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/7", nil)
	req.Header.Set(middleware.HeaderXTenantID, tenantID.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PROCESSED", resp.Data.Status)
	assert.Contains(t, resp.Data.Reason, "delivered")
}
