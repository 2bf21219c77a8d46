package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/messaging-api/internal/repository/memory"
	"github.com/jwalitptl/messaging-api/pkg/logger"
	"github.com/jwalitptl/messaging-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("messaging_test", "middleware")

var testLogger = logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

// newIdempotentRouter wires the middleware in front of a counting handler so
// tests can observe how many times the business logic actually ran.
func newIdempotentRouter(status int) (*gin.Engine, *atomic.Int64) {
	gin.SetMode(gin.TestMode)

	var executions atomic.Int64
	repo := memory.NewIdempotencyRepository()
	mw := NewIdempotencyMiddleware(repo, testLogger, testMetrics, time.Hour)

	r := gin.New()
	r.Use(Tenant(), mw.Handle())
	r.POST("/messages", func(c *gin.Context) {
		n := executions.Add(1)
		c.JSON(status, gin.H{"status": "success", "data": gin.H{"execution": n}})
	})
	return r, &executions
}

func doRequest(r *gin.Engine, tenantID, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderXTenantID, tenantID)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDuplicateRequestReplaysResponse(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusAccepted)
	tenantID := uuid.NewString()
	body := `{"kind":"email","to":"a@example.com"}`

	first := doRequest(r, tenantID, "key-1", body)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doRequest(r, tenantID, "key-1", body)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String(), "replay must be byte-identical")
	assert.Equal(t, int64(1), executions.Load(), "business logic must run exactly once")
}

func TestSameKeyDifferentBodyConflicts(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusAccepted)
	tenantID := uuid.NewString()

	first := doRequest(r, tenantID, "key-1", `{"kind":"email"}`)
	require.Equal(t, http.StatusAccepted, first.Code)

	conflict := doRequest(r, tenantID, "key-1", `{"kind":"wa_message"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, int64(1), executions.Load())
}

func TestEquivalentJSONBodiesShareAHash(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusAccepted)
	tenantID := uuid.NewString()

	// same document, different key order and whitespace
	first := doRequest(r, tenantID, "key-1", `{"a":1,"b":2}`)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := doRequest(r, tenantID, "key-1", `{ "b": 2, "a": 1 }`)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, int64(1), executions.Load())
}

func TestFailedResponseIsNotCached(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusBadGateway)
	tenantID := uuid.NewString()

	first := doRequest(r, tenantID, "key-1", `{}`)
	require.Equal(t, http.StatusBadGateway, first.Code)

	// the retry executes again instead of replaying the failure
	second := doRequest(r, tenantID, "key-1", `{}`)
	assert.Equal(t, http.StatusBadGateway, second.Code)
	assert.Equal(t, int64(2), executions.Load())
}

func TestNoKeyBypassesLedger(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusAccepted)
	tenantID := uuid.NewString()

	doRequest(r, tenantID, "", `{}`)
	doRequest(r, tenantID, "", `{}`)
	assert.Equal(t, int64(2), executions.Load())
}

func TestKeysAreTenantScoped(t *testing.T) {
	r, executions := newIdempotentRouter(http.StatusAccepted)

	doRequest(r, uuid.NewString(), "key-1", `{}`)
	doRequest(r, uuid.NewString(), "key-1", `{}`)
	assert.Equal(t, int64(2), executions.Load(), "tenants must not see each other's cached responses")
}

func TestRequestHashNormalizesJSON(t *testing.T) {
	assert.Equal(t, RequestHash([]byte(`{"a":1,"b":2}`)), RequestHash([]byte(`{"b":2,"a":1}`)))
	assert.NotEqual(t, RequestHash([]byte(`{"a":1}`)), RequestHash([]byte(`{"a":2}`)))

	// non-JSON bodies hash as raw bytes
	assert.Equal(t, RequestHash([]byte("raw")), RequestHash([]byte("raw")))
	assert.NotEqual(t, RequestHash([]byte("raw")), RequestHash([]byte("raw2")))
}

func TestTenantMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Tenant())
	r.GET("/ping", func(c *gin.Context) {
		id, ok := TenantFromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	testcases := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "valid tenant", header: uuid.NewString(), wantCode: http.StatusOK},
		{name: "missing header", header: "", wantCode: http.StatusBadRequest},
		{name: "malformed uuid", header: "not-a-uuid", wantCode: http.StatusBadRequest},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set(HeaderXTenantID, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.wantCode, w.Code, fmt.Sprintf("header %q", tc.header))
		})
	}
}
