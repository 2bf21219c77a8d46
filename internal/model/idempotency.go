package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IdempotencyOutcome classifies the result of an idempotency check.
type IdempotencyOutcome int

const (
	IdempotencyAbsent IdempotencyOutcome = iota
	IdempotencyHit
	IdempotencyConflict
)

// IdempotencyRecord caches the outcome of a side-effecting request keyed by
// (tenant_id, endpoint, idempotency_key). A replay with a matching
// request_hash returns the stored response verbatim; a mismatch is a conflict.
type IdempotencyRecord struct {
	TenantID       uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Endpoint       string          `db:"endpoint" json:"endpoint"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	RequestHash    string          `db:"request_hash" json:"request_hash"`
	ResponseCode   int             `db:"response_code" json:"response_code"`
	ResponseBody   json.RawMessage `db:"response_body" json:"response_body"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expires_at"`
}

// IdempotencyCheck is the result of looking up an idempotency key.
type IdempotencyCheck struct {
	Outcome      IdempotencyOutcome
	ResponseCode int
	ResponseBody json.RawMessage
}
