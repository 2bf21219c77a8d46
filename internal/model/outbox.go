package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending      OutboxStatus = "PENDING"
	OutboxStatusClaimed      OutboxStatus = "CLAIMED"
	OutboxStatusProcessed    OutboxStatus = "PROCESSED"
	OutboxStatusDeadLettered OutboxStatus = "DEAD_LETTERED"
)

// Item kinds understood by the dispatcher's transport registry.
const (
	KindWhatsAppMessage = "wa_message"
	KindEmail           = "email"
	KindDomainEvent     = "event"
)

// OutboxItem is one unit of deliverable work, written atomically with the
// business transaction that produced it and dispatched asynchronously.
type OutboxItem struct {
	ID             int64           `db:"id" json:"id"`
	TenantID       uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	AggregateType  string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID    uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	Kind           string          `db:"kind" json:"kind"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	DedupeKey      *string         `db:"dedupe_key" json:"dedupe_key,omitempty"`
	AvailableAt    time.Time       `db:"available_at" json:"available_at"`
	Attempt        int             `db:"attempt" json:"attempt"`
	MaxAttempts    int             `db:"max_attempts" json:"max_attempts"`
	LastError      *string         `db:"last_error" json:"last_error,omitempty"`
	ClaimedBy      *string         `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	ProcessedAt    *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	DeadLetteredAt *time.Time      `db:"dead_lettered_at" json:"dead_lettered_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Status derives the state machine position from the row's columns. Exactly
// one state holds at any instant; lease expiry moves CLAIMED back to PENDING
// without any mutation.
func (i *OutboxItem) Status(now time.Time, lease time.Duration) OutboxStatus {
	switch {
	case i.ProcessedAt != nil:
		return OutboxStatusProcessed
	case i.DeadLetteredAt != nil:
		return OutboxStatusDeadLettered
	case i.ClaimedAt != nil && now.Sub(*i.ClaimedAt) < lease:
		return OutboxStatusClaimed
	default:
		return OutboxStatusPending
	}
}

// Terminal reports whether the item may never transition again.
func (i *OutboxItem) Terminal() bool {
	return i.ProcessedAt != nil || i.DeadLetteredAt != nil
}
