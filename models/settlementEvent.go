package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEvent is the outbox row written after every dispatch that produced a
// payment snapshot. The outbox dispatcher publishes it after commit.
type SettlementEvent struct {
	ID                int             `gorm:"primary_key;index:idx_settlement_dispatch,priority:3" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index" json:"tenant_id"`
	PaymentId         string          `gorm:"size:64;not null;index" json:"payment_id"`
	ExternalReference string          `gorm:"size:255;index" json:"external_reference"`
	Status            PaymentStatus   `gorm:"size:20;not null" json:"status"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ReleaseOutcome    string          `gorm:"size:20" json:"release_outcome"`
	LedgerOutcome     string          `gorm:"size:20" json:"ledger_outcome"`
	AuditOutcome      string          `gorm:"size:20" json:"audit_outcome"`
	StepErrors        json.RawMessage `gorm:"type:json" json:"step_errors"`
	CorrelationId     string          `gorm:"size:64;index" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_settlement_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_settlement_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SettlementMessage is the Pub/Sub payload of a SettlementEvent.
type SettlementMessage struct {
	EventId           int             `json:"event_id"`
	TenantId          string          `json:"tenant_id"`
	PaymentId         string          `json:"payment_id"`
	ExternalReference string          `json:"external_reference"`
	Status            PaymentStatus   `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	ReleaseOutcome    string          `json:"release_outcome"`
	LedgerOutcome     string          `json:"ledger_outcome"`
	AuditOutcome      string          `json:"audit_outcome"`
	StepErrors        json.RawMessage `json:"step_errors,omitempty"`
	CorrelationId     string          `json:"correlation_id"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

func (e SettlementEvent) Message() SettlementMessage {
	return SettlementMessage{
		EventId:           e.ID,
		TenantId:          e.TenantId,
		PaymentId:         e.PaymentId,
		ExternalReference: e.ExternalReference,
		Status:            e.Status,
		Amount:            e.Amount,
		ReleaseOutcome:    e.ReleaseOutcome,
		LedgerOutcome:     e.LedgerOutcome,
		AuditOutcome:      e.AuditOutcome,
		StepErrors:        e.StepErrors,
		CorrelationId:     e.CorrelationId,
		OccurredAt:        e.CreatedAt,
	}
}
