package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/restaurant_backend/utils"
	"gorm.io/gorm"
)

// SettlementEventStatus is the operator-facing view of one outbox row.
type SettlementEventStatus struct {
	EventId          int           `json:"event_id"`
	TenantId         string        `json:"tenant_id"`
	PaymentId        string        `json:"payment_id"`
	Status           PaymentStatus `json:"status"`
	LedgerOutcome    string        `json:"ledger_outcome"`
	PublishStatus    string        `json:"publish_status"`
	PublishAttempts  int           `json:"publish_attempts"`
	NextAttemptAt    *time.Time    `json:"next_attempt_at"`
	LastPublishError *string       `json:"last_publish_error"`
	PublishedAt      *time.Time    `json:"published_at"`
	CreatedAt        time.Time     `json:"created_at"`
}

func GetSettlementEventStatus(ctx context.Context, db *gorm.DB, eventId int) (*SettlementEventStatus, error) {
	var ev SettlementEvent
	if err := db.WithContext(ctx).Where("id = ?", eventId).First(&ev).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &SettlementEventStatus{
		EventId:          ev.ID,
		TenantId:         ev.TenantId,
		PaymentId:        ev.PaymentId,
		Status:           ev.Status,
		LedgerOutcome:    ev.LedgerOutcome,
		PublishStatus:    ev.PublishStatus,
		PublishAttempts:  ev.PublishAttempts,
		NextAttemptAt:    ev.NextAttemptAt,
		LastPublishError: ev.LastPublishError,
		PublishedAt:      ev.PublishedAt,
		CreatedAt:        ev.CreatedAt,
	}, nil
}

// ReplaySettlementEvent requeues a FAILED or DEAD event for immediate publish.
// Attempts are reset so a DEAD row gets a full retry budget.
func ReplaySettlementEvent(ctx context.Context, db *gorm.DB, eventId int) (*SettlementEventStatus, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&SettlementEvent{}).
		Where("id = ? AND publish_status IN ?", eventId, []string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":   OutboxPublishStatusFailed,
			"publish_attempts": 0,
			"next_attempt_at":  &now,
			"locked_at":        nil,
			"locked_by":        nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetSettlementEventStatus(ctx, db, eventId)
}
