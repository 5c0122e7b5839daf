package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/restaurant_backend/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// staleStartedAfter is how long a STARTED row blocks other deliveries before it
// is considered abandoned.
const staleStartedAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, tenantId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		TenantId:    tenantId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !models.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another delivery holds it; a stale row is taken over.
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, tenantId, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, tenantId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

// GormIdempotencyStore is the IdempotencyStore backed by the idempotency_keys table.
type GormIdempotencyStore struct {
	DB *gorm.DB
}

func (s *GormIdempotencyStore) Begin(ctx context.Context, tenantId, handlerName, key string) (bool, error) {
	return BeginIdempotency(s.DB.WithContext(ctx), tenantId, handlerName, key)
}

func (s *GormIdempotencyStore) MarkSucceeded(ctx context.Context, tenantId, handlerName, key string) error {
	return MarkIdempotencySucceeded(s.DB.WithContext(ctx), tenantId, handlerName, key)
}

func (s *GormIdempotencyStore) MarkFailed(ctx context.Context, tenantId, handlerName, key string, cause error) error {
	return MarkIdempotencyFailed(s.DB.WithContext(ctx), tenantId, handlerName, key, cause)
}

func (s *GormIdempotencyStore) IsSucceeded(ctx context.Context, tenantId, handlerName, key string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).
		Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ? AND status = ?", tenantId, handlerName, key, models.IdempotencyStatusSucceeded).
		Count(&count).Error
	return count > 0, err
}
