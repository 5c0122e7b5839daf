package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/sirupsen/logrus"
)

type AuditResult struct {
	Record  *models.PaymentRecord
	Skipped bool
	Err     error
}

// AuditRecorder writes the append-only payment and table-release trail.
type AuditRecorder struct {
	Audit       AuditStore
	Idempotency IdempotencyStore
	Logger      *logrus.Logger
	Now         func() time.Time
}

func (a *AuditRecorder) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// RecordPayment writes one PaymentRecord per (payment id, status).
func (a *AuditRecorder) RecordPayment(ctx context.Context, tenantId string, snap models.PaymentSnapshot) AuditResult {
	key := paymentRecordKey(snap.PaymentId, snap.Status)
	if a.Idempotency != nil {
		skip, err := a.Idempotency.Begin(ctx, tenantId, HandlerPaymentRecord, key)
		if errors.Is(err, ErrIdempotencyInProgress) {
			return AuditResult{Skipped: true}
		}
		if err != nil {
			return AuditResult{Err: newSettlementError(KindAudit, fmt.Errorf("begin payment record %s: %w", key, err))}
		}
		if skip {
			return AuditResult{Skipped: true}
		}
	}

	record := &models.PaymentRecord{
		TenantId:          tenantId,
		PaymentId:         snap.PaymentId,
		ExternalReference: snap.ExternalReference,
		Amount:            snap.Amount,
		Status:            snap.Status,
		StatusDetail:      snap.StatusDetail,
		PaymentMethod:     snap.PaymentMethod,
		TransactionId:     snap.TransactionId,
		OrderSnapshot:     snap.Metadata.Cart,
		RecordedAt:        a.now(),
	}
	if err := a.Audit.AppendPaymentRecord(ctx, record); err != nil {
		err = newSettlementError(KindAudit, fmt.Errorf("append payment record %s: %w", key, err))
		a.markFailed(ctx, tenantId, key, err)
		return AuditResult{Err: err}
	}
	if a.Idempotency != nil {
		if err := a.Idempotency.MarkSucceeded(ctx, tenantId, HandlerPaymentRecord, key); err != nil {
			config.LogError(a.Logger, "AuditRecorder", "RecordPayment", "mark idempotency succeeded", key, err)
		}
	}
	return AuditResult{Record: record}
}

func paymentRecordKey(paymentId string, status models.PaymentStatus) string {
	return paymentId + ":" + string(status)
}

func (a *AuditRecorder) RecordTableRelease(ctx context.Context, record *models.TableReleaseRecord) error {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = a.now()
	}
	if err := a.Audit.AppendTableReleaseRecord(ctx, record); err != nil {
		return newSettlementError(KindAudit, fmt.Errorf("append table release record %s: %w", record.ExternalReference, err))
	}
	return nil
}

func (a *AuditRecorder) markFailed(ctx context.Context, tenantId, key string, cause error) {
	if a.Idempotency == nil {
		return
	}
	if err := a.Idempotency.MarkFailed(ctx, tenantId, HandlerPaymentRecord, key, cause); err != nil {
		config.LogError(a.Logger, "AuditRecorder", "RecordPayment", "mark idempotency failed", key, err)
	}
}
