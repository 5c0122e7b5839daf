package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/sirupsen/logrus"
)

type ReleaseState string

const (
	ReleaseNotStarted ReleaseState = "not_started"
	ReleaseLocated    ReleaseState = "located"
	ReleaseReleased   ReleaseState = "released"
	ReleaseFailed     ReleaseState = "failed"
)

type ReleaseResult struct {
	State   ReleaseState
	Outcome models.ReleaseOutcome
	Ref     models.OrderRef
	Table   *models.Table
	// Skipped is set when an earlier delivery already released the table.
	Skipped bool
	Err     error
}

// OrderReconciler frees the table a paid order was seated at.
type OrderReconciler struct {
	Tables      TenantStore
	Audit       *AuditRecorder
	Idempotency IdempotencyStore
	Logger      *logrus.Logger
}

func (o *OrderReconciler) Release(ctx context.Context, tenantId string, snap models.PaymentSnapshot) ReleaseResult {
	ref := snap.OrderRef()
	ref.TenantId = tenantId
	result := ReleaseResult{State: ReleaseNotStarted, Ref: ref}
	idemKey := snap.SettlementReference()

	if o.Idempotency != nil {
		skip, err := o.Idempotency.Begin(ctx, tenantId, HandlerTableRelease, idemKey)
		switch {
		case skip:
			result.State = ReleaseReleased
			result.Outcome = models.ReleaseOutcomeAlreadyReleased
			result.Skipped = true
			o.record(ctx, &result, releaseRecord(tenantId, snap, ref, nil, result.Outcome, nil))
			return result
		case errors.Is(err, ErrIdempotencyInProgress):
			result.State = ReleaseFailed
			result.Outcome = models.ReleaseOutcomeFailed
			result.Skipped = true
			result.Err = newSettlementError(KindOrderLocate, fmt.Errorf("release of %s in progress elsewhere: %w", idemKey, err))
			o.record(ctx, &result, releaseRecord(tenantId, snap, ref, nil, result.Outcome, result.Err))
			return result
		case err != nil:
			result.State = ReleaseFailed
			result.Outcome = models.ReleaseOutcomeFailed
			result.Err = newSettlementError(KindOrderLocate, fmt.Errorf("begin release %s: %w", idemKey, err))
			o.record(ctx, &result, releaseRecord(tenantId, snap, ref, nil, result.Outcome, result.Err))
			return result
		}
	}

	table, outcome, err := o.locate(ctx, ref)
	if err == nil {
		result.State = ReleaseLocated
		result.Table = table
		patch := models.ReleasedTablePatch(snap.PaymentId)
		if err = o.Tables.UpdateTable(ctx, tenantId, table.ID, patch); err == nil {
			patch.Apply(table)
			result.State = ReleaseReleased
			outcome = models.ReleaseOutcomeReleased
		} else {
			outcome = models.ReleaseOutcomeFailed
			err = fmt.Errorf("update %s: %w", table.Descriptor(), err)
		}
	}
	result.Outcome = outcome
	if err != nil {
		result.State = ReleaseFailed
		result.Err = newSettlementError(KindOrderLocate, err)
	}

	o.record(ctx, &result, releaseRecord(tenantId, snap, ref, table, outcome, err))
	o.finish(ctx, tenantId, idemKey, result)
	return result
}

// locate resolves the table by id, then by display number.
func (o *OrderReconciler) locate(ctx context.Context, ref models.OrderRef) (*models.Table, models.ReleaseOutcome, error) {
	if !ref.HasLocator() {
		return nil, models.ReleaseOutcomeNoLocator, ErrNoLocator
	}
	if ref.TableId != "" {
		table, err := o.Tables.GetTable(ctx, ref.TenantId, ref.TableId)
		if err == nil {
			return table, models.ReleaseOutcomeReleased, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, models.ReleaseOutcomeFailed, fmt.Errorf("get table %s: %w", ref.TableId, err)
		}
		if ref.TableNumber == "" {
			return nil, models.ReleaseOutcomeNotFound, fmt.Errorf("%w: id %s", ErrTableNotFound, ref.TableId)
		}
	}
	table, err := o.Tables.FindTableByNumber(ctx, ref.TenantId, ref.TableNumber)
	if err != nil {
		return nil, models.ReleaseOutcomeFailed, fmt.Errorf("find table number %s: %w", ref.TableNumber, err)
	}
	if table == nil {
		return nil, models.ReleaseOutcomeNotFound, fmt.Errorf("%w: number %s", ErrTableNotFound, ref.TableNumber)
	}
	return table, models.ReleaseOutcomeReleased, nil
}

// record appends the release attempt to the audit trail. Every attempt gets
// one, including redeliveries that release nothing.
func (o *OrderReconciler) record(ctx context.Context, result *ReleaseResult, rec *models.TableReleaseRecord) {
	if recErr := o.Audit.RecordTableRelease(ctx, rec); recErr != nil {
		config.LogError(loggerOr(o.Logger), "OrderReconciler", "Release", "append table release record", rec.ExternalReference, recErr)
		result.Err = errors.Join(result.Err, recErr)
	}
}

func (o *OrderReconciler) finish(ctx context.Context, tenantId, idemKey string, result ReleaseResult) {
	if o.Idempotency == nil {
		return
	}
	var err error
	if result.State == ReleaseReleased {
		err = o.Idempotency.MarkSucceeded(ctx, tenantId, HandlerTableRelease, idemKey)
	} else {
		err = o.Idempotency.MarkFailed(ctx, tenantId, HandlerTableRelease, idemKey, result.Err)
	}
	if err != nil {
		config.LogError(loggerOr(o.Logger), "OrderReconciler", "finish", "update idempotency", idemKey, err)
	}
}

func releaseRecord(tenantId string, snap models.PaymentSnapshot, ref models.OrderRef, table *models.Table, outcome models.ReleaseOutcome, cause error) *models.TableReleaseRecord {
	rec := &models.TableReleaseRecord{
		TenantId:          tenantId,
		ExternalReference: snap.ExternalReference,
		PaymentId:         snap.PaymentId,
		TableId:           ref.TableId,
		TableNumber:       ref.TableNumber,
		Outcome:           outcome,
	}
	if table != nil {
		rec.TableId = table.ID
		rec.TableNumber = table.Number
		rec.TableDescriptor = table.Descriptor()
	}
	if cause != nil {
		msg := cause.Error()
		rec.Error = &msg
	}
	return rec
}
