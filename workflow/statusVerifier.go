package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/restaurant_backend/models"
)

// StatusVerifier re-reads a payment with the tenant's own credential. Only the
// snapshot it returns is used for settlement decisions.
type StatusVerifier struct {
	NewProvider ProviderFactory
	Timeout     time.Duration
}

func (v *StatusVerifier) Verify(ctx context.Context, resolved *ResolvedTenant, paymentId string) (models.PaymentSnapshot, error) {
	client, err := v.NewProvider(resolved.Credential)
	if err != nil {
		return models.PaymentSnapshot{}, newSettlementError(KindTenantNotConfigured, fmt.Errorf("tenant %s provider client: %w", resolved.TenantId(), err))
	}

	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	snap, err := client.GetPayment(ctx, paymentId)
	if err != nil {
		return models.PaymentSnapshot{}, newSettlementError(KindProviderQuery, fmt.Errorf("tenant lookup of payment %s: %w", paymentId, err))
	}

	if snap.PaymentId != "" && snap.PaymentId != paymentId {
		return models.PaymentSnapshot{}, newSettlementError(KindProviderQuery, fmt.Errorf("%w: asked %s, got %s", ErrPaymentIdDrift, paymentId, snap.PaymentId))
	}
	if snap.Metadata.TenantId != "" && snap.Metadata.TenantId != resolved.TenantId() {
		return models.PaymentSnapshot{}, newSettlementError(KindProviderQuery, fmt.Errorf("%w: payment %s belongs to %s, resolved %s", ErrCrossTenant, paymentId, snap.Metadata.TenantId, resolved.TenantId()))
	}
	snap.PaymentId = paymentId
	snap.Metadata.TenantId = resolved.TenantId()
	return snap, nil
}
