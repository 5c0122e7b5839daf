package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
)

// ResolvedTenant is the outcome of the first-pass lookup. FirstPass was read
// with the platform credential and must not drive settlement.
type ResolvedTenant struct {
	Tenant     *models.Tenant
	Credential models.ProviderCredential
	FirstPass  models.PaymentSnapshot
}

func (r *ResolvedTenant) TenantId() string {
	if r == nil || r.Tenant == nil {
		return ""
	}
	return r.Tenant.ID
}

// CredentialResolver finds which tenant a payment belongs to and loads that
// tenant's own provider credential.
type CredentialResolver struct {
	Fallback PaymentProvider
	Tenants  TenantStore
}

func (r *CredentialResolver) Resolve(ctx context.Context, paymentId string) (*ResolvedTenant, error) {
	if r.Fallback == nil {
		return nil, newSettlementError(KindProviderQuery, ErrNoFallback)
	}
	firstPass, err := r.Fallback.GetPayment(ctx, paymentId)
	if err != nil {
		return nil, newSettlementError(KindProviderQuery, fmt.Errorf("first-pass lookup of payment %s: %w", paymentId, err))
	}

	tenantId := strings.TrimSpace(firstPass.Metadata.TenantId)
	if tenantId == "" {
		return nil, newSettlementError(KindTenantNotFound, fmt.Errorf("payment %s has no tenant_id in metadata", paymentId))
	}

	tenant, err := r.Tenants.GetTenant(ctx, tenantId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, newSettlementError(KindTenantNotFound, fmt.Errorf("tenant %s: %w", tenantId, err))
	}
	if err != nil {
		return nil, newSettlementError(KindStore, fmt.Errorf("load tenant %s: %w", tenantId, err))
	}
	if !utils.DereferencePtr(tenant.IsActive, true) {
		return nil, newSettlementError(KindTenantNotConfigured, fmt.Errorf("tenant %s is inactive", tenantId))
	}
	if !tenant.HasProviderCredential() {
		return nil, newSettlementError(KindTenantNotConfigured, fmt.Errorf("tenant %s has no provider credential", tenantId))
	}

	return &ResolvedTenant{
		Tenant:     tenant,
		Credential: tenant.Credential(),
		FirstPass:  firstPass,
	}, nil
}
