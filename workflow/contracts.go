package workflow

import (
	"context"

	"github.com/mmdatafocus/restaurant_backend/models"
)

// PaymentProvider reads a payment from the provider with one fixed credential.
type PaymentProvider interface {
	GetPayment(ctx context.Context, paymentId string) (models.PaymentSnapshot, error)
}

// ProviderFactory builds a PaymentProvider bound to a credential.
type ProviderFactory func(cred models.ProviderCredential) (PaymentProvider, error)

type TenantStore interface {
	GetTenant(ctx context.Context, tenantId string) (*models.Tenant, error)
	GetTable(ctx context.Context, tenantId, tableId string) (*models.Table, error)
	FindTableByNumber(ctx context.Context, tenantId, number string) (*models.Table, error)
	UpdateTable(ctx context.Context, tenantId, tableId string, patch models.TablePatch) error
}

type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindLedgerEntry(ctx context.Context, tenantId, externalReference string) (*models.LedgerEntry, error)
	GetLedgerBalance(ctx context.Context, tenantId string) (*models.LedgerBalance, error)
	SetLedgerBalance(ctx context.Context, balance *models.LedgerBalance) error
}

type AuditStore interface {
	AppendPaymentRecord(ctx context.Context, record *models.PaymentRecord) error
	AppendTableReleaseRecord(ctx context.Context, record *models.TableReleaseRecord) error
}

// IdempotencyStore tracks side effects per (tenant, handler, key).
// Begin returns skip=true when the key already succeeded.
type IdempotencyStore interface {
	Begin(ctx context.Context, tenantId, handlerName, key string) (skip bool, err error)
	MarkSucceeded(ctx context.Context, tenantId, handlerName, key string) error
	MarkFailed(ctx context.Context, tenantId, handlerName, key string, cause error) error
	IsSucceeded(ctx context.Context, tenantId, handlerName, key string) (bool, error)
}

type SettlementOutbox interface {
	EnqueueSettlementEvent(ctx context.Context, event *models.SettlementEvent) error
}

// TenantLocker serialises work for one tenant. The returned func releases the lock.
type TenantLocker interface {
	Lock(ctx context.Context, tenantId string) (unlock func(), err error)
}

const (
	HandlerLedgerPost    = "ledger_post"
	HandlerTableRelease  = "table_release"
	HandlerPaymentRecord = "payment_record"
)
