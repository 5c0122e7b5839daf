package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/restaurant_backend/models"
	"gorm.io/gorm"
)

// BalanceFromEntries folds ledger entries into a fresh balance.
func BalanceFromEntries(tenantId string, entries []models.LedgerEntry) *models.LedgerBalance {
	balance := models.EmptyLedgerBalance(tenantId)
	for _, e := range entries {
		if balance.Contains(e) {
			continue
		}
		balance = balance.WithEntry(e)
	}
	return balance
}

// RebuildLedgerBalance recomputes a tenant's balance from its ledger entries.
// It holds the tenant lock used by live posting plus the MySQL posting lock so
// two rebuilds never interleave.
func RebuildLedgerBalance(ctx context.Context, db *gorm.DB, locker TenantLocker, tenantId string) (*models.LedgerBalance, error) {
	if locker != nil {
		unlock, err := locker.Lock(ctx, tenantId)
		if err != nil {
			return nil, fmt.Errorf("lock tenant %s: %w", tenantId, err)
		}
		defer unlock()
	}

	var rebuilt *models.LedgerBalance
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireTenantPostingLock(conn, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(conn, tenantId)

		store := models.NewStore(conn)
		entries, err := store.ListLedgerEntries(ctx, tenantId)
		if err != nil {
			return err
		}
		balance := BalanceFromEntries(tenantId, entries)
		if err := store.ReplaceLedgerBalance(ctx, balance); err != nil {
			return err
		}
		rebuilt = balance
		return nil
	})
	return rebuilt, err
}
