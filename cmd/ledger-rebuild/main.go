// ledger-rebuild recomputes a tenant's ledger balance from its ledger entries.
// Use it after a posting failure that left the balance behind the entries.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/ledger-rebuild --tenant-id <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/mmdatafocus/restaurant_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id")
	useRedisLock := flag.Bool("redis-lock", true, "Also take the Redis tenant lock used by live posting")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	var locker workflow.TenantLocker
	if *useRedisLock {
		config.ConnectRedisWithRetry()
		settings := config.LoadSettlementSettings()
		locker = workflow.NewRedisTenantLocker(config.GetRedisLock(), "ledger", settings.LedgerLockTTL, logger)
	}

	ctx := utils.SetTenantIdInContext(context.Background(), strings.TrimSpace(*tenantID))
	balance, err := workflow.RebuildLedgerBalance(ctx, db, locker, strings.TrimSpace(*tenantID))
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "ledger-rebuild", "tenant_id": *tenantID}).Error(err.Error())
		os.Exit(1)
	}
	fmt.Printf("tenant=%s balance=%s entries=%d version=%d\n", balance.TenantId, balance.Balance.String(), len(balance.Entries), balance.Version)
}
