// settlement-replay re-runs settlement for one payment id as if a webhook had
// arrived, without a signature check. Side effects stay idempotent.
//
// Usage:
//
//	go run ./cmd/settlement-replay --payment-id 123456
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/mmdatafocus/restaurant_backend/workflow"
)

func main() {
	paymentID := flag.String("payment-id", "", "Required: provider payment id")
	flag.Parse()

	if strings.TrimSpace(*paymentID) == "" {
		fmt.Fprintln(os.Stderr, "--payment-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	settings := config.LoadSettlementSettings()

	dispatcher := workflow.NewPaymentDispatcher(workflow.EngineDeps{
		Store:       models.NewStore(db),
		Idempotency: &workflow.GormIdempotencyStore{DB: db},
		Locker:      workflow.NewRedisTenantLocker(config.GetRedisLock(), "ledger", settings.LedgerLockTTL, logger),
		Logger:      logger,
	}, settings)

	ctx := utils.SetCorrelationIdInContext(context.Background(), "replay:"+strings.TrimSpace(*paymentID))
	ctx = utils.SetOperatorInContext(ctx, "cli:settlement-replay")
	out := dispatcher.Settle(ctx, strings.TrimSpace(*paymentID))

	summary := map[string]any{
		"payment_id": out.PaymentId,
		"tenant_id":  out.TenantId,
		"branch":     out.Branch,
		"regressed":  out.Regressed,
	}
	if out.Release != nil {
		summary["release"] = out.Release.Outcome
	}
	if out.Ledger != nil {
		summary["ledger"] = workflow.StepOutcome(out.Ledger.Err, out.Ledger.Duplicate)
	}
	if out.Audit != nil {
		summary["audit"] = workflow.StepOutcome(out.Audit.Err, out.Audit.Skipped)
	}
	if out.Err != nil {
		summary["error"] = out.Err.Error()
	}
	data, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(data))
	if out.Err != nil {
		os.Exit(2)
	}
}
