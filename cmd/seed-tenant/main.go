// seed-tenant onboards a restaurant with its payment provider credentials.
//
// Usage:
//
//	go run ./cmd/seed-tenant --name "Casa Norte" --access-token APP_USR-... [--webhook-secret ...] [--id <uuid>]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"gorm.io/gorm/clause"
)

func main() {
	id := flag.String("id", "", "Optional: tenant id (defaults to a new uuid)")
	name := flag.String("name", "", "Required: restaurant name")
	accessToken := flag.String("access-token", "", "Required: provider access token")
	webhookSecret := flag.String("webhook-secret", "", "Optional: provider webhook signing secret")
	flag.Parse()

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*accessToken) == "" {
		fmt.Fprintln(os.Stderr, "--name and --access-token are required")
		os.Exit(1)
	}
	tenantID := strings.TrimSpace(*id)
	if tenantID == "" {
		tenantID = uuid.NewString()
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	tenant := models.Tenant{
		ID:                  tenantID,
		Name:                strings.TrimSpace(*name),
		ProviderAccessToken: strings.TrimSpace(*accessToken),
		WebhookSecret:       strings.TrimSpace(*webhookSecret),
		IsActive:            utils.NewTrue(),
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		UpdateAll: true,
	}).Create(&tenant).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to save tenant: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tenant %s (%s) saved\n", tenant.ID, tenant.Name)
}
