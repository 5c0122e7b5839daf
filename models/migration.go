package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tenant{}, &Table{},
		&LedgerEntry{}, &LedgerBalance{},
		&PaymentRecord{}, &TableReleaseRecord{},
		&IdempotencyKey{},
		&SettlementEvent{},
	)
}
