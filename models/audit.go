package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord is the append-only audit row of one processed payment outcome.
type PaymentRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index:idx_payment_record,priority:1" json:"tenant_id"`
	PaymentId         string          `gorm:"size:64;not null;index:idx_payment_record,priority:2" json:"payment_id"`
	ExternalReference string          `gorm:"size:255;index" json:"external_reference"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Status            PaymentStatus   `gorm:"size:20;not null" json:"status"`
	StatusDetail      string          `gorm:"size:100" json:"status_detail"`
	PaymentMethod     string          `gorm:"size:50" json:"payment_method"`
	TransactionId     string          `gorm:"size:100" json:"transaction_id"`
	OrderSnapshot     json.RawMessage `gorm:"type:json" json:"order_snapshot"`
	RecordedAt        time.Time       `gorm:"not null;index" json:"recorded_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableReleaseRecord is the append-only audit row of one table-release attempt.
// Locator fields are empty when the payment carried no table information.
type TableReleaseRecord struct {
	ID                int            `gorm:"primary_key" json:"id"`
	TenantId          string         `gorm:"size:64;not null;index" json:"tenant_id"`
	ExternalReference string         `gorm:"size:255;index" json:"external_reference"`
	PaymentId         string         `gorm:"size:64;index" json:"payment_id"`
	TableId           string         `gorm:"size:64" json:"table_id"`
	TableNumber       string         `gorm:"size:20" json:"table_number"`
	TableDescriptor   string         `gorm:"size:255" json:"table_descriptor"`
	Outcome           ReleaseOutcome `gorm:"size:20;not null" json:"outcome"`
	Error             *string        `gorm:"type:text" json:"error"`
	RecordedAt        time.Time      `gorm:"not null;index" json:"recorded_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
