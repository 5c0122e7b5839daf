package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Table is a dining table with its running order. A table is "released" when
// its order is paid: it becomes free and the order fields are cleared.
type Table struct {
	ID            string          `gorm:"primary_key;size:64" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index:idx_table_number,unique,priority:1" json:"tenant_id"`
	Number        string          `gorm:"size:20;not null;index:idx_table_number,unique,priority:2" json:"number"`
	Status        TableStatus     `gorm:"size:20;not null;default:free" json:"status"`
	CustomerName  string          `gorm:"size:100" json:"customer_name"`
	Items         json.RawMessage `gorm:"type:json" json:"items"`
	RunningTotal  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"running_total"`
	OpenedAt      *time.Time      `json:"opened_at"`
	LastPaymentId string          `gorm:"size:64" json:"last_payment_id"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Table) Descriptor() string {
	return fmt.Sprintf("table %s (%s)", t.Number, t.ID)
}

// TablePatch is the set of columns changed by a table update.
type TablePatch struct {
	Status        TableStatus
	CustomerName  string
	Items         json.RawMessage
	RunningTotal  decimal.Decimal
	OpenedAt      *time.Time
	LastPaymentId string
}

// ReleasedTablePatch frees a table after its order was paid.
func ReleasedTablePatch(paymentId string) TablePatch {
	return TablePatch{
		Status:        TableStatusFree,
		CustomerName:  "",
		Items:         json.RawMessage("[]"),
		RunningTotal:  decimal.Zero,
		OpenedAt:      nil,
		LastPaymentId: paymentId,
	}
}

// Columns lists every column of the patch, zero values included.
func (p TablePatch) Columns() map[string]interface{} {
	return map[string]interface{}{
		"status":          p.Status,
		"customer_name":   p.CustomerName,
		"items":           p.Items,
		"running_total":   p.RunningTotal,
		"opened_at":       p.OpenedAt,
		"last_payment_id": p.LastPaymentId,
	}
}

func (p TablePatch) Apply(t *Table) {
	t.Status = p.Status
	t.CustomerName = p.CustomerName
	t.Items = p.Items
	t.RunningTotal = p.RunningTotal
	t.OpenedAt = p.OpenedAt
	t.LastPaymentId = p.LastPaymentId
}
