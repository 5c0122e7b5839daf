package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrBalanceConflict = errors.New("ledger balance version conflict")

// LedgerEntry is one income posting to a tenant's virtual cash ledger.
// Unique constraint: (tenant_id, external_reference).
type LedgerEntry struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index:uniq_ledger_ref,unique,priority:1" json:"tenant_id"`
	ExternalReference string          `gorm:"size:255;not null;index:uniq_ledger_ref,unique,priority:2" json:"external_reference"`
	PaymentId         string          `gorm:"size:64;index" json:"payment_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Motive            string          `gorm:"size:255" json:"motive"`
	Source            string          `gorm:"size:20;not null" json:"source"`
	Timestamp         time.Time       `gorm:"type:datetime(3);not null;index" json:"timestamp"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewLedgerEntry stamps the entry with a millisecond-truncated time so the
// balance key survives a round trip through DATETIME(3).
func NewLedgerEntry(tenantId, externalReference, paymentId string, amount decimal.Decimal, motive string) LedgerEntry {
	return LedgerEntry{
		TenantId:          tenantId,
		ExternalReference: externalReference,
		PaymentId:         paymentId,
		Amount:            amount,
		Motive:            motive,
		Source:            LedgerSourceProvider,
		Timestamp:         time.Now().UTC().Truncate(time.Millisecond),
	}
}

// BalanceKey identifies the entry inside LedgerBalance.Entries. The timestamp
// leads; the external reference disambiguates entries posted in the same millisecond.
func (e LedgerEntry) BalanceKey() string {
	return e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00") + "/" + e.ExternalReference
}

type LedgerEntrySnapshot struct {
	Amount            decimal.Decimal `json:"amount"`
	Motive            string          `json:"motive"`
	Source            string          `json:"source"`
	ExternalReference string          `json:"external_reference"`
	PaymentId         string          `json:"payment_id"`
	Timestamp         time.Time       `json:"timestamp"`
}

// LedgerBalance is the denormalized running total of a tenant's ledger.
// Version increments on every write and guards against lost updates.
type LedgerBalance struct {
	TenantId  string                         `gorm:"primary_key;size:64" json:"tenant_id"`
	Balance   decimal.Decimal                `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	Entries   map[string]LedgerEntrySnapshot `gorm:"serializer:json;type:json" json:"entries"`
	Version   int64                          `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

func EmptyLedgerBalance(tenantId string) *LedgerBalance {
	return &LedgerBalance{
		TenantId: tenantId,
		Balance:  decimal.Zero,
		Entries:  map[string]LedgerEntrySnapshot{},
	}
}

func (b *LedgerBalance) Contains(entry LedgerEntry) bool {
	if b == nil || b.Entries == nil {
		return false
	}
	_, ok := b.Entries[entry.BalanceKey()]
	return ok
}

// WithEntry returns a copy with the entry's amount added and the entry merged
// into the entry map. Version is left as read; the store bumps it on write.
func (b *LedgerBalance) WithEntry(entry LedgerEntry) *LedgerBalance {
	next := &LedgerBalance{
		TenantId: b.TenantId,
		Balance:  b.Balance.Add(entry.Amount),
		Entries:  make(map[string]LedgerEntrySnapshot, len(b.Entries)+1),
		Version:  b.Version,
	}
	for k, v := range b.Entries {
		next.Entries[k] = v
	}
	next.Entries[entry.BalanceKey()] = LedgerEntrySnapshot{
		Amount:            entry.Amount,
		Motive:            entry.Motive,
		Source:            entry.Source,
		ExternalReference: entry.ExternalReference,
		PaymentId:         entry.PaymentId,
		Timestamp:         entry.Timestamp,
	}
	return next
}
