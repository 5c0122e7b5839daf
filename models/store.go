package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"gorm.io/gorm"
)

var ErrLedgerEntryExists = errors.New("ledger entry already exists for external reference")

// IsDuplicateKeyErr reports a MySQL unique-constraint violation.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Store is the MySQL-backed tenant, ledger, audit and outbox store used by the
// settlement engine.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) GetTenant(ctx context.Context, tenantId string) (*Tenant, error) {
	var tenant Tenant
	err := s.DB.WithContext(ctx).Where("id = ?", tenantId).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *Store) GetTable(ctx context.Context, tenantId, tableId string) (*Table, error) {
	var table Table
	err := s.DB.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantId, tableId).First(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// FindTableByNumber returns nil, nil when the tenant has no table with that number.
func (s *Store) FindTableByNumber(ctx context.Context, tenantId, number string) (*Table, error) {
	var tables []Table
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND number = ?", tenantId, strings.TrimSpace(number)).
		Limit(1).
		Find(&tables).Error
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, nil
	}
	return &tables[0], nil
}

func (s *Store) UpdateTable(ctx context.Context, tenantId, tableId string, patch TablePatch) error {
	res := s.DB.WithContext(ctx).
		Model(&Table{}).
		Where("tenant_id = ? AND id = ?", tenantId, tableId).
		Updates(patch.Columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// AppendLedgerEntry returns ErrLedgerEntryExists when the tenant already has an
// entry for the same external reference.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %s", ErrLedgerEntryExists, entry.ExternalReference)
		}
		return err
	}
	return nil
}

// FindLedgerEntry returns nil, nil when no entry exists for the external reference.
func (s *Store) FindLedgerEntry(ctx context.Context, tenantId, externalReference string) (*LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND external_reference = ?", tenantId, externalReference).
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, tenantId string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("timestamp ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// GetLedgerBalance returns nil, nil when the tenant has never been posted to.
func (s *Store) GetLedgerBalance(ctx context.Context, tenantId string) (*LedgerBalance, error) {
	var balances []LedgerBalance
	err := s.DB.WithContext(ctx).Where("tenant_id = ?", tenantId).Limit(1).Find(&balances).Error
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return nil, nil
	}
	if balances[0].Entries == nil {
		balances[0].Entries = map[string]LedgerEntrySnapshot{}
	}
	return &balances[0], nil
}

// SetLedgerBalance writes the balance only if the stored version still equals
// balance.Version; version 0 means the row must not exist yet. On success
// balance.Version is advanced. A lost race returns ErrBalanceConflict.
func (s *Store) SetLedgerBalance(ctx context.Context, balance *LedgerBalance) error {
	db := s.DB.WithContext(ctx)
	if balance.Version == 0 {
		row := *balance
		row.Version = 1
		if err := db.Create(&row).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrBalanceConflict
			}
			return err
		}
		balance.Version = 1
		return nil
	}

	entries, err := utils.MarshalToJSON(balance.Entries)
	if err != nil {
		return err
	}
	res := db.Model(&LedgerBalance{}).
		Where("tenant_id = ? AND version = ?", balance.TenantId, balance.Version).
		Updates(map[string]interface{}{
			"balance": balance.Balance,
			"entries": entries,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBalanceConflict
	}
	balance.Version++
	return nil
}

// ReplaceLedgerBalance overwrites the balance regardless of version. Used by
// the rebuild tool under the posting lock.
func (s *Store) ReplaceLedgerBalance(ctx context.Context, balance *LedgerBalance) error {
	current, err := s.GetLedgerBalance(ctx, balance.TenantId)
	if err != nil {
		return err
	}
	if current == nil {
		balance.Version = 0
	} else {
		balance.Version = current.Version
	}
	return s.SetLedgerBalance(ctx, balance)
}

func (s *Store) AppendPaymentRecord(ctx context.Context, record *PaymentRecord) error {
	return s.DB.WithContext(ctx).Create(record).Error
}

func (s *Store) AppendTableReleaseRecord(ctx context.Context, record *TableReleaseRecord) error {
	return s.DB.WithContext(ctx).Create(record).Error
}

func (s *Store) EnqueueSettlementEvent(ctx context.Context, event *SettlementEvent) error {
	if event.PublishStatus == "" {
		event.PublishStatus = OutboxPublishStatusPending
	}
	return s.DB.WithContext(ctx).Create(event).Error
}
