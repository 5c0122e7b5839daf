package models

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentMetadata is the side-channel data attached to a payment when it was
// created by the ordering flow.
type PaymentMetadata struct {
	TenantId    string          `json:"tenant_id"`
	TableId     string          `json:"table_id"`
	TableNumber string          `json:"table_number"`
	Cart        json.RawMessage `json:"cart,omitempty"`
}

// PaymentSnapshot is the provider's view of a payment at query time.
type PaymentSnapshot struct {
	PaymentId         string          `json:"payment_id"`
	Status            PaymentStatus   `json:"status"`
	RawStatus         string          `json:"raw_status"`
	StatusDetail      string          `json:"status_detail"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"payment_method"`
	ExternalReference string          `json:"external_reference"`
	Metadata          PaymentMetadata `json:"metadata"`
	TransactionId     string          `json:"transaction_id"`
}

// SettlementReference is the key used to deduplicate side effects of a payment.
// Payments created without an external reference fall back to the payment id.
func (s PaymentSnapshot) SettlementReference() string {
	if ref := strings.TrimSpace(s.ExternalReference); ref != "" {
		return ref
	}
	return "payment:" + s.PaymentId
}

func (s PaymentSnapshot) OrderRef() OrderRef {
	return OrderRef{
		TenantId:          s.Metadata.TenantId,
		TableId:           strings.TrimSpace(s.Metadata.TableId),
		TableNumber:       strings.TrimSpace(s.Metadata.TableNumber),
		ExternalReference: s.ExternalReference,
	}
}

// OrderRef identifies the table a payment settles. Either TableId or
// TableNumber is set; TableId wins when both are.
type OrderRef struct {
	TenantId          string
	TableId           string
	TableNumber       string
	ExternalReference string
}

func (r OrderRef) HasLocator() bool {
	return r.TableId != "" || r.TableNumber != ""
}
