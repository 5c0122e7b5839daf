package provider

import (
	"encoding/json"

	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/shopspring/decimal"
)

type paymentResponse struct {
	Id                 utils.FlexString   `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	TransactionAmount  decimal.Decimal    `json:"transaction_amount"`
	PaymentTypeId      string             `json:"payment_type_id"`
	PaymentMethodId    string             `json:"payment_method_id"`
	ExternalReference  string             `json:"external_reference"`
	AuthorizationCode  string             `json:"authorization_code"`
	Metadata           paymentMetadata    `json:"metadata"`
	TransactionDetails transactionDetails `json:"transaction_details"`
}

type paymentMetadata struct {
	TenantId    utils.FlexString `json:"tenant_id"`
	TableId     utils.FlexString `json:"table_id"`
	TableNumber utils.FlexString `json:"table_number"`
	Cart        json.RawMessage  `json:"cart"`
}

type transactionDetails struct {
	TransactionId string `json:"transaction_id"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func (p paymentResponse) snapshot() models.PaymentSnapshot {
	method := p.PaymentTypeId
	if method == "" {
		method = p.PaymentMethodId
	}
	txId := p.TransactionDetails.TransactionId
	if txId == "" {
		txId = p.AuthorizationCode
	}
	return models.PaymentSnapshot{
		PaymentId:         p.Id.String(),
		Status:            models.ParsePaymentStatus(p.Status),
		RawStatus:         p.Status,
		StatusDetail:      p.StatusDetail,
		Amount:            p.TransactionAmount,
		PaymentMethod:     method,
		ExternalReference: p.ExternalReference,
		Metadata: models.PaymentMetadata{
			TenantId:    p.Metadata.TenantId.String(),
			TableId:     p.Metadata.TableId.String(),
			TableNumber: p.Metadata.TableNumber.String(),
			Cart:        p.Metadata.Cart,
		},
		TransactionId: txId,
	}
}
