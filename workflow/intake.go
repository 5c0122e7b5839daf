package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/restaurant_backend/utils"
)

const NotificationKindPayment = "payment"

type IntakeResult string

const (
	IntakeValid   IntakeResult = "valid"
	IntakeIgnored IntakeResult = "ignored"
	IntakeInvalid IntakeResult = "invalid"
)

// PaymentNotification is one inbound webhook delivery. It lives only for the
// duration of a dispatch.
type PaymentNotification struct {
	Kind      string
	Action    string
	PaymentId string
	Signature string
	RequestId string
}

type notificationBody struct {
	Type   string `json:"type" validate:"required"`
	Action string `json:"action"`
	Data   struct {
		Id utils.FlexString `json:"id"`
	} `json:"data"`
}

type paymentNotificationBody struct {
	Kind      string `validate:"required,eq=payment"`
	PaymentId string `validate:"required,max=64,printascii"`
}

// ParseNotification validates and classifies a webhook body. It has no side effects.
func ParseNotification(body []byte, signature, requestId string) (PaymentNotification, IntakeResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return PaymentNotification{}, IntakeInvalid, newSettlementError(KindValidation, errors.New("empty body"))
	}
	var raw notificationBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return PaymentNotification{}, IntakeInvalid, newSettlementError(KindValidation, fmt.Errorf("decode body: %w", err))
	}
	raw.Type = strings.ToLower(strings.TrimSpace(raw.Type))
	if err := utils.ValidateStruct(raw); err != nil {
		return PaymentNotification{}, IntakeInvalid, newSettlementError(KindValidation, fmt.Errorf("type: %w", err))
	}

	n := PaymentNotification{
		Kind:      raw.Type,
		Action:    strings.TrimSpace(raw.Action),
		PaymentId: raw.Data.Id.String(),
		Signature: strings.TrimSpace(signature),
		RequestId: strings.TrimSpace(requestId),
	}
	if n.Kind != NotificationKindPayment {
		return n, IntakeIgnored, nil
	}
	if err := utils.ValidateStruct(paymentNotificationBody{Kind: n.Kind, PaymentId: n.PaymentId}); err != nil {
		return n, IntakeInvalid, newSettlementError(KindValidation, fmt.Errorf("data.id: %w", err))
	}
	return n, IntakeValid, nil
}
