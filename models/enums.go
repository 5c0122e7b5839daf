package models

import "strings"

type PaymentStatus string

const (
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusOther     PaymentStatus = "other"
)

// ParsePaymentStatus maps the provider's status string onto the statuses the
// settlement engine branches on. "in_process" and "authorized" are not final
// and settle later, so they are treated as pending.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return PaymentStatusApproved
	case "rejected":
		return PaymentStatusRejected
	case "pending", "in_process", "authorized":
		return PaymentStatusPending
	case "cancelled", "canceled":
		return PaymentStatusCancelled
	default:
		return PaymentStatusOther
	}
}

type TableStatus string

const (
	TableStatusFree     TableStatus = "free"
	TableStatusOccupied TableStatus = "occupied"
)

type ReleaseOutcome string

const (
	ReleaseOutcomeReleased  ReleaseOutcome = "released"
	ReleaseOutcomeNotFound  ReleaseOutcome = "not_found"
	ReleaseOutcomeNoLocator ReleaseOutcome = "no_locator"
	ReleaseOutcomeFailed    ReleaseOutcome = "failed"
	// ReleaseOutcomeAlreadyReleased marks a redelivery after a successful release.
	ReleaseOutcomeAlreadyReleased ReleaseOutcome = "already_released"
)

const LedgerSourceProvider = "provider"
