package workflow

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindTenantNotFound      ErrorKind = "tenant_not_found"
	KindTenantNotConfigured ErrorKind = "tenant_not_configured"
	KindProviderQuery       ErrorKind = "provider_query_failure"
	KindStore               ErrorKind = "store_failure"
	KindSignature           ErrorKind = "signature_mismatch"
	KindOrderLocate         ErrorKind = "order_locate_failure"
	KindLedgerPost          ErrorKind = "ledger_post_failure"
	KindAudit               ErrorKind = "audit_failure"
)

// SettlementError tags an error with the failure kind the dispatcher branches on.
type SettlementError struct {
	Kind ErrorKind
	Err  error
}

func (e *SettlementError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Is matches any SettlementError of the same kind, so the sentinels below work
// with errors.Is.
func (e *SettlementError) Is(target error) bool {
	t, ok := target.(*SettlementError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

var (
	ErrTenantNotFound      = &SettlementError{Kind: KindTenantNotFound}
	ErrTenantNotConfigured = &SettlementError{Kind: KindTenantNotConfigured}
	ErrProviderQuery       = &SettlementError{Kind: KindProviderQuery}
	ErrSignatureMismatch   = &SettlementError{Kind: KindSignature}
	ErrLedgerPost          = &SettlementError{Kind: KindLedgerPost}
)

var (
	ErrNoLocator      = errors.New("payment carries no table id or table number")
	ErrTableNotFound  = errors.New("table not found")
	ErrNoFallback     = errors.New("no fallback provider credential configured")
	ErrCrossTenant    = errors.New("payment metadata names another tenant")
	ErrPaymentIdDrift = errors.New("provider returned a different payment id")
)

func newSettlementError(kind ErrorKind, err error) error {
	return &SettlementError{Kind: kind, Err: err}
}

// KindOf returns the kind of the first SettlementError in err's chain.
func KindOf(err error) ErrorKind {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
