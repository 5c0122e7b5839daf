package config

import (
	"os"
	"strings"
	"time"
)

// SettlementSettings configures the payment settlement engine.
//
// Env:
// - PROVIDER_API_BASE_URL (default https://api.mercadopago.com)
// - PROVIDER_FALLBACK_ACCESS_TOKEN (platform-wide credential for the first-pass lookup)
// - PROVIDER_TIMEOUT_SECONDS (default 10)
// - WEBHOOK_REQUIRE_SIGNATURE=true rejects notifications whose signature does not match
// - LEDGER_LOCK_TTL_SECONDS (default 30)
// - LEDGER_CAS_MAX_ATTEMPTS (default 5)
type SettlementSettings struct {
	ProviderBaseURL         string
	FallbackAccessToken     string
	ProviderTimeout         time.Duration
	RequireWebhookSignature bool
	LedgerLockTTL           time.Duration
	LedgerCASMaxAttempts    int
}

func LoadSettlementSettings() SettlementSettings {
	baseURL := strings.TrimSpace(os.Getenv("PROVIDER_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.mercadopago.com"
	}
	return SettlementSettings{
		ProviderBaseURL:         strings.TrimRight(baseURL, "/"),
		FallbackAccessToken:     strings.TrimSpace(os.Getenv("PROVIDER_FALLBACK_ACCESS_TOKEN")),
		ProviderTimeout:         time.Duration(intFromEnv("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		RequireWebhookSignature: EnvBoolDefault("WEBHOOK_REQUIRE_SIGNATURE", false),
		LedgerLockTTL:           time.Duration(intFromEnv("LEDGER_LOCK_TTL_SECONDS", 30)) * time.Second,
		LedgerCASMaxAttempts:    intFromEnv("LEDGER_CAS_MAX_ATTEMPTS", 5),
	}
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
