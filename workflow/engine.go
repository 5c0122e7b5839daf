package workflow

import (
	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/provider"
	"github.com/sirupsen/logrus"
)

// HTTPProviderFactory builds provider clients against the configured API.
func HTTPProviderFactory(settings config.SettlementSettings) ProviderFactory {
	return func(cred models.ProviderCredential) (PaymentProvider, error) {
		client, err := provider.NewClient(settings.ProviderBaseURL, cred.AccessToken, settings.ProviderTimeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// EngineDeps are the stores and infrastructure the settlement engine runs on.
type EngineDeps struct {
	Store       *models.Store
	Idempotency IdempotencyStore
	Locker      TenantLocker
	Providers   ProviderFactory
	Metrics     *Metrics
	Logger      *logrus.Logger
}

// NewPaymentDispatcher wires every settlement component onto one store.
func NewPaymentDispatcher(deps EngineDeps, settings config.SettlementSettings) *PaymentDispatcher {
	logger := loggerOr(deps.Logger)
	providers := deps.Providers
	if providers == nil {
		providers = HTTPProviderFactory(settings)
	}

	var fallback PaymentProvider
	if settings.FallbackAccessToken != "" {
		p, err := providers(models.ProviderCredential{AccessToken: settings.FallbackAccessToken})
		if err != nil {
			config.LogError(logger, "workflow", "NewPaymentDispatcher", "fallback provider client", nil, err)
		} else {
			fallback = p
		}
	}

	auditor := &AuditRecorder{Audit: deps.Store, Idempotency: deps.Idempotency, Logger: logger}
	return &PaymentDispatcher{
		Resolver: &CredentialResolver{Fallback: fallback, Tenants: deps.Store},
		Verifier: &StatusVerifier{NewProvider: providers, Timeout: settings.ProviderTimeout},
		Reconciler: &OrderReconciler{
			Tables:      deps.Store,
			Audit:       auditor,
			Idempotency: deps.Idempotency,
			Logger:      logger,
		},
		Poster: &LedgerPoster{
			Ledger:         deps.Store,
			Idempotency:    deps.Idempotency,
			Locker:         deps.Locker,
			MaxCASAttempts: settings.LedgerCASMaxAttempts,
			Logger:         logger,
		},
		Auditor:          auditor,
		Idempotency:      deps.Idempotency,
		Outbox:           deps.Store,
		RequireSignature: settings.RequireWebhookSignature,
		Metrics:          deps.Metrics,
		Logger:           logger,
	}
}
