package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PostResult struct {
	Entry   *models.LedgerEntry
	Balance *models.LedgerBalance
	// Duplicate is set when the external reference was already posted and
	// nothing new was written.
	Duplicate bool
	Err       error
}

type LedgerPosting struct {
	TenantId          string
	PaymentId         string
	ExternalReference string
	Amount            decimal.Decimal
	Motive            string
}

// LedgerPoster credits a tenant's virtual ledger at most once per external
// reference. Postings are serialised per tenant and the balance write is a
// compare-and-swap on LedgerBalance.Version.
type LedgerPoster struct {
	Ledger         LedgerStore
	Idempotency    IdempotencyStore
	Locker         TenantLocker
	MaxCASAttempts int
	Logger         *logrus.Logger
}

func (p *LedgerPoster) Post(ctx context.Context, posting LedgerPosting) PostResult {
	if !posting.Amount.IsPositive() {
		return PostResult{Err: newSettlementError(KindLedgerPost, fmt.Errorf("non-positive amount %s for %s", posting.Amount, posting.ExternalReference))}
	}

	if p.Locker != nil {
		unlock, err := p.Locker.Lock(ctx, posting.TenantId)
		if err != nil {
			return PostResult{Err: newSettlementError(KindLedgerPost, fmt.Errorf("lock tenant %s: %w", posting.TenantId, err))}
		}
		defer unlock()
	}

	if p.Idempotency != nil {
		skip, err := p.Idempotency.Begin(ctx, posting.TenantId, HandlerLedgerPost, posting.ExternalReference)
		if err != nil {
			return PostResult{Err: newSettlementError(KindLedgerPost, fmt.Errorf("begin posting %s: %w", posting.ExternalReference, err))}
		}
		if skip {
			existing, err := p.Ledger.FindLedgerEntry(ctx, posting.TenantId, posting.ExternalReference)
			return PostResult{Entry: existing, Duplicate: true, Err: wrapLedgerErr(err)}
		}
	}

	result := p.post(ctx, posting)
	p.finish(ctx, posting, result)
	return result
}

func (p *LedgerPoster) post(ctx context.Context, posting LedgerPosting) PostResult {
	entry, existed, err := p.ensureEntry(ctx, posting)
	if err != nil {
		return PostResult{Err: wrapLedgerErr(err)}
	}

	attempts := p.MaxCASAttempts
	if attempts <= 0 {
		attempts = 5
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		current, err := p.Ledger.GetLedgerBalance(ctx, posting.TenantId)
		if err != nil {
			return PostResult{Entry: entry, Err: wrapLedgerErr(fmt.Errorf("read balance: %w", err))}
		}
		if current == nil {
			current = models.EmptyLedgerBalance(posting.TenantId)
		}
		if current.Contains(*entry) {
			// Entry was appended and applied by an earlier, partially failed delivery.
			return PostResult{Entry: entry, Balance: current, Duplicate: existed}
		}

		next := current.WithEntry(*entry)
		err = p.Ledger.SetLedgerBalance(ctx, next)
		if errors.Is(err, models.ErrBalanceConflict) {
			loggerOr(p.Logger).WithFields(logrus.Fields{
				"field":              "LedgerPoster",
				"tenant_id":          posting.TenantId,
				"external_reference": posting.ExternalReference,
				"attempt":            attempt,
			}).Warn("ledger balance version conflict, retrying")
			continue
		}
		if err != nil {
			return PostResult{Entry: entry, Err: wrapLedgerErr(fmt.Errorf("write balance: %w", err))}
		}
		return PostResult{Entry: entry, Balance: next}
	}
	return PostResult{Entry: entry, Err: wrapLedgerErr(fmt.Errorf("balance update for %s gave up after %d attempts: %w", posting.ExternalReference, attempts, models.ErrBalanceConflict))}
}

// ensureEntry appends the entry unless the external reference already has one.
func (p *LedgerPoster) ensureEntry(ctx context.Context, posting LedgerPosting) (*models.LedgerEntry, bool, error) {
	existing, err := p.Ledger.FindLedgerEntry(ctx, posting.TenantId, posting.ExternalReference)
	if err != nil {
		return nil, false, fmt.Errorf("find entry: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	entry := models.NewLedgerEntry(posting.TenantId, posting.ExternalReference, posting.PaymentId, posting.Amount, posting.Motive)
	err = p.Ledger.AppendLedgerEntry(ctx, &entry)
	if errors.Is(err, models.ErrLedgerEntryExists) {
		existing, err = p.Ledger.FindLedgerEntry(ctx, posting.TenantId, posting.ExternalReference)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("reload entry after duplicate: %w", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("append entry: %w", err)
	}
	return &entry, false, nil
}

func (p *LedgerPoster) finish(ctx context.Context, posting LedgerPosting, result PostResult) {
	logger := loggerOr(p.Logger)
	if result.Err != nil {
		logger.WithFields(logrus.Fields{
			"field":              "LedgerPoster",
			"tenant_id":          posting.TenantId,
			"payment_id":         posting.PaymentId,
			"external_reference": posting.ExternalReference,
			"amount":             posting.Amount.String(),
			"financial_impact":   true,
		}).Error("ledger posting failed: " + result.Err.Error())
	}
	if p.Idempotency == nil {
		return
	}
	var err error
	if result.Err == nil {
		err = p.Idempotency.MarkSucceeded(ctx, posting.TenantId, HandlerLedgerPost, posting.ExternalReference)
	} else {
		err = p.Idempotency.MarkFailed(ctx, posting.TenantId, HandlerLedgerPost, posting.ExternalReference, result.Err)
	}
	if err != nil {
		config.LogError(logger, "LedgerPoster", "finish", "update idempotency", posting.ExternalReference, err)
	}
}

func wrapLedgerErr(err error) error {
	if err == nil {
		return nil
	}
	return newSettlementError(KindLedgerPost, err)
}
