package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	AckSuccess = "success"
	AckIgnored = "ignored"
)

// Ack is the response returned to the provider for one delivery.
type Ack struct {
	HTTPStatus int
	Status     string
	Error      string
}

type Branch string

const (
	BranchApproved  Branch = "approved"
	BranchRejected  Branch = "rejected"
	BranchPending   Branch = "pending"
	BranchCancelled Branch = "cancelled"
	BranchUnhandled Branch = "unhandled"
)

func branchOf(status models.PaymentStatus) Branch {
	switch status {
	case models.PaymentStatusApproved:
		return BranchApproved
	case models.PaymentStatusRejected:
		return BranchRejected
	case models.PaymentStatusPending:
		return BranchPending
	case models.PaymentStatusCancelled:
		return BranchCancelled
	default:
		return BranchUnhandled
	}
}

// DispatchOutcome collects what happened to one notification. Step results are
// nil for steps the branch did not run.
type DispatchOutcome struct {
	PaymentId string
	TenantId  string
	Branch    Branch
	Snapshot  *models.PaymentSnapshot
	Release   *ReleaseResult
	Ledger    *PostResult
	Audit     *AuditResult
	// Ignored is set when the delivery was rejected by the signature check.
	Ignored bool
	// Regressed is set when a non-approved snapshot arrived after settlement.
	Regressed bool
	Err       error
}

// PaymentDispatcher drives one notification from intake to acknowledgement.
type PaymentDispatcher struct {
	Resolver    *CredentialResolver
	Verifier    *StatusVerifier
	Reconciler  *OrderReconciler
	Poster      *LedgerPoster
	Auditor     *AuditRecorder
	Idempotency IdempotencyStore
	Outbox      SettlementOutbox

	RequireSignature bool

	Metrics *Metrics
	Logger  *logrus.Logger
	Tracer  trace.Tracer

	gate paymentGate
}

func (d *PaymentDispatcher) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer("restaurant-settlement")
}

// Handle validates a raw webhook delivery, dispatches it and builds the
// acknowledgement. Only a malformed body (400) or a crash (500) is not a 200.
func (d *PaymentDispatcher) Handle(ctx context.Context, body []byte, signature, requestId string) (ack Ack) {
	logger := loggerOr(d.Logger)
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"field": "PaymentDispatcher",
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("payment dispatcher crashed")
			d.Metrics.notification("crash")
			ack = Ack{HTTPStatus: http.StatusInternalServerError, Error: "internal error"}
		}
	}()

	n, result, err := ParseNotification(body, signature, requestId)
	switch result {
	case IntakeInvalid:
		d.Metrics.notification("invalid")
		return Ack{HTTPStatus: http.StatusBadRequest, Error: err.Error()}
	case IntakeIgnored:
		d.Metrics.notification("ignored")
		return Ack{HTTPStatus: http.StatusOK, Status: AckIgnored}
	}

	out := d.Dispatch(ctx, n)
	if out.Ignored {
		d.Metrics.notification("ignored")
		return Ack{HTTPStatus: http.StatusOK, Status: AckIgnored}
	}
	d.Metrics.notification("success")
	return Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}
}

// Dispatch runs a structurally valid notification. Deliveries of the same
// payment id run one after another, each against a fresh provider query.
func (d *PaymentDispatcher) Dispatch(ctx context.Context, n PaymentNotification) *DispatchOutcome {
	unlock := d.gate.lock(n.PaymentId)
	defer unlock()
	return d.dispatch(ctx, n, true)
}

// Settle re-runs settlement for a payment id without a webhook delivery.
// Used by operator replay; no signature is checked.
func (d *PaymentDispatcher) Settle(ctx context.Context, paymentId string) *DispatchOutcome {
	n := PaymentNotification{Kind: NotificationKindPayment, PaymentId: paymentId}
	unlock := d.gate.lock(paymentId)
	defer unlock()
	return d.dispatch(ctx, n, false)
}

func (d *PaymentDispatcher) dispatch(ctx context.Context, n PaymentNotification, checkSignature bool) *DispatchOutcome {
	// The provider may hang up before we finish; settlement continues regardless.
	ctx = context.WithoutCancel(ctx)
	ctx = utils.SetPaymentIdInContext(ctx, n.PaymentId)
	started := time.Now()
	logger := loggerOr(d.Logger)

	ctx, span := d.tracer().Start(ctx, "settlement.dispatch", trace.WithAttributes(
		attribute.String("payment.id", n.PaymentId),
		attribute.String("notification.action", n.Action),
	))
	defer span.End()

	out := &DispatchOutcome{PaymentId: n.PaymentId}
	defer func() {
		branch := string(out.Branch)
		if branch == "" {
			branch = "unresolved"
		}
		d.Metrics.observe(branch, time.Since(started).Seconds())
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, string(KindOf(out.Err)))
		}
	}()

	resolved, err := d.Resolver.Resolve(ctx, n.PaymentId)
	if err != nil {
		out.Err = err
		d.Metrics.step("resolve", string(KindOf(err)))
		d.logOperatorReview(ctx, logger, err)
		return out
	}
	out.TenantId = resolved.TenantId()
	ctx = utils.SetTenantIdInContext(ctx, out.TenantId)
	span.SetAttributes(attribute.String("tenant.id", out.TenantId))

	if checkSignature && resolved.Credential.WebhookSecret != "" {
		if err := VerifyNotificationSignature(n, resolved.Credential.WebhookSecret); err != nil {
			fields := logrus.Fields{
				"field":      "PaymentDispatcher",
				"tenant_id":  out.TenantId,
				"payment_id": n.PaymentId,
				"request_id": n.RequestId,
			}
			if d.RequireSignature {
				out.Ignored = true
				out.Err = err
				d.Metrics.step("signature", "rejected")
				logger.WithFields(fields).Warn("notification rejected: " + err.Error())
				return out
			}
			d.Metrics.step("signature", "mismatch")
			logger.WithFields(fields).Warn("notification signature mismatch (not enforced): " + err.Error())
		}
	}

	snap, err := d.Verifier.Verify(ctx, resolved, n.PaymentId)
	if err != nil {
		out.Err = err
		d.Metrics.step("verify", string(KindOf(err)))
		d.logOperatorReview(ctx, logger, err)
		return out
	}
	out.Snapshot = &snap
	out.Branch = branchOf(snap.Status)
	span.SetAttributes(attribute.String("payment.status", string(snap.Status)))

	switch out.Branch {
	case BranchApproved:
		d.settleApproved(ctx, out, snap)
	case BranchRejected, BranchPending, BranchCancelled:
		d.recordOnly(ctx, out, snap)
	default:
		logger.WithFields(logrus.Fields{
			"field":      "PaymentDispatcher",
			"tenant_id":  out.TenantId,
			"payment_id": n.PaymentId,
			"raw_status": snap.RawStatus,
		}).Warn("unhandled payment status, acknowledging without side effects")
		d.Metrics.step("branch", "unhandled")
		return out
	}

	d.enqueueSettlementEvent(ctx, out)
	d.logOutcome(ctx, logger, out)
	return out
}

// settleApproved runs release, posting and audit side by side. Each step owns
// its result; one failing never cancels the others.
func (d *PaymentDispatcher) settleApproved(ctx context.Context, out *DispatchOutcome, snap models.PaymentSnapshot) {
	var g errgroup.Group
	g.Go(func() error {
		out.Release = runStep(func() ReleaseResult {
			return d.Reconciler.Release(ctx, out.TenantId, snap)
		}, func(err error) ReleaseResult {
			return ReleaseResult{State: ReleaseFailed, Outcome: models.ReleaseOutcomeFailed, Err: newSettlementError(KindOrderLocate, err)}
		})
		return nil
	})
	g.Go(func() error {
		out.Ledger = runStep(func() PostResult {
			return d.Poster.Post(ctx, LedgerPosting{
				TenantId:          out.TenantId,
				PaymentId:         snap.PaymentId,
				ExternalReference: snap.SettlementReference(),
				Amount:            snap.Amount,
				Motive:            ledgerMotive(snap),
			})
		}, func(err error) PostResult {
			return PostResult{Err: newSettlementError(KindLedgerPost, err)}
		})
		return nil
	})
	g.Go(func() error {
		out.Audit = runStep(func() AuditResult {
			return d.Auditor.RecordPayment(ctx, out.TenantId, snap)
		}, func(err error) AuditResult {
			return AuditResult{Err: newSettlementError(KindAudit, err)}
		})
		return nil
	})
	_ = g.Wait()

	d.Metrics.step("release", StepOutcome(out.Release.Err, out.Release.Skipped))
	d.Metrics.step("ledger", StepOutcome(out.Ledger.Err, out.Ledger.Duplicate))
	d.Metrics.step("audit", StepOutcome(out.Audit.Err, out.Audit.Skipped))
	if out.Ledger.Err == nil && !out.Ledger.Duplicate && out.Ledger.Balance != nil {
		d.Metrics.posted(out.TenantId, snap.Amount.InexactFloat64())
	}
}

// recordOnly handles the non-approved branches: audit only, and nothing at all
// once this payment id has already been settled as approved.
func (d *PaymentDispatcher) recordOnly(ctx context.Context, out *DispatchOutcome, snap models.PaymentSnapshot) {
	settled, err := d.paymentSettled(ctx, out.TenantId, snap)
	if err != nil {
		loggerOr(d.Logger).WithFields(logrus.Fields{
			"field":      "PaymentDispatcher",
			"tenant_id":  out.TenantId,
			"payment_id": snap.PaymentId,
		}).Warn("could not check settlement state: " + err.Error())
	}
	if settled {
		out.Regressed = true
		d.Metrics.step("audit", "regression_skipped")
		loggerOr(d.Logger).WithFields(logrus.Fields{
			"field":              "PaymentDispatcher",
			"tenant_id":          out.TenantId,
			"payment_id":         snap.PaymentId,
			"external_reference": snap.ExternalReference,
			"status":             snap.Status,
		}).Warn("ignoring status regression for settled payment")
		return
	}
	res := runStep(func() AuditResult {
		return d.Auditor.RecordPayment(ctx, out.TenantId, snap)
	}, func(err error) AuditResult {
		return AuditResult{Err: newSettlementError(KindAudit, err)}
	})
	out.Audit = res
	d.Metrics.step("audit", StepOutcome(res.Err, res.Skipped))
}

// paymentSettled reports whether this payment id was already applied as
// approved, either through its approved payment record or the ledger entry
// it posted. Other payments sharing the reference do not count.
func (d *PaymentDispatcher) paymentSettled(ctx context.Context, tenantId string, snap models.PaymentSnapshot) (bool, error) {
	var errs []error
	if d.Idempotency != nil {
		ok, err := d.Idempotency.IsSucceeded(ctx, tenantId, HandlerPaymentRecord, paymentRecordKey(snap.PaymentId, models.PaymentStatusApproved))
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			return true, nil
		}
	}
	if d.Poster != nil && d.Poster.Ledger != nil {
		entry, err := d.Poster.Ledger.FindLedgerEntry(ctx, tenantId, snap.SettlementReference())
		if err != nil {
			errs = append(errs, err)
		}
		if entry != nil && entry.PaymentId == snap.PaymentId {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// runStep converts a panic inside one fan-out step into that step's failure.
func runStep[T any](step func() T, onPanic func(error) T) (res *T) {
	defer func() {
		if r := recover(); r != nil {
			v := onPanic(fmt.Errorf("panic: %v", r))
			res = &v
		}
	}()
	v := step()
	return &v
}

// StepOutcome labels a step result for metrics, logs and the outbox.
func StepOutcome(err error, skipped bool) string {
	switch {
	case err != nil:
		return "failed"
	case skipped:
		return "duplicate"
	default:
		return "ok"
	}
}

func ledgerMotive(snap models.PaymentSnapshot) string {
	if snap.PaymentMethod == "" {
		return fmt.Sprintf("Provider payment %s", snap.PaymentId)
	}
	return fmt.Sprintf("Provider payment %s (%s)", snap.PaymentId, snap.PaymentMethod)
}

func (d *PaymentDispatcher) enqueueSettlementEvent(ctx context.Context, out *DispatchOutcome) {
	if d.Outbox == nil || out.Snapshot == nil || out.Regressed {
		return
	}
	snap := out.Snapshot
	stepErrors := map[string]string{}
	ev := &models.SettlementEvent{
		TenantId:          out.TenantId,
		PaymentId:         snap.PaymentId,
		ExternalReference: snap.ExternalReference,
		Status:            snap.Status,
		Amount:            snap.Amount,
		PublishStatus:     models.OutboxPublishStatusPending,
	}
	if out.Release != nil {
		ev.ReleaseOutcome = string(out.Release.Outcome)
		if out.Release.Err != nil {
			stepErrors["release"] = out.Release.Err.Error()
		}
	}
	if out.Ledger != nil {
		ev.LedgerOutcome = StepOutcome(out.Ledger.Err, out.Ledger.Duplicate)
		if out.Ledger.Err != nil {
			stepErrors["ledger"] = out.Ledger.Err.Error()
		}
	}
	if out.Audit != nil {
		ev.AuditOutcome = StepOutcome(out.Audit.Err, out.Audit.Skipped)
		if out.Audit.Err != nil {
			stepErrors["audit"] = out.Audit.Err.Error()
		}
	}
	if len(stepErrors) > 0 {
		ev.StepErrors, _ = json.Marshal(stepErrors)
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		ev.CorrelationId = cid
	}
	if err := d.Outbox.EnqueueSettlementEvent(ctx, ev); err != nil {
		loggerOr(d.Logger).WithFields(logrus.Fields{
			"field":      "PaymentDispatcher",
			"tenant_id":  out.TenantId,
			"payment_id": snap.PaymentId,
		}).Error("enqueue settlement event failed: " + err.Error())
	}
}

func (d *PaymentDispatcher) logOperatorReview(ctx context.Context, logger *logrus.Logger, err error) {
	fields := contextFields(ctx, "PaymentDispatcher")
	fields["kind"] = KindOf(err)
	fields["operator_review"] = true
	logger.WithFields(fields).Error("payment not settled: " + err.Error())
}

func (d *PaymentDispatcher) logOutcome(ctx context.Context, logger *logrus.Logger, out *DispatchOutcome) {
	fields := contextFields(ctx, "PaymentDispatcher")
	fields["branch"] = out.Branch
	if out.Release != nil {
		fields["release"] = out.Release.Outcome
	}
	if out.Ledger != nil {
		fields["ledger"] = StepOutcome(out.Ledger.Err, out.Ledger.Duplicate)
	}
	if out.Audit != nil {
		fields["audit"] = StepOutcome(out.Audit.Err, out.Audit.Skipped)
	}
	logger.WithFields(fields).Info("payment notification dispatched")
}

// paymentGate serialises dispatches per payment id. Entries are dropped once
// no dispatch holds or waits on them.
type paymentGate struct {
	mu    sync.Mutex
	locks map[string]*gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	refs int
}

func (g *paymentGate) lock(paymentId string) func() {
	g.mu.Lock()
	if g.locks == nil {
		g.locks = map[string]*gateEntry{}
	}
	e, ok := g.locks[paymentId]
	if !ok {
		e = &gateEntry{}
		g.locks[paymentId] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.locks, paymentId)
		}
		g.mu.Unlock()
	}
}
