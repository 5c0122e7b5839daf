package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_ApprovedSettlesTableLedgerAndAudit(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "tbl-7"
	h.net.set(snap)

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}, ack)

	table := h.store.table("t-1", "tbl-7")
	assert.Equal(t, models.TableStatusFree, table.Status)
	assert.Empty(t, table.CustomerName)
	assert.True(t, table.RunningTotal.IsZero())
	assert.Nil(t, table.OpenedAt)
	assert.Equal(t, "123", table.LastPaymentId)

	require.Len(t, h.store.releases, 1)
	assert.Equal(t, models.ReleaseOutcomeReleased, h.store.releases[0].Outcome)
	assert.Equal(t, "tbl-7", h.store.releases[0].TableId)
	assert.Equal(t, "R-42", h.store.releases[0].ExternalReference)

	require.Len(t, h.store.entries, 1)
	assert.Equal(t, "R-42", h.store.entries[0].ExternalReference)
	assert.True(t, h.store.entries[0].Amount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, models.LedgerSourceProvider, h.store.entries[0].Source)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))

	require.Len(t, h.store.payments, 1)
	assert.Equal(t, models.PaymentStatusApproved, h.store.payments[0].Status)
	assert.JSONEq(t, `[{"sku":"A","qty":1}]`, string(h.store.payments[0].OrderSnapshot))

	require.Len(t, h.store.events, 1)
	ev := h.store.events[0]
	assert.Equal(t, "released", ev.ReleaseOutcome)
	assert.Equal(t, "ok", ev.LedgerOutcome)
	assert.Equal(t, "ok", ev.AuditOutcome)
	assert.Equal(t, models.OutboxPublishStatusPending, ev.PublishStatus)
}

func TestDispatch_DuplicateDeliveryCreditsOnce(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "tbl-7"
	h.net.set(snap)

	first := h.d.Handle(context.Background(), paymentBody("123"), "", "")
	second := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, first.Status)
	assert.Equal(t, AckSuccess, second.Status)
	entries, payments, releases, _ := h.store.counts()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, payments)
	assert.Equal(t, 2, releases)
	assert.Equal(t, models.ReleaseOutcomeReleased, h.store.releases[0].Outcome)
	assert.Equal(t, models.ReleaseOutcomeAlreadyReleased, h.store.releases[1].Outcome)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_ConcurrentDuplicatesCreditOnce(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")
			assert.Equal(t, http.StatusOK, ack.HTTPStatus)
		}()
	}
	wg.Wait()

	entries, payments, _, _ := h.store.counts()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, payments)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_ConcurrentDistinctPaymentsNoLostUpdate(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	for i := 0; i < 20; i++ {
		h.net.set(approvedSnapshot(fmt.Sprint(1000+i), "t-1", fmt.Sprintf("R-%d", i), 100))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.d.Handle(context.Background(), paymentBody(fmt.Sprint(1000+i)), "", "")
		}(i)
	}
	wg.Wait()

	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(2000)), h.store.balance("t-1").String())
	bal, err := h.store.GetLedgerBalance(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Len(t, bal.Entries, 20)
}

func TestDispatch_NoLocatableTableStillPosts(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "missing"
	snap.Metadata.TableNumber = "99"
	h.net.set(snap)

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, ack.Status)
	require.Len(t, h.store.releases, 1)
	assert.Equal(t, models.ReleaseOutcomeNotFound, h.store.releases[0].Outcome)
	assert.Empty(t, h.store.releases[0].TableDescriptor)
	require.NotNil(t, h.store.releases[0].Error)
	require.Len(t, h.store.entries, 1)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, models.TableStatusOccupied, h.store.table("t-1", "tbl-7").Status)
}

func TestDispatch_MissingLocatorRecordsEmptyRelease(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	require.NotNil(t, out.Release)
	assert.Equal(t, ReleaseFailed, out.Release.State)
	assert.ErrorIs(t, out.Release.Err, ErrNoLocator)
	require.Len(t, h.store.releases, 1)
	assert.Equal(t, models.ReleaseOutcomeNoLocator, h.store.releases[0].Outcome)
	assert.Empty(t, h.store.releases[0].TableId)
	assert.Empty(t, h.store.releases[0].TableNumber)
	assert.NoError(t, out.Ledger.Err)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_NonPaymentKindIgnoredWithoutSideEffects(t *testing.T) {
	h := newHarness()

	ack := h.d.Handle(context.Background(), []byte(`{"type":"subscription","data":{"id":"5"}}`), "", "")

	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckIgnored}, ack)
	assert.Empty(t, h.net.callsSnapshot())
	entries, payments, releases, events := h.store.counts()
	assert.Zero(t, entries+payments+releases+events)
}

func TestDispatch_MalformedBodyIs400(t *testing.T) {
	h := newHarness()

	ack := h.d.Handle(context.Background(), []byte(`{"data":{"id":"5"}}`), "", "")

	assert.Equal(t, http.StatusBadRequest, ack.HTTPStatus)
	assert.NotEmpty(t, ack.Error)
	assert.Empty(t, h.net.callsSnapshot())
}

func TestDispatch_TenantWithoutCredentialIsAcknowledged(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "", "")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")
	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}, ack)
	assert.ErrorIs(t, out.Err, ErrTenantNotConfigured)
	assert.Nil(t, out.Snapshot)
	assert.Empty(t, h.net.factory)
	for _, c := range h.net.callsSnapshot() {
		assert.Equal(t, fallbackToken, c.Token)
	}
	entries, payments, releases, events := h.store.counts()
	assert.Zero(t, entries+payments+releases+events)
}

func TestDispatch_UnknownTenantIsAcknowledged(t *testing.T) {
	h := newHarness()
	h.net.set(approvedSnapshot("123", "ghost", "R-42", 1500))

	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})
	assert.ErrorIs(t, out.Err, ErrTenantNotFound)

	snap := approvedSnapshot("124", "", "R-43", 10)
	h.net.set(snap)
	out = h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "124"})
	assert.ErrorIs(t, out.Err, ErrTenantNotFound)
}

func TestDispatch_ProviderFailureIsAcknowledged(t *testing.T) {
	h := newHarness()
	h.net.fail("123", context.DeadlineExceeded)

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, ack.Status)
	entries, payments, releases, events := h.store.counts()
	assert.Zero(t, entries+payments+releases+events)
}

func TestDispatch_NonApprovedBranchesOnlyAudit(t *testing.T) {
	for _, status := range []models.PaymentStatus{models.PaymentStatusRejected, models.PaymentStatusPending, models.PaymentStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness()
			h.store.addTenant("t-1", "tenant-token", "")
			h.store.addOccupiedTable("t-1", "tbl-7", "7")
			snap := approvedSnapshot("123", "t-1", "R-42", 1500)
			snap.Status = status
			snap.Metadata.TableId = "tbl-7"
			h.net.set(snap)

			out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

			assert.Equal(t, Branch(status), out.Branch)
			assert.Nil(t, out.Release)
			assert.Nil(t, out.Ledger)
			require.NotNil(t, out.Audit)
			entries, payments, releases, _ := h.store.counts()
			assert.Equal(t, 0, entries)
			assert.Equal(t, 0, releases)
			require.Equal(t, 1, payments)
			assert.Equal(t, status, h.store.payments[0].Status)
			assert.Equal(t, models.TableStatusOccupied, h.store.table("t-1", "tbl-7").Status)
		})
	}
}

func TestDispatch_UnhandledStatusAcknowledgesWithoutWrites(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Status = models.PaymentStatusOther
	snap.RawStatus = "refunded"
	h.net.set(snap)

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, ack.Status)
	entries, payments, releases, events := h.store.counts()
	assert.Zero(t, entries+payments+releases+events)
}

func TestDispatch_StatusIsNotRegressedAfterSettlement(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	h.net.set(snap)
	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	snap.Status = models.PaymentStatusPending
	h.net.set(snap)
	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.True(t, out.Regressed)
	_, payments, _, events := h.store.counts()
	assert.Equal(t, 1, payments)
	assert.Equal(t, 1, events)
	assert.Equal(t, models.PaymentStatusApproved, h.store.payments[0].Status)
}

func TestDispatch_RegressionGuardIsPerPaymentId(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.net.set(approvedSnapshot("200", "t-1", "R-42", 1500))
	declined := approvedSnapshot("199", "t-1", "R-42", 1500)
	declined.Status = models.PaymentStatusRejected
	h.net.set(declined)

	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "200"})
	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "199"})

	assert.False(t, out.Regressed)
	require.NotNil(t, out.Audit)
	assert.NoError(t, out.Audit.Err)
	entries, payments, _, events := h.store.counts()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 2, payments)
	assert.Equal(t, 2, events)
	assert.Equal(t, "199", h.store.payments[1].PaymentId)
	assert.Equal(t, models.PaymentStatusRejected, h.store.payments[1].Status)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_DeliveryDuringInflightRunGetsItsOwnQuery(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Status = models.PaymentStatusPending
	h.net.set(snap)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.net.afterGet = func(token, paymentId string) {
		if token != "tenant-token" {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	firstAck := make(chan Ack, 1)
	go func() { firstAck <- h.d.Handle(context.Background(), paymentBody("123"), "", "") }()
	<-entered

	snap.Status = models.PaymentStatusApproved
	h.net.set(snap)
	secondAck := make(chan Ack, 1)
	go func() { secondAck <- h.d.Handle(context.Background(), paymentBody("123"), "", "") }()
	close(release)

	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}, <-firstAck)
	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}, <-secondAck)
	entries, payments, _, _ := h.store.counts()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 2, payments)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_PendingThenApprovedSettles(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Status = models.PaymentStatusPending
	h.net.set(snap)
	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	snap.Status = models.PaymentStatusApproved
	h.net.set(snap)
	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	_, payments, _, _ := h.store.counts()
	assert.Equal(t, 2, payments)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_VerifierUsesTenantCredentialOnly(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	calls := h.net.callsSnapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, fallbackToken, calls[0].Token)
	assert.Equal(t, "tenant-token", calls[1].Token)
	assert.Equal(t, []string{"tenant-token"}, h.net.factory)
}

func TestDispatch_CrossTenantSnapshotRejected(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addTenant("t-2", "other-token", "")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))
	h.d.Verifier.NewProvider = func(cred models.ProviderCredential) (PaymentProvider, error) {
		return providerFunc(func(ctx context.Context, id string) (models.PaymentSnapshot, error) {
			return approvedSnapshot(id, "t-2", "R-42", 1500), nil
		}), nil
	}

	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.ErrorIs(t, out.Err, ErrProviderQuery)
	assert.ErrorIs(t, out.Err, ErrCrossTenant)
	entries, payments, _, _ := h.store.counts()
	assert.Zero(t, entries+payments)
}

func TestDispatch_ReleaseFailureDoesNotBlockPosting(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	h.store.updateTableErr = errors.New("table store unavailable")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "tbl-7"
	h.net.set(snap)

	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.Equal(t, KindOrderLocate, KindOf(out.Release.Err))
	assert.NoError(t, out.Ledger.Err)
	assert.NoError(t, out.Audit.Err)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
	require.Len(t, h.store.releases, 1)
	assert.Equal(t, models.ReleaseOutcomeFailed, h.store.releases[0].Outcome)
}

func TestDispatch_PanickingStepIsIsolated(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	h.store.updateTablePanic = true
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "tbl-7"
	h.net.set(snap)

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, ack.Status)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
	_, payments, _, _ := h.store.counts()
	assert.Equal(t, 1, payments)
}

func TestDispatch_LedgerFailureStillAudits(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.setBalanceErrs = []error{errors.New("store unavailable")}
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.ErrorIs(t, out.Ledger.Err, ErrLedgerPost)
	assert.NoError(t, out.Audit.Err)
	require.Len(t, h.store.events, 1)
	assert.Equal(t, "failed", h.store.events[0].LedgerOutcome)
	assert.Contains(t, string(h.store.events[0].StepErrors), "store unavailable")

	// The next delivery completes the posting from the entry already appended.
	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})
	entries, payments, _, _ := h.store.counts()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, payments)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_ReseatedTableIsNotWipedByRedelivery(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "")
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	snap := approvedSnapshot("123", "t-1", "R-42", 1500)
	snap.Metadata.TableId = "tbl-7"
	h.net.set(snap)

	h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})
	h.store.addOccupiedTable("t-1", "tbl-7", "7")
	out := h.d.Dispatch(context.Background(), PaymentNotification{Kind: "payment", PaymentId: "123"})

	assert.True(t, out.Release.Skipped)
	assert.Equal(t, models.TableStatusOccupied, h.store.table("t-1", "tbl-7").Status)
}

func TestDispatch_SignatureEnforcement(t *testing.T) {
	h := newHarness()
	h.d.RequireSignature = true
	h.store.addTenant("t-1", "tenant-token", "hook-secret")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	bad := h.d.Handle(context.Background(), paymentBody("123"), "ts=1,v1=deadbeef", "req-1")
	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckIgnored}, bad)
	entries, payments, _, _ := h.store.counts()
	assert.Zero(t, entries+payments)

	good := h.d.Handle(context.Background(), paymentBody("123"), "ts=1,v1="+SignNotification("hook-secret", "123", "req-1", "1"), "req-1")
	assert.Equal(t, Ack{HTTPStatus: http.StatusOK, Status: AckSuccess}, good)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestDispatch_SignatureMismatchOnlyLoggedWhenNotRequired(t *testing.T) {
	h := newHarness()
	h.store.addTenant("t-1", "tenant-token", "hook-secret")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, AckSuccess, ack.Status)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

func TestHandle_CrashIs500(t *testing.T) {
	h := newHarness()
	h.d.Resolver = nil

	ack := h.d.Handle(context.Background(), paymentBody("123"), "", "")

	assert.Equal(t, http.StatusInternalServerError, ack.HTTPStatus)
	assert.NotEmpty(t, ack.Error)
}

func TestSettle_ReplaysWithoutSignature(t *testing.T) {
	h := newHarness()
	h.d.RequireSignature = true
	h.store.addTenant("t-1", "tenant-token", "hook-secret")
	h.net.set(approvedSnapshot("123", "t-1", "R-42", 1500))

	out := h.d.Settle(context.Background(), "123")

	assert.False(t, out.Ignored)
	assert.NoError(t, out.Ledger.Err)
	assert.True(t, h.store.balance("t-1").Equal(decimal.NewFromInt(1500)))
}

type providerFunc func(ctx context.Context, id string) (models.PaymentSnapshot, error)

func (f providerFunc) GetPayment(ctx context.Context, id string) (models.PaymentSnapshot, error) {
	return f(ctx, id)
}
