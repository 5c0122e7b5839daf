package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory TenantStore, LedgerStore, AuditStore and SettlementOutbox.
type memStore struct {
	mu sync.Mutex

	tenants  map[string]*models.Tenant
	tables   map[string]*models.Table
	entries  []models.LedgerEntry
	balances map[string]models.LedgerBalance
	payments []models.PaymentRecord
	releases []models.TableReleaseRecord
	events   []models.SettlementEvent

	updateTableErr   error
	updateTablePanic bool
	setBalanceErrs   []error
	setBalanceCalls  int
	appendPaymentErr error
}

func newMemStore() *memStore {
	return &memStore{
		tenants:  map[string]*models.Tenant{},
		tables:   map[string]*models.Table{},
		balances: map[string]models.LedgerBalance{},
	}
}

func (s *memStore) addTenant(id, token, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[id] = &models.Tenant{ID: id, Name: "Tenant " + id, ProviderAccessToken: token, WebhookSecret: secret, IsActive: utils.NewTrue()}
}

func (s *memStore) addOccupiedTable(tenantId, id, number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.tables[tenantId+"/"+id] = &models.Table{
		ID:           id,
		TenantId:     tenantId,
		Number:       number,
		Status:       models.TableStatusOccupied,
		CustomerName: "Ana",
		Items:        []byte(`[{"sku":"A"}]`),
		RunningTotal: decimal.NewFromInt(1500),
		OpenedAt:     &now,
	}
}

func (s *memStore) table(tenantId, id string) models.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tables[tenantId+"/"+id]
}

func (s *memStore) GetTenant(ctx context.Context, tenantId string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetTable(ctx context.Context, tenantId, tableId string) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tenantId+"/"+tableId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) FindTableByNumber(ctx context.Context, tenantId, number string) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.TenantId == tenantId && t.Number == number {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateTable(ctx context.Context, tenantId, tableId string, patch models.TablePatch) error {
	if s.updateTablePanic {
		panic("table store exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateTableErr != nil {
		return s.updateTableErr
	}
	t, ok := s.tables[tenantId+"/"+tableId]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	patch.Apply(t)
	return nil
}

func (s *memStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TenantId == entry.TenantId && e.ExternalReference == entry.ExternalReference {
			return models.ErrLedgerEntryExists
		}
	}
	entry.ID = len(s.entries) + 1
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) FindLedgerEntry(ctx context.Context, tenantId, externalReference string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TenantId == tenantId && e.ExternalReference == externalReference {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetLedgerBalance(ctx context.Context, tenantId string) (*models.LedgerBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[tenantId]
	if !ok {
		return nil, nil
	}
	cp := b
	cp.Entries = make(map[string]models.LedgerEntrySnapshot, len(b.Entries))
	for k, v := range b.Entries {
		cp.Entries[k] = v
	}
	return &cp, nil
}

func (s *memStore) SetLedgerBalance(ctx context.Context, balance *models.LedgerBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBalanceCalls++
	if len(s.setBalanceErrs) > 0 {
		err := s.setBalanceErrs[0]
		s.setBalanceErrs = s.setBalanceErrs[1:]
		if err != nil {
			return err
		}
	}
	current, ok := s.balances[balance.TenantId]
	if (!ok && balance.Version != 0) || (ok && current.Version != balance.Version) {
		return models.ErrBalanceConflict
	}
	balance.Version++
	s.balances[balance.TenantId] = *balance
	return nil
}

func (s *memStore) AppendPaymentRecord(ctx context.Context, record *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendPaymentErr != nil {
		return s.appendPaymentErr
	}
	s.payments = append(s.payments, *record)
	return nil
}

func (s *memStore) AppendTableReleaseRecord(ctx context.Context, record *models.TableReleaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, *record)
	return nil
}

func (s *memStore) EnqueueSettlementEvent(ctx context.Context, event *models.SettlementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = len(s.events) + 1
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) balance(tenantId string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tenantId].Balance
}

func (s *memStore) counts() (entries, payments, releases, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), len(s.payments), len(s.releases), len(s.events)
}

// memIdempotency mirrors the STARTED/SUCCEEDED/FAILED rules of the gorm store.
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]models.IdempotencyStatus
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]models.IdempotencyStatus{}}
}

func idemKey(tenantId, handler, key string) string { return tenantId + "|" + handler + "|" + key }

func (m *memIdempotency) Begin(ctx context.Context, tenantId, handlerName, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(tenantId, handlerName, key)
	switch m.keys[k] {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		return false, ErrIdempotencyInProgress
	}
	m.keys[k] = models.IdempotencyStatusStarted
	return false, nil
}

func (m *memIdempotency) MarkSucceeded(ctx context.Context, tenantId, handlerName, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[idemKey(tenantId, handlerName, key)] = models.IdempotencyStatusSucceeded
	return nil
}

func (m *memIdempotency) MarkFailed(ctx context.Context, tenantId, handlerName, key string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[idemKey(tenantId, handlerName, key)] = models.IdempotencyStatusFailed
	return nil
}

func (m *memIdempotency) IsSucceeded(ctx context.Context, tenantId, handlerName, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[idemKey(tenantId, handlerName, key)] == models.IdempotencyStatusSucceeded, nil
}

// fakeProvider serves snapshots per payment id and records who asked.
type fakeProvider struct {
	token string
	net   *fakeNetwork
}

func (p *fakeProvider) GetPayment(ctx context.Context, paymentId string) (models.PaymentSnapshot, error) {
	return p.net.get(p.token, paymentId)
}

type providerCall struct {
	Token     string
	PaymentId string
}

type fakeNetwork struct {
	mu        sync.Mutex
	snapshots map[string]models.PaymentSnapshot
	errs      map[string]error
	calls     []providerCall
	factory   []string
	// afterGet runs once the snapshot has been read, outside the lock.
	afterGet func(token, paymentId string)
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{snapshots: map[string]models.PaymentSnapshot{}, errs: map[string]error{}}
}

func (n *fakeNetwork) set(snap models.PaymentSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots[snap.PaymentId] = snap
}

func (n *fakeNetwork) fail(paymentId string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs[paymentId] = err
}

func (n *fakeNetwork) get(token, paymentId string) (models.PaymentSnapshot, error) {
	n.mu.Lock()
	n.calls = append(n.calls, providerCall{Token: token, PaymentId: paymentId})
	err := n.errs[paymentId]
	snap, ok := n.snapshots[paymentId]
	hook := n.afterGet
	n.mu.Unlock()

	if hook != nil {
		hook(token, paymentId)
	}
	if err != nil {
		return models.PaymentSnapshot{}, err
	}
	if !ok {
		return models.PaymentSnapshot{}, errors.New("payment not found")
	}
	return snap, nil
}

func (n *fakeNetwork) client(token string) PaymentProvider {
	return &fakeProvider{token: token, net: n}
}

func (n *fakeNetwork) factoryFunc() ProviderFactory {
	return func(cred models.ProviderCredential) (PaymentProvider, error) {
		n.mu.Lock()
		n.factory = append(n.factory, cred.AccessToken)
		n.mu.Unlock()
		return n.client(cred.AccessToken), nil
	}
}

func (n *fakeNetwork) callsSnapshot() []providerCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]providerCall(nil), n.calls...)
}

const fallbackToken = "platform-fallback"

type harness struct {
	store *memStore
	idem  *memIdempotency
	net   *fakeNetwork
	d     *PaymentDispatcher
}

func newHarness() *harness {
	store := newMemStore()
	idem := newMemIdempotency()
	net := newFakeNetwork()
	auditor := &AuditRecorder{Audit: store, Idempotency: idem}
	d := &PaymentDispatcher{
		Resolver: &CredentialResolver{Fallback: net.client(fallbackToken), Tenants: store},
		Verifier: &StatusVerifier{NewProvider: net.factoryFunc(), Timeout: time.Second},
		Reconciler: &OrderReconciler{
			Tables:      store,
			Audit:       auditor,
			Idempotency: idem,
		},
		Poster: &LedgerPoster{
			Ledger:         store,
			Idempotency:    idem,
			Locker:         NewLocalTenantLocker(),
			MaxCASAttempts: 5,
		},
		Auditor:     auditor,
		Idempotency: idem,
		Outbox:      store,
	}
	return &harness{store: store, idem: idem, net: net, d: d}
}

func approvedSnapshot(paymentId, tenantId, ref string, amount int64) models.PaymentSnapshot {
	return models.PaymentSnapshot{
		PaymentId:         paymentId,
		Status:            models.PaymentStatusApproved,
		RawStatus:         "approved",
		StatusDetail:      "accredited",
		Amount:            decimal.NewFromInt(amount),
		PaymentMethod:     "credit_card",
		ExternalReference: ref,
		Metadata:          models.PaymentMetadata{TenantId: tenantId, Cart: []byte(`[{"sku":"A","qty":1}]`)},
		TransactionId:     "tx-" + paymentId,
	}
}

func paymentBody(id string) []byte {
	return []byte(`{"type":"payment","action":"payment.updated","data":{"id":"` + id + `"}}`)
}
