package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/notify"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/repository/memory"
	"fulfillment-engine/internal/security"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	gatewayName   = "simulated"
	webhookSecret = "whsec_test"

	itemConsole    = "ps5-001"
	itemController = "ds5-pool"
	itemTV         = "tv65-pool"
)

var (
	alice    = Caller{SubjectID: "alice"}
	bob      = Caller{SubjectID: "bob"}
	mallory  = Caller{SubjectID: "mallory"}
	operator = Caller{SubjectID: "ops-1", Privileged: true}
)

type sentNotice struct {
	SubjectID string
	Kind      notify.EventKind
	Payload   map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	// wait blocks until queued deliveries have reached Notify.
	wait func()
}

func (r *recordingNotifier) Notify(ctx context.Context, subjectID string, kind notify.EventKind, payload map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{SubjectID: subjectID, Kind: kind, Payload: payload})
	return nil
}

func (r *recordingNotifier) sentFor(txnID string, kind notify.EventKind) []sentNotice {
	if r.wait != nil {
		r.wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNotice
	for _, n := range r.sent {
		if n.Payload["transaction_id"] == txnID && n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingNotifier) kinds(txnID string) []notify.EventKind {
	if r.wait != nil {
		r.wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.EventKind
	for _, n := range r.sent {
		if n.Payload["transaction_id"] == txnID {
			out = append(out, n.Kind)
		}
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, subjectID string, kind notify.EventKind, payload map[string]string) error {
	args := m.Called(ctx, subjectID, kind, payload)
	return args.Error(0)
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	gateway    *payment.SimulatedGateway
	ledger     *inventoryLedger
	engine     *transactionService
	reconciler *paymentReconciler
	notes      *recordingNotifier
	skew       time.Duration
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, notifier notify.Notifier) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		store:   memory.NewStore(),
		gateway: payment.NewSimulatedGateway(gatewayName, webhookSecret),
		notes:   &recordingNotifier{},
	}
	if notifier == nil {
		notifier = f.notes
	}
	clock := func() time.Time { return time.Now().UTC().Add(f.skew) }
	f.ledger = newInventoryLedger(f.store, clock)
	f.engine = newTransactionService(f.store, f.ledger, payment.NewRegistry(f.gateway), notifier,
		security.NewFingerprintHasher("fp-key"), EngineConfig{Currency: "INR", Clock: clock})
	f.reconciler = newPaymentReconciler(f.engine)
	f.notes.wait = f.engine.waitNotifications
	f.seed(t)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	inv := f.store.Inventory()
	for _, item := range []domain.InventoryItem{
		{ID: itemConsole, Kind: domain.ItemKindUnit, SKU: "PS5", Category: "console", Serial: "SN-001", TotalCount: 1, AvailableCount: 1},
		{ID: itemController, Kind: domain.ItemKindSKU, SKU: "DS5", Category: "accessory", TotalCount: 10, AvailableCount: 10},
		{ID: itemTV, Kind: domain.ItemKindSKU, SKU: "TV65", Category: "display", TotalCount: 2, AvailableCount: 2},
	} {
		item := item
		item.Status = domain.ItemStatusAvailable
		require.NoError(t, inv.CreateItem(f.ctx, &item))
	}

	rates := f.store.Rates()
	require.NoError(t, rates.Upsert(f.ctx, &domain.RateCard{
		SKU: "PS5", Category: "console", DurationUnit: domain.DurationUnitDay,
		Daily: 200000, Weekly: 1000000, Monthly: 3000000, UnitPrice: 5500000, Active: true,
	}))
	require.NoError(t, rates.Upsert(f.ctx, &domain.RateCard{
		SKU: "DS5", Category: "accessory", DurationUnit: domain.DurationUnitDay,
		Daily: 20000, Weekly: 100000, Monthly: 300000, UnitPrice: 500000, Active: true,
	}))
	require.NoError(t, rates.Upsert(f.ctx, &domain.RateCard{
		SKU: "TV65", Category: "display", DurationUnit: domain.DurationUnitWeek,
		Weekly: 800000, Monthly: 2500000, UnitPrice: 6000000, Active: true,
	}))

	now := time.Now().UTC()
	customers := f.store.Customers()
	require.NoError(t, customers.UpsertProfile(f.ctx, &domain.CustomerProfile{
		SubjectID: "alice", CreatedAt: now.AddDate(0, 0, -30), Verified: true,
	}))
	require.NoError(t, customers.UpsertProfile(f.ctx, &domain.CustomerProfile{
		SubjectID: "bob", CreatedAt: now.AddDate(0, 0, -2), Verified: true,
	}))
	require.NoError(t, customers.UpsertProfile(f.ctx, &domain.CustomerProfile{
		SubjectID: "mallory", CreatedAt: now.AddDate(-1, 0, 0), Blacklisted: true,
	}))
}

func day(offset int) *time.Time {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	return &d
}

// rent books itemConsole for four days, which prices at 800000.
func (f *fixture) rent(t *testing.T, subject Caller, itemID string, qty int32) *domain.Transaction {
	t.Helper()
	txn, err := f.engine.CreateTransaction(f.ctx, CreateRequest{
		Kind:      domain.TransactionKindRental,
		SubjectID: subject.SubjectID,
		Items:     []ItemRequest{{ItemID: itemID, Quantity: qty}},
		StartDate: day(0),
		EndDate:   day(4),
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) buy(t *testing.T, subject Caller, itemID string, qty int32) *domain.Transaction {
	t.Helper()
	txn, err := f.engine.CreateTransaction(f.ctx, CreateRequest{
		Kind:      domain.TransactionKindSale,
		SubjectID: subject.SubjectID,
		Items:     []ItemRequest{{ItemID: itemID, Quantity: qty}},
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) event(typ domain.PaymentEventType, providerTxnID, txnID string, amount int64) *payment.WebhookEvent {
	ev := &payment.WebhookEvent{
		Gateway:       gatewayName,
		EventType:     typ,
		ProviderTxnID: providerTxnID,
		TransactionID: txnID,
		Amount:        amount,
	}
	ev.Signature = f.gateway.Sign(ev)
	return ev
}

// pay opens a payment intent as the owner and delivers the matching success webhook.
func (f *fixture) pay(t *testing.T, owner Caller, txn *domain.Transaction) *domain.Transaction {
	t.Helper()
	_, err := f.engine.CreatePaymentIntent(f.ctx, owner, txn.ID)
	require.NoError(t, err)
	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_"+txn.ID, txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)
	return f.reload(t, txn.ID)
}

func (f *fixture) advance(t *testing.T, txnID string, targets ...domain.Status) *domain.Transaction {
	t.Helper()
	var out *domain.Transaction
	for _, target := range targets {
		var err error
		out, err = f.engine.Advance(f.ctx, operator, txnID, target)
		require.NoError(t, err, "advance to %s", target)
	}
	return out
}

func (f *fixture) reload(t *testing.T, txnID string) *domain.Transaction {
	t.Helper()
	txn, err := f.store.Transactions().GetByID(f.ctx, txnID)
	require.NoError(t, err)
	return txn
}

func (f *fixture) item(t *testing.T, id string) *domain.InventoryItem {
	t.Helper()
	item, err := f.store.Inventory().GetItem(f.ctx, id)
	require.NoError(t, err)
	return item
}

func (f *fixture) auditCodes(t *testing.T, txnID string) []string {
	t.Helper()
	entries, err := f.store.Transactions().ListAudit(f.ctx, txnID)
	require.NoError(t, err)
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		codes = append(codes, e.Code)
	}
	return codes
}

func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	bad, err := f.ledger.Unbalanced(f.ctx)
	require.NoError(t, err)
	require.Empty(t, bad)
}

var toActive = []domain.Status{domain.StatusAssigned, domain.StatusOutForDelivery, domain.StatusActive}
