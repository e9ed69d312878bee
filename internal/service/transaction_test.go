package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction_PricesFromRateCards(t *testing.T) {
	f := newFixture(t)

	txn := f.rent(t, alice, itemConsole, 1)
	assert.Equal(t, domain.StatusPending, txn.Status)
	assert.Equal(t, domain.PaymentStatusPending, txn.PaymentStatus)
	assert.Equal(t, int32(4), txn.RentalDays)
	assert.Equal(t, int64(800000), txn.BaseAmount)
	assert.Equal(t, int64(800000), txn.TotalAmount)
	require.Len(t, txn.Items, 1)
	assert.Equal(t, "PS5", txn.Items[0].SKU)
	assert.Equal(t, int64(200000*4), txn.Items[0].UnitPrice)

	sale := f.buy(t, alice, itemController, 2)
	assert.Nil(t, sale.StartDate)
	assert.Equal(t, int64(1000000), sale.TotalAmount)
	assert.Equal(t, "CREATED", sale.DisplayStatus())

	assert.Equal(t, []string{domain.AuditCodeTransition}, f.auditCodes(t, txn.ID))
	assert.Equal(t, []notify.EventKind{notify.EventCreated}, f.notes.kinds(txn.ID))

	// Creating a transaction does not touch stock.
	item := f.item(t, itemConsole)
	assert.Equal(t, int32(1), item.AvailableCount)
}

func TestCreateTransaction_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"no items", CreateRequest{Kind: domain.TransactionKindSale, SubjectID: "alice"}, domain.ErrValidation},
		{"zero quantity", CreateRequest{Kind: domain.TransactionKindSale, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemController, Quantity: 0}}}, domain.ErrValidation},
		{"duplicate item", CreateRequest{Kind: domain.TransactionKindSale, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemController, Quantity: 1}, {ItemID: itemController, Quantity: 1}}}, domain.ErrValidation},
		{"unknown item", CreateRequest{Kind: domain.TransactionKindSale, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: "nope", Quantity: 1}}}, domain.ErrValidation},
		{"unknown kind", CreateRequest{Kind: "LEASE", SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemController, Quantity: 1}}}, domain.ErrValidation},
		{"rental without dates", CreateRequest{Kind: domain.TransactionKindRental, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemController, Quantity: 1}}}, domain.ErrValidation},
		{"end before start", CreateRequest{Kind: domain.TransactionKindRental, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemController, Quantity: 1}}, StartDate: day(3), EndDate: day(1)}, domain.ErrValidation},
		{"missing subject", CreateRequest{Kind: domain.TransactionKindSale,
			Items: []ItemRequest{{ItemID: itemController, Quantity: 1}}}, domain.ErrValidation},
		{"more than stocked", CreateRequest{Kind: domain.TransactionKindSale, SubjectID: "alice",
			Items: []ItemRequest{{ItemID: itemConsole, Quantity: 2}}}, domain.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := f.engine.CreateTransaction(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, txn)
		})
	}

	txns, total, err := f.engine.ListTransactions(f.ctx, alice, "", "", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, txns)
}

func TestRental_AutoApprovedThroughCompletion(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	txn = f.pay(t, alice, txn)
	assert.Equal(t, domain.StatusApproved, txn.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, txn.PaymentStatus)
	assert.Equal(t, int32(0), txn.RiskScore)
	assert.Equal(t, "APPROVE", txn.RiskDecision)
	assert.Equal(t, int32(1), txn.PolicyVersion)
	assert.Equal(t, "pay_"+txn.ID, txn.ProviderTxnID)

	txn = f.advance(t, txn.ID, toActive...)
	assert.Equal(t, domain.StatusActive, txn.Status)
	assert.True(t, txn.StockHeld)
	item := f.item(t, itemConsole)
	assert.Equal(t, int32(0), item.AvailableCount)
	assert.Equal(t, int32(1), item.DeductedCount)
	assert.Equal(t, domain.ItemStatusDepleted, item.Status)

	txn, err := f.engine.Advance(f.ctx, alice, txn.ID, domain.StatusReturnRequested)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturnRequested, txn.Status)

	txn = f.advance(t, txn.ID, domain.StatusInspectionPending, domain.StatusRefundProcessing, domain.StatusCompleted)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.False(t, txn.StockHeld)
	assert.False(t, txn.RefundRequired)

	item = f.item(t, itemConsole)
	assert.Equal(t, int32(1), item.AvailableCount)
	assert.Equal(t, int32(0), item.DeductedCount)
	assert.Equal(t, domain.ItemStatusAvailable, item.Status)
	f.requireBalanced(t)

	var ops []domain.StockOperation
	for _, m := range f.store.Movements() {
		ops = append(ops, m.Operation)
	}
	assert.Equal(t, []domain.StockOperation{domain.StockOpReserve, domain.StockOpCommit, domain.StockOpRestore}, ops)

	history, err := f.engine.History(f.ctx, txn.ID)
	require.NoError(t, err)
	var path []domain.Status
	for _, e := range history {
		if e.Code == domain.AuditCodeTransition {
			path = append(path, e.ToStatus)
		}
	}
	assert.Equal(t, []domain.Status{
		domain.StatusPending, domain.StatusPaymentProcessing, domain.StatusPaymentSuccess, domain.StatusApproved,
		domain.StatusAssigned, domain.StatusOutForDelivery, domain.StatusActive, domain.StatusReturnRequested,
		domain.StatusInspectionPending, domain.StatusRefundProcessing, domain.StatusCompleted,
	}, path)
}

func TestSale_CompletedKeepsDeduction(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.buy(t, alice, itemController, 2))
	require.Equal(t, domain.StatusApproved, txn.Status)
	assert.Equal(t, "CONFIRMED", txn.DisplayStatus())

	txn = f.advance(t, txn.ID, toActive...)
	assert.Equal(t, "DELIVERED", txn.DisplayStatus())

	_, err := f.engine.Advance(f.ctx, alice, txn.ID, domain.StatusReturnRequested)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	txn = f.advance(t, txn.ID, domain.StatusCompleted)
	assert.False(t, txn.StockHeld)
	item := f.item(t, itemController)
	assert.Equal(t, int32(8), item.AvailableCount)
	assert.Equal(t, int32(2), item.DeductedCount)
	assert.Equal(t, int32(10), item.TotalCount)
	f.requireBalanced(t)
}

func TestPayment_NewAccountHighValueGoesToReview(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, bob, f.buy(t, bob, itemTV, 1))

	assert.Equal(t, domain.StatusUnderReview, txn.Status)
	assert.Equal(t, int32(35), txn.RiskScore)
	assert.Equal(t, []string{"amount_over_limit", "new_account"}, txn.RiskFactors)
	assert.Contains(t, f.notes.kinds(txn.ID), notify.EventUnderReview)

	view, err := f.engine.GetStatus(f.ctx, bob, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, view.Status)
	require.NotNil(t, view.RiskScore)
	assert.Equal(t, int32(35), *view.RiskScore)
	assert.Empty(t, view.RiskFactors)

	view, err = f.engine.GetStatus(f.ctx, operator, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount_over_limit", "new_account"}, view.RiskFactors)

	_, err = f.engine.Advance(f.ctx, operator, txn.ID, domain.StatusAssigned)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	txn, err = f.engine.Review(f.ctx, "ops-1", txn.ID, true, "called the customer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, txn.Status)

	_, err = f.engine.Review(f.ctx, "ops-1", txn.ID, true, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReview_RejectFlagsRefund(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, bob, f.buy(t, bob, itemTV, 1))
	require.Equal(t, domain.StatusUnderReview, txn.Status)

	txn, err := f.engine.Review(f.ctx, "ops-1", txn.ID, false, "fraud pattern")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, txn.Status)
	assert.Equal(t, domain.CancelReasonReviewRejected, txn.CancelReason)
	assert.True(t, txn.RefundRequired)
}

func TestPayment_BlacklistedRejectedAndRefunded(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, mallory, f.rent(t, mallory, itemController, 1))

	assert.Equal(t, domain.StatusCancelled, txn.Status)
	assert.Equal(t, domain.CancelReasonRiskRejected, txn.CancelReason)
	assert.Equal(t, int32(100), txn.RiskScore)
	assert.True(t, txn.RefundRequired)
	assert.Contains(t, f.notes.kinds(txn.ID), notify.EventRefundRequired)

	due, err := f.engine.ListRefundDue(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, txn.ID, due[0].ID)

	txn, err = f.engine.MarkRefunded(f.ctx, txn.ID, "re_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, txn.PaymentStatus)
	assert.False(t, txn.RefundRequired)

	// Already settled: nothing changes.
	again, err := f.engine.MarkRefunded(f.ctx, txn.ID, "re_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, again.PaymentStatus)

	due, err = f.engine.ListRefundDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Equal(t, int32(10), f.item(t, itemController).AvailableCount)
}

func TestAdvance_RefusedTransitionIsAuditedAndChangesNothing(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	_, err := f.engine.Advance(f.ctx, operator, txn.ID, domain.StatusAssigned)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusPending, after.Status)
	assert.Equal(t, txn.Version, after.Version)
	assert.Equal(t, []string{domain.AuditCodeTransition, string(domain.CodeInvalidTransition)}, f.auditCodes(t, txn.ID))

	_, err = f.engine.Advance(f.ctx, operator, txn.ID, domain.StatusPaymentSuccess)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdvance_ActiveRequiresSuccessfulPayment(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	stuck := &domain.Transaction{
		ID:            "txn-unpaid",
		Kind:          domain.TransactionKindRental,
		SubjectID:     "alice",
		Items:         []domain.LineItem{{ItemID: itemConsole, SKU: "PS5", Quantity: 1}},
		Status:        domain.StatusOutForDelivery,
		PaymentStatus: domain.PaymentStatusPending,
		RiskFactors:   []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.Transactions().Create(f.ctx, stuck))

	_, err := f.engine.Advance(f.ctx, operator, stuck.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusOutForDelivery, f.reload(t, stuck.ID).Status)
	assert.Equal(t, int32(1), f.item(t, itemConsole).AvailableCount)
	assert.Empty(t, f.store.Movements())
}

func TestAdvance_CustomerPermissions(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))

	_, err := f.engine.Advance(f.ctx, alice, txn.ID, domain.StatusAssigned)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.advance(t, txn.ID, toActive...)

	_, err = f.engine.Advance(f.ctx, bob, txn.ID, domain.StatusReturnRequested)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.GetStatus(f.ctx, bob, txn.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdvance_OutOfStockCancelsSecondActivation(t *testing.T) {
	f := newFixture(t)
	first := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	second := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	require.Equal(t, domain.StatusApproved, second.Status)

	f.advance(t, first.ID, toActive...)
	f.advance(t, second.ID, domain.StatusAssigned, domain.StatusOutForDelivery)

	_, err := f.engine.Advance(f.ctx, operator, second.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	second = f.reload(t, second.ID)
	assert.Equal(t, domain.StatusCancelled, second.Status)
	assert.Equal(t, domain.CancelReasonOutOfStock, second.CancelReason)
	assert.True(t, second.RefundRequired)
	assert.False(t, second.StockHeld)
	assert.Contains(t, f.auditCodes(t, second.ID), string(domain.CodeInsufficientStock))
	assert.Contains(t, f.notes.kinds(second.ID), notify.EventOutOfStock)

	item := f.item(t, itemConsole)
	assert.Equal(t, int32(0), item.AvailableCount)
	assert.Equal(t, int32(0), item.ReservedCount)
	assert.Equal(t, int32(1), item.DeductedCount)
	f.requireBalanced(t)
}

func TestCreateTransaction_AcceptedWhileUnitIsRentedOut(t *testing.T) {
	f := newFixture(t)
	first := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	f.advance(t, first.ID, toActive...)
	require.Equal(t, int32(0), f.item(t, itemConsole).AvailableCount)

	later := f.pay(t, bob, f.rent(t, bob, itemConsole, 1))
	assert.Equal(t, domain.StatusApproved, later.Status)
	f.advance(t, later.ID, domain.StatusAssigned, domain.StatusOutForDelivery)

	_, err := f.engine.Advance(f.ctx, operator, later.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	later = f.reload(t, later.ID)
	assert.Equal(t, domain.StatusCancelled, later.Status)
	assert.Equal(t, domain.CancelReasonOutOfStock, later.CancelReason)
	assert.True(t, later.RefundRequired)
	f.requireBalanced(t)
}

func TestAdvance_MultiItemShortfallRollsBackEveryLine(t *testing.T) {
	f := newFixture(t)
	blocker := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))

	txn, err := f.engine.CreateTransaction(f.ctx, CreateRequest{
		Kind:      domain.TransactionKindRental,
		SubjectID: "alice",
		Items:     []ItemRequest{{ItemID: itemController, Quantity: 2}, {ItemID: itemConsole, Quantity: 1}},
		StartDate: day(0),
		EndDate:   day(2),
	})
	require.NoError(t, err)
	f.pay(t, alice, txn)

	f.advance(t, blocker.ID, toActive...)
	f.advance(t, txn.ID, domain.StatusAssigned, domain.StatusOutForDelivery)

	_, err = f.engine.Advance(f.ctx, operator, txn.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	controllers := f.item(t, itemController)
	assert.Equal(t, int32(10), controllers.AvailableCount)
	assert.Equal(t, int32(0), controllers.ReservedCount)
	assert.Equal(t, int32(0), controllers.DeductedCount)
	f.requireBalanced(t)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	t.Run("customer before activation", func(t *testing.T) {
		txn := f.pay(t, alice, f.rent(t, alice, itemController, 1))
		out, err := f.engine.Cancel(f.ctx, alice, txn.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, out.Status)
		assert.Equal(t, domain.CancelReasonSubject, out.CancelReason)
		assert.True(t, out.RefundRequired)

		_, err = f.engine.Cancel(f.ctx, operator, txn.ID, "twice")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("customer after activation", func(t *testing.T) {
		txn := f.pay(t, alice, f.rent(t, alice, itemController, 3))
		f.advance(t, txn.ID, toActive...)
		_, err := f.engine.Cancel(f.ctx, alice, txn.ID, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Contains(t, f.auditCodes(t, txn.ID), string(domain.CodeForbidden))

		out, err := f.engine.Cancel(f.ctx, operator, txn.ID, "damaged on arrival")
		require.NoError(t, err)
		assert.Equal(t, domain.CancelReasonOperator, out.CancelReason)
		assert.False(t, out.StockHeld)
		assert.Equal(t, int32(10), f.item(t, itemController).AvailableCount)
		f.requireBalanced(t)
	})

	t.Run("unpaid cancellation owes nothing", func(t *testing.T) {
		txn := f.rent(t, alice, itemController, 1)
		out, err := f.engine.Cancel(f.ctx, alice, txn.ID, "")
		require.NoError(t, err)
		assert.False(t, out.RefundRequired)
	})

	t.Run("someone else's transaction", func(t *testing.T) {
		txn := f.rent(t, alice, itemController, 1)
		_, err := f.engine.Cancel(f.ctx, bob, txn.ID, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	_, err := f.engine.CreatePaymentIntent(f.ctx, bob, txn.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	intent, err := f.engine.CreatePaymentIntent(f.ctx, alice, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.TotalAmount, intent.Amount)
	assert.Equal(t, "INR", intent.Currency)

	after := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusPaymentProcessing, after.Status)
	assert.Equal(t, intent.ID, after.PaymentIntentID)

	_, err = f.engine.CreatePaymentIntent(f.ctx, alice, txn.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelStale(t *testing.T) {
	f := newFixture(t)
	stale := f.rent(t, alice, itemConsole, 1)
	_, err := f.engine.CreatePaymentIntent(f.ctx, alice, stale.ID)
	require.NoError(t, err)
	untouched := f.rent(t, alice, itemController, 1)

	n, err := f.engine.CancelStale(f.ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.skew = 31 * time.Minute
	n, err = f.engine.CancelStale(f.ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, stale.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonPaymentTimeout, got.CancelReason)
	assert.Equal(t, domain.StatusPending, f.reload(t, untouched.ID).Status)

	n, err = f.engine.CancelStale(f.ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransientCommitFailureLeavesNoEffect(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	f.advance(t, txn.ID, domain.StatusAssigned, domain.StatusOutForDelivery)
	before := f.reload(t, txn.ID)

	f.store.FailCommits(errors.New("connection reset by peer"))
	_, err := f.engine.Advance(f.ctx, operator, txn.ID, domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrTransientStore)

	after := f.reload(t, txn.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, int32(1), f.item(t, itemConsole).AvailableCount)
	assert.Empty(t, f.store.Movements())

	f.advance(t, txn.ID, domain.StatusActive)
	assert.Equal(t, int32(0), f.item(t, itemConsole).AvailableCount)
}

func TestReevaluateRisk(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, bob, f.buy(t, bob, itemTV, 1))
	require.Equal(t, domain.StatusUnderReview, txn.Status)

	// Still a new account: score is recomputed and the transaction stays put.
	out, err := f.engine.ReevaluateRisk(f.ctx, "ops-1", txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, out.Status)
	assert.Equal(t, int32(35), out.RiskScore)

	relaxed := domain.DefaultRiskPolicy()
	relaxed.Version = 2
	relaxed.NewAccountDays = 1
	require.NoError(t, f.store.Policies().Save(f.ctx, &relaxed))

	out, err = f.engine.ReevaluateRisk(f.ctx, "ops-1", txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, out.Status)
	assert.Equal(t, int32(20), out.RiskScore)
	assert.Equal(t, int32(2), out.PolicyVersion)
	assert.Equal(t, []string{"amount_over_limit"}, out.RiskFactors)

	_, err = f.engine.ReevaluateRisk(f.ctx, "ops-1", txn.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRiskUsesStoredPolicy(t *testing.T) {
	f := newFixture(t)
	p := domain.DefaultRiskPolicy()
	p.Version = 2
	p.AutoApproveEnabled = false
	require.NoError(t, f.store.Policies().Save(f.ctx, &p))

	txn := f.pay(t, alice, f.rent(t, alice, itemController, 1))
	assert.Equal(t, domain.StatusUnderReview, txn.Status)
	assert.Equal(t, int32(2), txn.PolicyVersion)
	assert.Equal(t, []string{"auto_approve_disabled"}, txn.RiskFactors)
}

func TestUnknownSubjectIsReviewed(t *testing.T) {
	f := newFixture(t)
	stranger := Caller{SubjectID: "stranger"}
	txn := f.pay(t, stranger, f.rent(t, stranger, itemController, 1))
	assert.Equal(t, domain.StatusUnderReview, txn.Status)
	assert.Equal(t, []string{"unknown_subject"}, txn.RiskFactors)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.rent(t, alice, itemController, 1)
	}
	f.rent(t, bob, itemController, 1)

	txns, total, err := f.engine.ListTransactions(f.ctx, alice, "", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	assert.Len(t, txns, 3)

	// Customers only ever see their own.
	_, total, err = f.engine.ListTransactions(f.ctx, alice, "bob", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)

	txns, total, err = f.engine.ListTransactions(f.ctx, operator, "bob", domain.StatusPending, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, int32(1), total)
	assert.Equal(t, "bob", txns[0].SubjectID)

	_, _, err = f.engine.ListTransactions(f.ctx, alice, "", "SHIPPED", 1, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, "alice", mock.Anything, mock.Anything).Return(errors.New("push gateway down"))
	f := newFixtureWith(t, notifier)

	txn := f.rent(t, alice, itemConsole, 1)
	out := f.pay(t, alice, txn)
	assert.Equal(t, domain.StatusApproved, out.Status)

	f.engine.waitNotifications()
	notifier.AssertCalled(t, "Notify", mock.Anything, "alice", notify.EventApproved, mock.Anything)
}

type stallingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	errs    []error
}

func (n *stallingNotifier) Notify(ctx context.Context, subjectID string, kind notify.EventKind, payload map[string]string) error {
	var err error
	select {
	case <-n.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
	return err
}

func TestNotificationsRunOffTheRequestPath(t *testing.T) {
	notifier := &stallingNotifier{release: make(chan struct{})}
	f := newFixtureWith(t, notifier)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.CreateTransaction(f.ctx, CreateRequest{
			Kind:      domain.TransactionKindSale,
			SubjectID: alice.SubjectID,
			Items:     []ItemRequest{{ItemID: itemController, Quantity: 1}},
		})
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CreateTransaction waited for the notifier")
	}

	close(notifier.release)
	f.engine.waitNotifications()
	require.Len(t, notifier.errs, 1)
	assert.NoError(t, notifier.errs[0])
}

func TestNotificationsGiveUpAfterTimeout(t *testing.T) {
	notifier := &stallingNotifier{release: make(chan struct{})}
	f := newFixtureWith(t, notifier)
	f.engine.cfg.NotifyTimeout = 20 * time.Millisecond

	f.rent(t, alice, itemConsole, 1)
	f.engine.waitNotifications()

	require.Len(t, notifier.errs, 1)
	assert.ErrorIs(t, notifier.errs[0], context.DeadlineExceeded)
}

func TestCancelRefundNoticeCarriesCancelledStatus(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))

	_, err := f.engine.Cancel(f.ctx, operator, txn.ID, "customer called")
	require.NoError(t, err)

	sent := f.notes.sentFor(txn.ID, notify.EventRefundRequired)
	require.Len(t, sent, 1)
	assert.Equal(t, string(domain.StatusCancelled), sent[0].Payload["status"])
	assert.Equal(t, "CANCELLED", sent[0].Payload["display_status"])
}
