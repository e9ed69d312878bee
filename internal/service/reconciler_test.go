package service

import (
	"errors"
	"sync"
	"testing"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvent_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	ev := f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount)
	ev.Amount = 1
	outcome, err := f.reconciler.RecordEvent(f.ctx, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, outcome)

	ev = f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount)
	ev.Signature = "not-hex"
	_, err = f.reconciler.RecordEvent(f.ctx, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.store.Payments().GetByProviderTxnID(f.ctx, gatewayName, "pay_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.StatusPending, f.reload(t, txn.ID).Status)
}

func TestRecordEvent_Validation(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	ev := f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount)
	ev.Gateway = "other"
	_, err := f.reconciler.RecordEvent(f.ctx, ev)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.reconciler.RecordEvent(f.ctx, f.event("payment.disputed", "pay_1", txn.ID, txn.TotalAmount))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "", txn.ID, txn.TotalAmount))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_1", "missing", 100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.Payments().GetByProviderTxnID(f.ctx, gatewayName, "pay_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordEvent_AmountMismatchRecordsNothing(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	_, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount-1))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.PaymentStatusPending, f.reload(t, txn.ID).PaymentStatus)

	// The rejected delivery left no trace, so the corrected one is accepted.
	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
}

func TestRecordEvent_SuccessFromPendingWalksEveryState(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, []string{
		domain.AuditCodeTransition, // created
		domain.AuditCodePayment,
		domain.AuditCodeTransition, // payment processing
		domain.AuditCodeTransition, // payment success
		domain.AuditCodeRisk,
		domain.AuditCodeTransition, // approved
	}, f.auditCodes(t, txn.ID))
	assert.Equal(t, []notify.EventKind{
		notify.EventCreated, notify.EventPaymentStarted, notify.EventPaid, notify.EventApproved,
	}, f.notes.kinds(txn.ID))
}

func TestRecordEvent_ReplayIsDuplicate(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	version := txn.Version

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_"+txn.ID, txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, version, f.reload(t, txn.ID).Version)

	events, err := f.store.Payments().ListByTransaction(f.ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.True(t, events[0].SignatureVerified)
}

func TestRecordEvent_ConcurrentReplayAcceptedOnce(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)
	_, err := f.engine.CreatePaymentIntent(f.ctx, alice, txn.ID)
	require.NoError(t, err)

	const deliveries = 25
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_x", txn.ID, txn.TotalAmount))
			if err == nil {
				outcomes <- outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeAccepted])
	assert.Equal(t, deliveries-1, counts[OutcomeDuplicate])

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusApproved, got.Status)
	var risk int
	for _, code := range f.auditCodes(t, txn.ID) {
		if code == domain.AuditCodeRisk {
			risk++
		}
	}
	assert.Equal(t, 1, risk)
}

func TestRecordEvent_FailureCancels(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)
	_, err := f.engine.CreatePaymentIntent(f.ctx, alice, txn.ID)
	require.NoError(t, err)

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventFailed, "fail_1", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)
	assert.Equal(t, domain.CancelReasonPaymentFailed, got.CancelReason)
	assert.False(t, got.RefundRequired)
}

func TestRecordEvent_FailureAfterSuccessIgnored(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventFailed, "fail_late", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, got.PaymentStatus)
}

func TestRecordEvent_LateSuccessOnCancelledFlagsRefund(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)
	_, err := f.engine.Cancel(f.ctx, alice, txn.ID, "too slow")
	require.NoError(t, err)

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventSucceeded, "pay_late", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, got.PaymentStatus)
	assert.True(t, got.RefundRequired)
	assert.Equal(t, "pay_late", got.ProviderTxnID)
	assert.Contains(t, f.notes.kinds(txn.ID), notify.EventRefundRequired)
}

func TestRecordEvent_RefundProcessedSettles(t *testing.T) {
	f := newFixture(t)
	txn := f.pay(t, alice, f.rent(t, alice, itemConsole, 1))
	_, err := f.engine.Cancel(f.ctx, alice, txn.ID, "")
	require.NoError(t, err)
	require.True(t, f.reload(t, txn.ID).RefundRequired)

	outcome, err := f.reconciler.RecordEvent(f.ctx, f.event(domain.PaymentEventRefunded, "re_1", txn.ID, txn.TotalAmount))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	got := f.reload(t, txn.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	assert.False(t, got.RefundRequired)
}

func TestRecordEvent_TransientFailureCanBeRetried(t *testing.T) {
	f := newFixture(t)
	txn := f.rent(t, alice, itemConsole, 1)
	ev := f.event(domain.PaymentEventSucceeded, "pay_1", txn.ID, txn.TotalAmount)

	f.store.FailCommits(errors.New("i/o timeout"))
	_, err := f.reconciler.RecordEvent(f.ctx, ev)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, domain.StatusPending, f.reload(t, txn.ID).Status)

	outcome, err := f.reconciler.RecordEvent(f.ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, domain.StatusApproved, f.reload(t, txn.ID).Status)
}
