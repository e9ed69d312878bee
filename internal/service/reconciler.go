package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/notify"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/repository"
	"fulfillment-engine/internal/security"

	"github.com/google/uuid"
)

type paymentReconciler struct {
	engine *transactionService
	log    *slog.Logger
}

// NewEngine wires the transaction engine and the payment reconciler that
// drives it from gateway webhooks.
func NewEngine(
	store repository.Store,
	ledger InventoryLedger,
	gateways *payment.Registry,
	notifier notify.Notifier,
	hasher *security.FingerprintHasher,
	cfg EngineConfig,
) (TransactionService, PaymentReconciler) {
	engine := newTransactionService(store, ledger, gateways, notifier, hasher, cfg)
	return engine, newPaymentReconciler(engine)
}

func newPaymentReconciler(engine *transactionService) *paymentReconciler {
	return &paymentReconciler{engine: engine, log: logger.WithService("payment_reconciler")}
}

// RecordEvent applies a verified gateway event exactly once. Replays of the
// same (gateway, provider_txn_id) report DUPLICATE and change nothing.
func (r *paymentReconciler) RecordEvent(ctx context.Context, ev *payment.WebhookEvent) (Outcome, error) {
	logger.EnterMethod("paymentReconciler.RecordEvent", "gateway", ev.Gateway, "event_type", ev.EventType,
		"provider_txn_id", ev.ProviderTxnID)

	gw, ok := r.engine.gateways.Get(ev.Gateway)
	if !ok {
		return "", domain.Validationf("unknown gateway %s", ev.Gateway)
	}
	if !gw.VerifyWebhookSignature(ev) {
		r.log.Warn("Rejected webhook with bad signature", "gateway", ev.Gateway, "provider_txn_id", ev.ProviderTxnID,
			"transaction_id", ev.TransactionID)
		return "", &domain.Error{Code: domain.CodeInvalidSignature, Message: "webhook signature does not verify"}
	}
	if err := validateEvent(ev); err != nil {
		return "", err
	}

	record := &domain.PaymentEvent{
		ID:                uuid.NewString(),
		Gateway:           ev.Gateway,
		ProviderTxnID:     ev.ProviderTxnID,
		EventType:         ev.EventType,
		TransactionID:     ev.TransactionID,
		Amount:            ev.Amount,
		SignatureVerified: true,
		Payload:           eventPayload(ev),
		ReceivedAt:        r.engine.now(),
	}

	var n notices
	outcome := OutcomeAccepted
	err := r.engine.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n = nil
		outcome = OutcomeAccepted
		inserted, err := tx.Payments().Insert(ctx, record)
		if err != nil {
			return fmt.Errorf("failed to record payment event: %w", err)
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}
		t, err := tx.Transactions().GetForUpdate(ctx, ev.TransactionID)
		if err != nil {
			return err
		}
		if err := r.apply(ctx, tx, t, ev, &n); err != nil {
			return err
		}
		return tx.Transactions().Update(ctx, t)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentReconciler.RecordEvent", err, "provider_txn_id", ev.ProviderTxnID)
		return "", err
	}

	r.engine.deliver(ctx, n)
	logger.Audit(ctx, "payment_event",
		"gateway", ev.Gateway,
		"event_type", string(ev.EventType),
		"provider_txn_id", ev.ProviderTxnID,
		"transaction_id", ev.TransactionID,
		"outcome", string(outcome),
	)
	logger.ExitMethod("paymentReconciler.RecordEvent", "outcome", outcome)
	return outcome, nil
}

func validateEvent(ev *payment.WebhookEvent) error {
	if !ev.EventType.Valid() {
		return domain.Validationf("unsupported event type %q", ev.EventType)
	}
	if ev.ProviderTxnID == "" {
		return domain.Validationf("provider_txn_id is required")
	}
	if ev.TransactionID == "" {
		return domain.Validationf("transaction_id is required")
	}
	if ev.Amount <= 0 {
		return domain.Validationf("amount must be positive")
	}
	return nil
}

func eventPayload(ev *payment.WebhookEvent) json.RawMessage {
	if len(ev.Raw) > 0 && json.Valid(ev.Raw) {
		return json.RawMessage(ev.Raw)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func (r *paymentReconciler) apply(ctx context.Context, tx repository.Tx, t *domain.Transaction, ev *payment.WebhookEvent, n *notices) error {
	e := r.engine
	note := fmt.Sprintf("%s %s via %s", ev.EventType, ev.ProviderTxnID, ev.Gateway)
	if err := e.audit(ctx, tx, t, t.Status, t.Status, domain.AuditCodePayment, ev.Gateway, note); err != nil {
		return err
	}

	switch ev.EventType {
	case domain.PaymentEventSucceeded:
		if ev.Amount != t.TotalAmount {
			return domain.Validationf("amount %d does not match transaction total %d", ev.Amount, t.TotalAmount)
		}
		if t.PaymentStatus == domain.PaymentStatusSuccess || t.PaymentStatus == domain.PaymentStatusRefunded {
			return nil
		}
		t.PaymentStatus = domain.PaymentStatusSuccess
		t.ProviderTxnID = ev.ProviderTxnID

		if t.Status.IsTerminal() {
			// Paid after the transaction was closed: the money goes back.
			t.RefundRequired = true
			n.add(t, notify.EventRefundRequired)
			return nil
		}
		if t.Status == domain.StatusPending {
			if err := e.transition(ctx, tx, t, domain.StatusPaymentProcessing, ev.Gateway, note, n); err != nil {
				return err
			}
		}
		if t.Status != domain.StatusPaymentProcessing {
			return nil
		}
		if err := e.transition(ctx, tx, t, domain.StatusPaymentSuccess, ev.Gateway, note, n); err != nil {
			return err
		}
		return e.decide(ctx, tx, t, "risk_engine", n)

	case domain.PaymentEventFailed:
		if t.PaymentStatus == domain.PaymentStatusSuccess || t.PaymentStatus == domain.PaymentStatusRefunded {
			r.log.Warn("Ignoring failure for a paid transaction", "transaction_id", t.ID, "provider_txn_id", ev.ProviderTxnID)
			return nil
		}
		t.PaymentStatus = domain.PaymentStatusFailed
		if t.Status.IsTerminal() {
			return nil
		}
		t.CancelReason = domain.CancelReasonPaymentFailed
		return e.transition(ctx, tx, t, domain.StatusCancelled, ev.Gateway, note, n)

	case domain.PaymentEventRefunded:
		return e.settleRefund(ctx, tx, t, ev.Gateway, note, n)
	}
	return nil
}
