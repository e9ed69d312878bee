package jobs

import (
	"context"

	"fulfillment-engine/internal/logger"
)

// CancelStalePayments cancels transactions whose payment never completed
// within the configured window.
func (jr *JobRunner) CancelStalePayments() {
	jr.runWithRecovery("CancelStalePayments", func() {
		ctx := context.Background()

		count, err := jr.services.Transactions.CancelStale(ctx, jr.config.PaymentTimeout(), jr.config.Payment.StaleBatch)
		if err != nil {
			logger.Error("Failed to cancel stale payments", "error", err)
			return
		}
		logger.Info("Cancelled stale payments", "count", count, "timeout_minutes", jr.config.Payment.TimeoutMinutes)
	})
}

// ProcessRefunds pays back every transaction flagged refund_required.
// Gateway refunds are idempotent per provider transaction, so a crash
// between the refund and MarkRefunded is repaired by the next run.
func (jr *JobRunner) ProcessRefunds() {
	jr.runWithRecovery("ProcessRefunds", func() {
		ctx := context.Background()

		due, err := jr.services.Transactions.ListRefundDue(ctx, jr.config.Payment.RefundBatch)
		if err != nil {
			logger.Error("Failed to list refunds due", "error", err)
			return
		}

		gw := jr.gateways.Primary()
		refunded := 0
		for _, txn := range due {
			if txn.ProviderTxnID == "" {
				logger.Warn("Refund due without provider transaction", "transaction_id", txn.ID)
				continue
			}
			refundID, err := gw.Refund(ctx, txn.ProviderTxnID, txn.TotalAmount)
			if err != nil {
				logger.Error("Gateway refund failed", "transaction_id", txn.ID, "error", err)
				continue
			}
			if _, err := jr.services.Transactions.MarkRefunded(ctx, txn.ID, refundID); err != nil {
				logger.Error("Failed to mark refund", "transaction_id", txn.ID, "refund_id", refundID, "error", err)
				continue
			}
			refunded++
			logger.Debug("Refunded transaction", "transaction_id", txn.ID, "refund_id", refundID, "amount", txn.TotalAmount)
		}

		logger.Info("Processed refunds", "due", len(due), "refunded", refunded)
	})
}
