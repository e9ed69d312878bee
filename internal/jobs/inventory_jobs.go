package jobs

import (
	"context"

	"fulfillment-engine/internal/logger"
)

// ReconcileInventory reports items whose counters break the conservation law.
func (jr *JobRunner) ReconcileInventory() {
	jr.runWithRecovery("ReconcileInventory", func() {
		ctx := context.Background()

		bad, err := jr.services.Ledger.Unbalanced(ctx)
		if err != nil {
			logger.Error("Failed to reconcile inventory", "error", err)
			return
		}

		for _, item := range bad {
			logger.Error("Inventory counters out of balance",
				"item_id", item.ID,
				"total", item.TotalCount,
				"available", item.AvailableCount,
				"reserved", item.ReservedCount,
				"deducted", item.DeductedCount)
		}
		logger.Info("Inventory reconciled", "unbalanced", len(bad))
	})
}
