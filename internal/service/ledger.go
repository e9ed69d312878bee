package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/repository"

	"github.com/google/uuid"
)

type inventoryLedger struct {
	store repository.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewInventoryLedger(store repository.Store) InventoryLedger {
	return newInventoryLedger(store, nil)
}

func newInventoryLedger(store repository.Store, clock func() time.Time) *inventoryLedger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &inventoryLedger{store: store, log: logger.WithService("inventory_ledger"), now: clock}
}

func (l *inventoryLedger) Reserve(ctx context.Context, tx repository.Tx, txnID, itemID string, qty int32) (*domain.Reservation, error) {
	if qty <= 0 {
		return nil, domain.Validationf("quantity must be positive")
	}
	item, err := tx.Inventory().ReserveStock(ctx, itemID, qty)
	if err != nil {
		return nil, err
	}
	now := l.now()
	res := &domain.Reservation{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		TransactionID: txnID,
		Quantity:      qty,
		Status:        domain.ReservationStatusReserved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Inventory().CreateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}
	if err := l.movement(ctx, tx, res, domain.StockOpReserve, -qty, item); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *inventoryLedger) CommitDeduction(ctx context.Context, tx repository.Tx, reservationID string) error {
	res, err := tx.Inventory().GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	switch res.Status {
	case domain.ReservationStatusCommitted:
		return nil
	case domain.ReservationStatusReleased:
		return fmt.Errorf("%w: reservation %s was released", domain.ErrConflict, reservationID)
	}
	item, err := tx.Inventory().CommitStock(ctx, res.ItemID, res.Quantity)
	if err != nil {
		return err
	}
	res.Status = domain.ReservationStatusCommitted
	res.UpdatedAt = l.now()
	if err := tx.Inventory().UpdateReservation(ctx, res); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return l.movement(ctx, tx, res, domain.StockOpCommit, -res.Quantity, item)
}

// Release hands a reservation's units back to availability, whether they
// were only reserved or already deducted.
func (l *inventoryLedger) Release(ctx context.Context, tx repository.Tx, reservationID string) error {
	res, err := tx.Inventory().GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	var item *domain.InventoryItem
	op := domain.StockOpRelease
	switch res.Status {
	case domain.ReservationStatusReleased:
		return nil
	case domain.ReservationStatusReserved:
		item, err = tx.Inventory().ReleaseReserved(ctx, res.ItemID, res.Quantity)
	case domain.ReservationStatusCommitted:
		op = domain.StockOpRestore
		item, err = tx.Inventory().RestoreDeducted(ctx, res.ItemID, res.Quantity)
	}
	if err != nil {
		return err
	}
	res.Status = domain.ReservationStatusReleased
	res.UpdatedAt = l.now()
	if err := tx.Inventory().UpdateReservation(ctx, res); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return l.movement(ctx, tx, res, op, res.Quantity, item)
}

func (l *inventoryLedger) RestoreTransaction(ctx context.Context, tx repository.Tx, txnID string) error {
	reservations, err := tx.Inventory().ListReservationsByTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	for _, res := range reservations {
		if res.Status == domain.ReservationStatusReleased {
			continue
		}
		if err := l.Release(ctx, tx, res.ID); err != nil {
			return err
		}
	}
	return nil
}

// Adjust changes the total stock of an item (restock or write-off) in its own unit of work.
func (l *inventoryLedger) Adjust(ctx context.Context, actor, itemID string, delta int32) (*domain.InventoryItem, error) {
	if delta == 0 {
		return nil, domain.Validationf("delta must not be zero")
	}
	var out *domain.InventoryItem
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.Inventory().AdjustTotal(ctx, itemID, delta)
		if err != nil {
			return err
		}
		out = item
		return l.movement(ctx, tx, &domain.Reservation{ItemID: itemID}, domain.StockOpAdjust, delta, item)
	})
	if err != nil {
		l.log.Warn("Stock adjustment failed", "item_id", itemID, "delta", delta, "actor", actor, "error", err)
		return nil, err
	}
	l.log.Info("Stock adjusted", "item_id", itemID, "delta", delta, "actor", actor, "total", out.TotalCount)
	return out, nil
}

func (l *inventoryLedger) Snapshot(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	return l.store.Inventory().GetItem(ctx, itemID)
}

func (l *inventoryLedger) Unbalanced(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := l.store.Inventory().ListItems(ctx)
	if err != nil {
		return nil, err
	}
	var bad []domain.InventoryItem
	for _, item := range items {
		if !item.Balanced() {
			bad = append(bad, item)
		}
	}
	return bad, nil
}

func (l *inventoryLedger) movement(ctx context.Context, tx repository.Tx, res *domain.Reservation, op domain.StockOperation, delta int32, item *domain.InventoryItem) error {
	m := &domain.StockMovement{
		ID:             uuid.NewString(),
		ItemID:         item.ID,
		TransactionID:  res.TransactionID,
		ReservationID:  res.ID,
		Operation:      op,
		Delta:          delta,
		AvailableAfter: item.AvailableCount,
		CreatedAt:      l.now(),
	}
	if err := tx.Inventory().AppendMovement(ctx, m); err != nil {
		return fmt.Errorf("failed to record stock movement: %w", err)
	}
	logger.Audit(ctx, "stock_movement",
		"operation", string(op),
		"item_id", item.ID,
		"transaction_id", res.TransactionID,
		"reservation_id", res.ID,
		"delta", delta,
		"available_after", item.AvailableCount,
		"reserved", item.ReservedCount,
		"deducted", item.DeductedCount,
	)
	return nil
}
