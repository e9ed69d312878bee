package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/repository"
)

const itemColumns = `id, kind, sku, category, serial, total_count, available_count, reserved_count, deducted_count, status, updated_at`

// Status is derived from the counters after every change; retired items keep their tag.
const itemStatusExpr = `CASE WHEN status = 'RETIRED' THEN status
	WHEN available_count + $3 > 0 THEN 'AVAILABLE' ELSE 'DEPLETED' END`

type inventoryRepository struct {
	db querier
}

func NewInventoryRepository(db querier) repository.InventoryRepository {
	return &inventoryRepository{db: db}
}

func scanItem(row rowScanner) (*domain.InventoryItem, error) {
	i := &domain.InventoryItem{}
	err := row.Scan(&i.ID, &i.Kind, &i.SKU, &i.Category, &i.Serial, &i.TotalCount, &i.AvailableCount,
		&i.ReservedCount, &i.DeductedCount, &i.Status, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *inventoryRepository) CreateItem(ctx context.Context, i *domain.InventoryItem) error {
	query := `INSERT INTO inventory_items (` + itemColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, i.ID, i.Kind, i.SKU, i.Category, i.Serial, i.TotalCount, i.AvailableCount,
		i.ReservedCount, i.DeductedCount, i.Status, time.Now().UTC())
	return err
}

func (r *inventoryRepository) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("inventory item", id)
	}
	return item, err
}

func (r *inventoryRepository) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *inventoryRepository) ReserveStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	query := `UPDATE inventory_items
	          SET available_count = available_count - $2, reserved_count = reserved_count + $2,
	              status = ` + itemStatusExpr + `, updated_at = $4
	          WHERE id = $1 AND status <> 'RETIRED' AND available_count >= $2
	          RETURNING ` + itemColumns
	return r.guarded(ctx, query, itemID, qty, -qty, func(cur *domain.InventoryItem) error {
		return domain.InsufficientStock(itemID, qty, cur.AvailableCount)
	})
}

func (r *inventoryRepository) CommitStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	query := `UPDATE inventory_items
	          SET reserved_count = reserved_count - $2, deducted_count = deducted_count + $2,
	              status = ` + itemStatusExpr + `, updated_at = $4
	          WHERE id = $1 AND reserved_count >= $2
	          RETURNING ` + itemColumns
	return r.guarded(ctx, query, itemID, qty, 0, func(cur *domain.InventoryItem) error {
		return fmt.Errorf("%w: item %s has %d reserved, cannot commit %d", domain.ErrConflict, itemID, cur.ReservedCount, qty)
	})
}

func (r *inventoryRepository) ReleaseReserved(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	query := `UPDATE inventory_items
	          SET reserved_count = reserved_count - $2, available_count = available_count + $2,
	              status = ` + itemStatusExpr + `, updated_at = $4
	          WHERE id = $1 AND reserved_count >= $2
	          RETURNING ` + itemColumns
	return r.guarded(ctx, query, itemID, qty, qty, func(cur *domain.InventoryItem) error {
		return fmt.Errorf("%w: item %s has %d reserved, cannot release %d", domain.ErrConflict, itemID, cur.ReservedCount, qty)
	})
}

func (r *inventoryRepository) RestoreDeducted(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	query := `UPDATE inventory_items
	          SET deducted_count = deducted_count - $2, available_count = available_count + $2,
	              status = ` + itemStatusExpr + `, updated_at = $4
	          WHERE id = $1 AND deducted_count >= $2
	          RETURNING ` + itemColumns
	return r.guarded(ctx, query, itemID, qty, qty, func(cur *domain.InventoryItem) error {
		return fmt.Errorf("%w: item %s has %d deducted, cannot restore %d", domain.ErrConflict, itemID, cur.DeductedCount, qty)
	})
}

func (r *inventoryRepository) AdjustTotal(ctx context.Context, itemID string, delta int32) (*domain.InventoryItem, error) {
	query := `UPDATE inventory_items
	          SET total_count = total_count + $2, available_count = available_count + $2,
	              status = ` + itemStatusExpr + `, updated_at = $4
	          WHERE id = $1 AND available_count + $2 >= 0
	          RETURNING ` + itemColumns
	return r.guarded(ctx, query, itemID, delta, delta, func(cur *domain.InventoryItem) error {
		return domain.InsufficientStock(itemID, -delta, cur.AvailableCount)
	})
}

// guarded runs a conditional counter update ($1 id, $2 qty, $3 availability
// change, $4 timestamp). When the guard rejects the row the current item is
// loaded so a missing item is told apart from a failed guard.
func (r *inventoryRepository) guarded(ctx context.Context, query, itemID string, qty, availDelta int32, onGuard func(*domain.InventoryItem) error) (*domain.InventoryItem, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, query, itemID, qty, availDelta, time.Now().UTC()))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := r.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return nil, onGuard(current)
}

func (r *inventoryRepository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	query := `INSERT INTO reservations (id, item_id, transaction_id, quantity, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, res.ID, res.ItemID, res.TransactionID, res.Quantity, res.Status, res.CreatedAt, res.UpdatedAt)
	return err
}

func (r *inventoryRepository) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT id, item_id, transaction_id, quantity, status, created_at, updated_at FROM reservations WHERE id = $1 FOR UPDATE`
	res := &domain.Reservation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&res.ID, &res.ItemID, &res.TransactionID, &res.Quantity, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("reservation", id)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *inventoryRepository) UpdateReservation(ctx context.Context, res *domain.Reservation) error {
	query := `UPDATE reservations SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, res.Status, res.UpdatedAt, res.ID)
	return err
}

func (r *inventoryRepository) ListReservationsByTransaction(ctx context.Context, transactionID string) ([]domain.Reservation, error) {
	query := `SELECT id, item_id, transaction_id, quantity, status, created_at, updated_at
	          FROM reservations WHERE transaction_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.ItemID, &res.TransactionID, &res.Quantity, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *inventoryRepository) AppendMovement(ctx context.Context, m *domain.StockMovement) error {
	query := `INSERT INTO stock_movements (id, item_id, transaction_id, reservation_id, operation, delta, available_after, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.ItemID, m.TransactionID, m.ReservationID, m.Operation, m.Delta, m.AvailableAfter, m.CreatedAt)
	return err
}
