package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fulfillment-engine/internal/domain"
)

type transactionRepository struct {
	b binding
}

func (r *transactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	return r.b.do(func(st *state) error {
		if _, ok := st.transactions[t.ID]; ok {
			return fmt.Errorf("%w: transaction %s already exists", domain.ErrConflict, t.ID)
		}
		st.transactions[t.ID] = t.Clone()
		return nil
	})
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.b.do(func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return domain.NotFound("transaction", id)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate needs no row lock here: units of work are already serialized.
func (r *transactionRepository) GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	return r.b.do(func(st *state) error {
		cur, ok := st.transactions[t.ID]
		if !ok || cur.Version != t.Version {
			return domain.ErrConflict
		}
		t.Version++
		t.UpdatedAt = time.Now().UTC()
		st.transactions[t.ID] = t.Clone()
		return nil
	})
}

func (r *transactionRepository) ListBySubject(ctx context.Context, subjectID string, status domain.Status, page, pageSize int32) ([]domain.Transaction, int32, error) {
	var out []domain.Transaction
	var count int32
	err := r.b.do(func(st *state) error {
		var all []domain.Transaction
		for _, t := range st.transactions {
			if t.SubjectID != subjectID || (status != "" && t.Status != status) {
				continue
			}
			all = append(all, *t.Clone())
		}
		sortTransactions(all)
		count = int32(len(all))
		start := int((page - 1) * pageSize)
		if start >= len(all) {
			return nil
		}
		end := start + int(pageSize)
		if end > len(all) {
			end = len(all)
		}
		out = all[start:end]
		return nil
	})
	return out, count, err
}

func (r *transactionRepository) ListStale(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int32) ([]domain.Transaction, error) {
	return r.filter(limit, func(t *domain.Transaction) bool {
		return t.Status == status && t.UpdatedAt.Before(updatedBefore)
	})
}

func (r *transactionRepository) ListRefundDue(ctx context.Context, limit int32) ([]domain.Transaction, error) {
	return r.filter(limit, func(t *domain.Transaction) bool {
		return t.RefundRequired && t.PaymentStatus == domain.PaymentStatusSuccess
	})
}

// filter returns matches oldest update first, like the SQL listings.
func (r *transactionRepository) filter(limit int32, match func(*domain.Transaction) bool) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := r.b.do(func(st *state) error {
		for _, t := range st.transactions {
			if match(t) {
				out = append(out, *t.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, err
}

func (r *transactionRepository) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	return r.b.do(func(st *state) error {
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *transactionRepository) ListAudit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.b.do(func(st *state) error {
		for _, e := range st.audit {
			if e.TransactionID == transactionID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

type inventoryRepository struct {
	b binding
}

func (r *inventoryRepository) CreateItem(ctx context.Context, item *domain.InventoryItem) error {
	return r.b.do(func(st *state) error {
		if _, ok := st.items[item.ID]; ok {
			return fmt.Errorf("%w: item %s already exists", domain.ErrConflict, item.ID)
		}
		c := *item
		c.UpdatedAt = time.Now().UTC()
		st.items[item.ID] = &c
		return nil
	})
}

func (r *inventoryRepository) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	var out *domain.InventoryItem
	err := r.b.do(func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.NotFound("inventory item", id)
		}
		c := *item
		out = &c
		return nil
	})
	return out, err
}

func (r *inventoryRepository) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	err := r.b.do(func(st *state) error {
		for _, item := range st.items {
			out = append(out, *item)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// mutate applies change to the item when guard accepts its current counters.
func (r *inventoryRepository) mutate(itemID string, guard func(*domain.InventoryItem) error, change func(*domain.InventoryItem)) (*domain.InventoryItem, error) {
	var out *domain.InventoryItem
	err := r.b.do(func(st *state) error {
		item, ok := st.items[itemID]
		if !ok {
			return domain.NotFound("inventory item", itemID)
		}
		if err := guard(item); err != nil {
			return err
		}
		c := *item
		change(&c)
		c.RefreshStatus()
		c.UpdatedAt = time.Now().UTC()
		st.items[itemID] = &c
		res := c
		out = &res
		return nil
	})
	return out, err
}

func (r *inventoryRepository) ReserveStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	return r.mutate(itemID, func(i *domain.InventoryItem) error {
		if i.Status == domain.ItemStatusRetired || i.AvailableCount < qty {
			return domain.InsufficientStock(itemID, qty, i.AvailableCount)
		}
		return nil
	}, func(i *domain.InventoryItem) {
		i.AvailableCount -= qty
		i.ReservedCount += qty
	})
}

func (r *inventoryRepository) CommitStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	return r.mutate(itemID, func(i *domain.InventoryItem) error {
		if i.ReservedCount < qty {
			return fmt.Errorf("%w: item %s has %d reserved, cannot commit %d", domain.ErrConflict, itemID, i.ReservedCount, qty)
		}
		return nil
	}, func(i *domain.InventoryItem) {
		i.ReservedCount -= qty
		i.DeductedCount += qty
	})
}

func (r *inventoryRepository) ReleaseReserved(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	return r.mutate(itemID, func(i *domain.InventoryItem) error {
		if i.ReservedCount < qty {
			return fmt.Errorf("%w: item %s has %d reserved, cannot release %d", domain.ErrConflict, itemID, i.ReservedCount, qty)
		}
		return nil
	}, func(i *domain.InventoryItem) {
		i.ReservedCount -= qty
		i.AvailableCount += qty
	})
}

func (r *inventoryRepository) RestoreDeducted(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error) {
	return r.mutate(itemID, func(i *domain.InventoryItem) error {
		if i.DeductedCount < qty {
			return fmt.Errorf("%w: item %s has %d deducted, cannot restore %d", domain.ErrConflict, itemID, i.DeductedCount, qty)
		}
		return nil
	}, func(i *domain.InventoryItem) {
		i.DeductedCount -= qty
		i.AvailableCount += qty
	})
}

func (r *inventoryRepository) AdjustTotal(ctx context.Context, itemID string, delta int32) (*domain.InventoryItem, error) {
	return r.mutate(itemID, func(i *domain.InventoryItem) error {
		if i.AvailableCount+delta < 0 {
			return domain.InsufficientStock(itemID, -delta, i.AvailableCount)
		}
		return nil
	}, func(i *domain.InventoryItem) {
		i.TotalCount += delta
		i.AvailableCount += delta
	})
}

func (r *inventoryRepository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	return r.b.do(func(st *state) error {
		c := *res
		st.reservations[res.ID] = &c
		return nil
	})
}

func (r *inventoryRepository) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.b.do(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return domain.NotFound("reservation", id)
		}
		c := *res
		out = &c
		return nil
	})
	return out, err
}

func (r *inventoryRepository) UpdateReservation(ctx context.Context, res *domain.Reservation) error {
	return r.b.do(func(st *state) error {
		cur, ok := st.reservations[res.ID]
		if !ok {
			return domain.NotFound("reservation", res.ID)
		}
		cur.Status = res.Status
		cur.UpdatedAt = res.UpdatedAt
		return nil
	})
}

func (r *inventoryRepository) ListReservationsByTransaction(ctx context.Context, transactionID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := r.b.do(func(st *state) error {
		for _, res := range st.reservations {
			if res.TransactionID == transactionID {
				out = append(out, *res)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (r *inventoryRepository) AppendMovement(ctx context.Context, m *domain.StockMovement) error {
	return r.b.do(func(st *state) error {
		st.movements = append(st.movements, *m)
		return nil
	})
}

type paymentEventRepository struct {
	b binding
}

func paymentKey(gateway, providerTxnID string) string {
	return gateway + "|" + providerTxnID
}

func (r *paymentEventRepository) Insert(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	inserted := false
	err := r.b.do(func(st *state) error {
		key := paymentKey(ev.Gateway, ev.ProviderTxnID)
		if _, ok := st.payments[key]; ok {
			return nil
		}
		c := *ev
		st.payments[key] = &c
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *paymentEventRepository) GetByProviderTxnID(ctx context.Context, gateway, providerTxnID string) (*domain.PaymentEvent, error) {
	var out *domain.PaymentEvent
	err := r.b.do(func(st *state) error {
		ev, ok := st.payments[paymentKey(gateway, providerTxnID)]
		if !ok {
			return domain.NotFound("payment event", providerTxnID)
		}
		c := *ev
		out = &c
		return nil
	})
	return out, err
}

func (r *paymentEventRepository) ListByTransaction(ctx context.Context, transactionID string) ([]domain.PaymentEvent, error) {
	var out []domain.PaymentEvent
	err := r.b.do(func(st *state) error {
		for _, ev := range st.payments {
			if ev.TransactionID == transactionID {
				out = append(out, *ev)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, err
}

type customerRepository struct {
	b binding
}

func (r *customerRepository) GetProfile(ctx context.Context, subjectID string) (*domain.CustomerProfile, error) {
	var out *domain.CustomerProfile
	err := r.b.do(func(st *state) error {
		p, ok := st.customers[subjectID]
		if !ok {
			return domain.NotFound("customer", subjectID)
		}
		c := *p
		out = &c
		return nil
	})
	return out, err
}

func (r *customerRepository) UpsertProfile(ctx context.Context, p *domain.CustomerProfile) error {
	return r.b.do(func(st *state) error {
		c := *p
		if cur, ok := st.customers[p.SubjectID]; ok {
			c.CreatedAt = cur.CreatedAt
		}
		st.customers[p.SubjectID] = &c
		return nil
	})
}

type rateRepository struct {
	b binding
}

func (r *rateRepository) GetBySKU(ctx context.Context, sku string) (*domain.RateCard, error) {
	var out *domain.RateCard
	err := r.b.do(func(st *state) error {
		rc, ok := st.rates[sku]
		if !ok {
			return domain.NotFound("rate card", sku)
		}
		c := *rc
		out = &c
		return nil
	})
	return out, err
}

func (r *rateRepository) Upsert(ctx context.Context, rc *domain.RateCard) error {
	return r.b.do(func(st *state) error {
		c := *rc
		st.rates[rc.SKU] = &c
		return nil
	})
}

type policyRepository struct {
	b binding
}

func (r *policyRepository) GetActive(ctx context.Context) (*domain.RiskPolicy, error) {
	var out *domain.RiskPolicy
	err := r.b.do(func(st *state) error {
		if len(st.policies) == 0 {
			return domain.NotFound("risk policy", "active")
		}
		best := st.policies[0]
		for _, p := range st.policies[1:] {
			if p.Version > best.Version {
				best = p
			}
		}
		out = &best
		return nil
	})
	return out, err
}

func (r *policyRepository) Save(ctx context.Context, p *domain.RiskPolicy) error {
	return r.b.do(func(st *state) error {
		for _, cur := range st.policies {
			if cur.Version == p.Version {
				return nil
			}
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		st.policies = append(st.policies, *p)
		return nil
	})
}
