// Package memory is an in-process Store used for local runs and tests.
// Units of work are serialized and applied copy-on-write, so a unit that
// fails leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/repository"
)

type state struct {
	transactions map[string]*domain.Transaction
	audit        []domain.AuditEntry
	items        map[string]*domain.InventoryItem
	reservations map[string]*domain.Reservation
	movements    []domain.StockMovement
	payments     map[string]*domain.PaymentEvent
	customers    map[string]*domain.CustomerProfile
	rates        map[string]*domain.RateCard
	policies     []domain.RiskPolicy
}

func newState() *state {
	return &state{
		transactions: make(map[string]*domain.Transaction),
		items:        make(map[string]*domain.InventoryItem),
		reservations: make(map[string]*domain.Reservation),
		payments:     make(map[string]*domain.PaymentEvent),
		customers:    make(map[string]*domain.CustomerProfile),
		rates:        make(map[string]*domain.RateCard),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = v.Clone()
	}
	c.audit = append([]domain.AuditEntry(nil), s.audit...)
	for k, v := range s.items {
		item := *v
		c.items[k] = &item
	}
	for k, v := range s.reservations {
		r := *v
		c.reservations[k] = &r
	}
	c.movements = append([]domain.StockMovement(nil), s.movements...)
	for k, v := range s.payments {
		ev := *v
		c.payments[k] = &ev
	}
	for k, v := range s.customers {
		p := *v
		c.customers[k] = &p
	}
	for k, v := range s.rates {
		r := *v
		c.rates[k] = &r
	}
	c.policies = append([]domain.RiskPolicy(nil), s.policies...)
	return c
}

type Store struct {
	mu       sync.Mutex
	st       *state
	failures []error
}

func NewStore() *Store {
	return &Store{st: newState()}
}

// binding resolves which state a repository call operates on: the working
// copy of an open unit of work, or the committed state under the store lock.
type binding struct {
	store *Store
	tx    *state
}

func (b binding) do(fn func(st *state) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.st)
}

type scope struct {
	b binding
}

func (s scope) Transactions() repository.TransactionRepository { return &transactionRepository{s.b} }
func (s scope) Inventory() repository.InventoryRepository      { return &inventoryRepository{s.b} }
func (s scope) Payments() repository.PaymentEventRepository    { return &paymentEventRepository{s.b} }
func (s scope) Customers() repository.CustomerRepository       { return &customerRepository{s.b} }
func (s scope) Rates() repository.RateRepository               { return &rateRepository{s.b} }
func (s scope) Policies() repository.PolicyRepository          { return &policyRepository{s.b} }

func (s *Store) base() scope { return scope{binding{store: s}} }

func (s *Store) Transactions() repository.TransactionRepository { return s.base().Transactions() }
func (s *Store) Inventory() repository.InventoryRepository      { return s.base().Inventory() }
func (s *Store) Payments() repository.PaymentEventRepository    { return s.base().Payments() }
func (s *Store) Customers() repository.CustomerRepository       { return s.base().Customers() }
func (s *Store) Rates() repository.RateRepository               { return s.base().Rates() }
func (s *Store) Policies() repository.PolicyRepository          { return s.base().Policies() }

// WithinTx must not be re-entered from fn, and fn must only use the
// repositories of the tx it is given.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, scope{binding{store: s, tx: work}}); err != nil {
		return err
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return domain.Transient(err)
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// FailCommits makes the next len(errs) units of work fail at commit time
// with a transient error, discarding their writes.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Movements returns a copy of the stock movement log.
func (s *Store) Movements() []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StockMovement(nil), s.st.movements...)
}

func sortTransactions(txns []domain.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
}
