package repository

import (
	"context"
	"time"

	"fulfillment-engine/internal/domain"
)

type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// GetForUpdate reads the transaction and holds its row lock until the
	// surrounding unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error)
	// Update persists t when its version still matches and bumps t.Version.
	Update(ctx context.Context, t *domain.Transaction) error
	ListBySubject(ctx context.Context, subjectID string, status domain.Status, page, pageSize int32) ([]domain.Transaction, int32, error)
	ListStale(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int32) ([]domain.Transaction, error)
	ListRefundDue(ctx context.Context, limit int32) ([]domain.Transaction, error)

	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error)
}

type InventoryRepository interface {
	CreateItem(ctx context.Context, item *domain.InventoryItem) error
	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)

	// ReserveStock moves qty from available to reserved only if enough is available.
	ReserveStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error)
	CommitStock(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error)
	ReleaseReserved(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error)
	RestoreDeducted(ctx context.Context, itemID string, qty int32) (*domain.InventoryItem, error)
	AdjustTotal(ctx context.Context, itemID string, delta int32) (*domain.InventoryItem, error)

	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	UpdateReservation(ctx context.Context, r *domain.Reservation) error
	ListReservationsByTransaction(ctx context.Context, transactionID string) ([]domain.Reservation, error)

	AppendMovement(ctx context.Context, m *domain.StockMovement) error
}

type PaymentEventRepository interface {
	// Insert stores the event and reports false when (gateway, provider_txn_id)
	// was already recorded.
	Insert(ctx context.Context, ev *domain.PaymentEvent) (bool, error)
	GetByProviderTxnID(ctx context.Context, gateway, providerTxnID string) (*domain.PaymentEvent, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]domain.PaymentEvent, error)
}

type CustomerRepository interface {
	GetProfile(ctx context.Context, subjectID string) (*domain.CustomerProfile, error)
	UpsertProfile(ctx context.Context, p *domain.CustomerProfile) error
}

type RateRepository interface {
	GetBySKU(ctx context.Context, sku string) (*domain.RateCard, error)
	Upsert(ctx context.Context, rate *domain.RateCard) error
}

type PolicyRepository interface {
	GetActive(ctx context.Context) (*domain.RiskPolicy, error)
	Save(ctx context.Context, p *domain.RiskPolicy) error
}

// Tx is the set of repositories bound to one atomic unit of work.
type Tx interface {
	Transactions() TransactionRepository
	Inventory() InventoryRepository
	Payments() PaymentEventRepository
	Customers() CustomerRepository
	Rates() RateRepository
	Policies() PolicyRepository
}

// Store gives non-transactional access to every repository and opens units of work.
type Store interface {
	Tx

	// WithinTx runs fn in one atomic unit: everything fn wrote is committed
	// when it returns nil and discarded otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
