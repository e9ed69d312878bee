package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/repository"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx so every repository can
// run inside or outside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	repository.TransactionRepository
	repository.InventoryRepository
	repository.PaymentEventRepository
	customers repository.CustomerRepository
	rates     repository.RateRepository
	policies  repository.PolicyRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                     db,
		TransactionRepository:  NewTransactionRepository(db),
		InventoryRepository:    NewInventoryRepository(db),
		PaymentEventRepository: NewPaymentEventRepository(db),
		customers:              NewCustomerRepository(db),
		rates:                  NewRateRepository(db),
		policies:               NewPolicyRepository(db),
	}
}

func (s *Store) Transactions() repository.TransactionRepository { return s.TransactionRepository }
func (s *Store) Inventory() repository.InventoryRepository      { return s.InventoryRepository }
func (s *Store) Payments() repository.PaymentEventRepository    { return s.PaymentEventRepository }
func (s *Store) Customers() repository.CustomerRepository       { return s.customers }
func (s *Store) Rates() repository.RateRepository               { return s.rates }
func (s *Store) Policies() repository.PolicyRepository          { return s.policies }

type txScope struct {
	transactions repository.TransactionRepository
	inventory    repository.InventoryRepository
	payments     repository.PaymentEventRepository
	customers    repository.CustomerRepository
	rates        repository.RateRepository
	policies     repository.PolicyRepository
}

func (t *txScope) Transactions() repository.TransactionRepository { return t.transactions }
func (t *txScope) Inventory() repository.InventoryRepository      { return t.inventory }
func (t *txScope) Payments() repository.PaymentEventRepository    { return t.payments }
func (t *txScope) Customers() repository.CustomerRepository       { return t.customers }
func (t *txScope) Rates() repository.RateRepository               { return t.rates }
func (t *txScope) Policies() repository.PolicyRepository          { return t.policies }

// WithinTx runs fn inside a database transaction. Row locks taken by
// GetForUpdate and the conditional stock updates are held until commit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer sqlTx.Rollback()

	scope := &txScope{
		transactions: NewTransactionRepository(sqlTx),
		inventory:    NewInventoryRepository(sqlTx),
		payments:     NewPaymentEventRepository(sqlTx),
		customers:    NewCustomerRepository(sqlTx),
		rates:        NewRateRepository(sqlTx),
		policies:     NewPolicyRepository(sqlTx),
	}
	if err := fn(ctx, scope); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		logger.DatabaseResult("commit", 0, err)
		return classify(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// EnsureSchema applies the embedded DDL. Statements are idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	logger.DatabaseCall("ensure_schema", "schema.sql")
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// classify maps connection loss, serialization failures and resource
// exhaustion to TRANSIENT_STORE_ERROR so callers know a retry is safe.
// Data exceptions such as a malformed uuid are the caller's input and
// become VALIDATION_ERROR.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return domain.Transient(err)
		case "22":
			return &domain.Error{Code: domain.CodeValidation, Message: "invalid value: " + pqErr.Message, Err: err}
		}
	}
	return err
}
