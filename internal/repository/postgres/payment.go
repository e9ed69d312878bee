package postgres

import (
	"context"
	"database/sql"
	"errors"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/repository"
)

type paymentEventRepository struct {
	db querier
}

func NewPaymentEventRepository(db querier) repository.PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

func (r *paymentEventRepository) Insert(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	query := `INSERT INTO payment_events (id, gateway, provider_txn_id, event_type, transaction_id, amount, signature_verified, payload, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (gateway, provider_txn_id) DO NOTHING`
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	res, err := r.db.ExecContext(ctx, query, ev.ID, ev.Gateway, ev.ProviderTxnID, ev.EventType, ev.TransactionID,
		ev.Amount, ev.SignatureVerified, payload, ev.ReceivedAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

const paymentEventColumns = `id, gateway, provider_txn_id, event_type, transaction_id, amount, signature_verified, payload, received_at`

func scanPaymentEvent(row rowScanner) (*domain.PaymentEvent, error) {
	ev := &domain.PaymentEvent{}
	var payload []byte
	err := row.Scan(&ev.ID, &ev.Gateway, &ev.ProviderTxnID, &ev.EventType, &ev.TransactionID, &ev.Amount,
		&ev.SignatureVerified, &payload, &ev.ReceivedAt)
	if err != nil {
		return nil, err
	}
	ev.Payload = payload
	return ev, nil
}

func (r *paymentEventRepository) GetByProviderTxnID(ctx context.Context, gateway, providerTxnID string) (*domain.PaymentEvent, error) {
	query := `SELECT ` + paymentEventColumns + ` FROM payment_events WHERE gateway = $1 AND provider_txn_id = $2`
	ev, err := scanPaymentEvent(r.db.QueryRowContext(ctx, query, gateway, providerTxnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("payment event", providerTxnID)
	}
	return ev, err
}

func (r *paymentEventRepository) ListByTransaction(ctx context.Context, transactionID string) ([]domain.PaymentEvent, error) {
	query := `SELECT ` + paymentEventColumns + ` FROM payment_events WHERE transaction_id = $1 ORDER BY received_at`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		ev, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}
