package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/repository"

	"github.com/lib/pq"
)

const transactionColumns = `id, kind, subject_id, items, start_date, end_date, rental_days, currency,
	base_amount, tax_amount, deposit_amount, total_amount, status, payment_status, payment_intent_id,
	provider_txn_id, risk_score, risk_factors, risk_decision, policy_version, stock_held, refund_required,
	cancel_reason, device_fingerprint_hash, version, created_at, updated_at`

type transactionRepository struct {
	db querier
}

func NewTransactionRepository(db querier) repository.TransactionRepository {
	return &transactionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var items []byte
	var start, end sql.NullTime
	var factors pq.StringArray
	err := row.Scan(&t.ID, &t.Kind, &t.SubjectID, &items, &start, &end, &t.RentalDays, &t.Currency,
		&t.BaseAmount, &t.TaxAmount, &t.DepositAmount, &t.TotalAmount, &t.Status, &t.PaymentStatus, &t.PaymentIntentID,
		&t.ProviderTxnID, &t.RiskScore, &factors, &t.RiskDecision, &t.PolicyVersion, &t.StockHeld, &t.RefundRequired,
		&t.CancelReason, &t.DeviceFingerprintHash, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return nil, fmt.Errorf("failed to decode line items of %s: %w", t.ID, err)
	}
	if start.Valid {
		t.StartDate = &start.Time
	}
	if end.Valid {
		t.EndDate = &end.Time
	}
	t.RiskFactors = []string(factors)
	return t, nil
}

func (r *transactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	query := `INSERT INTO transactions (` + transactionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`
	_, err = r.db.ExecContext(ctx, query, t.ID, t.Kind, t.SubjectID, items, t.StartDate, t.EndDate, t.RentalDays, t.Currency,
		t.BaseAmount, t.TaxAmount, t.DepositAmount, t.TotalAmount, t.Status, t.PaymentStatus, t.PaymentIntentID,
		t.ProviderTxnID, t.RiskScore, pq.Array(t.RiskFactors), t.RiskDecision, t.PolicyVersion, t.StockHeld, t.RefundRequired,
		t.CancelReason, t.DeviceFingerprintHash, t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("transaction", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (r *transactionRepository) GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("transaction", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (r *transactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	query := `UPDATE transactions SET status=$1, payment_status=$2, payment_intent_id=$3, provider_txn_id=$4,
	          risk_score=$5, risk_factors=$6, risk_decision=$7, policy_version=$8, stock_held=$9, refund_required=$10,
	          cancel_reason=$11, version=version+1, updated_at=$12
	          WHERE id=$13 AND version=$14`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, t.Status, t.PaymentStatus, t.PaymentIntentID, t.ProviderTxnID,
		t.RiskScore, pq.Array(t.RiskFactors), t.RiskDecision, t.PolicyVersion, t.StockHeld, t.RefundRequired,
		t.CancelReason, now, t.ID, t.Version)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConflict
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r *transactionRepository) ListBySubject(ctx context.Context, subjectID string, status domain.Status, page, pageSize int32) ([]domain.Transaction, int32, error) {
	offset := (page - 1) * pageSize
	sql := `SELECT ` + transactionColumns + ` FROM transactions WHERE subject_id = $1`

	args := []any{subjectID}
	argIdx := 2
	if status != "" {
		sql += " AND status = $2"
		args = append(args, status)
		argIdx++
	}

	var count int32
	countSql := "SELECT count(*) FROM (" + sql + ") as sub"
	if err := r.db.QueryRowContext(ctx, countSql, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	txns, err := r.list(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return txns, count, nil
}

func (r *transactionRepository) ListStale(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int32) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
	          WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`
	return r.list(ctx, query, status, updatedBefore, limit)
}

func (r *transactionRepository) ListRefundDue(ctx context.Context, limit int32) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
	          WHERE refund_required AND payment_status = 'SUCCESS' ORDER BY updated_at LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *transactionRepository) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (r *transactionRepository) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	query := `INSERT INTO transaction_audit (id, transaction_id, from_status, to_status, code, note, actor, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.TransactionID, e.FromStatus, e.ToStatus, e.Code, e.Note, e.Actor, e.CreatedAt)
	return err
}

func (r *transactionRepository) ListAudit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	query := `SELECT id, transaction_id, from_status, to_status, code, note, actor, created_at
	          FROM transaction_audit WHERE transaction_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.FromStatus, &e.ToStatus, &e.Code, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
