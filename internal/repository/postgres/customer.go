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
)

type customerRepository struct {
	db querier
}

func NewCustomerRepository(db querier) repository.CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetProfile(ctx context.Context, subjectID string) (*domain.CustomerProfile, error) {
	p := &domain.CustomerProfile{}
	query := `SELECT subject_id, created_at, verified, prior_violation, high_risk, blacklisted, device_fingerprint_hash
	          FROM customer_profiles WHERE subject_id = $1`
	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(&p.SubjectID, &p.CreatedAt, &p.Verified, &p.PriorViolation,
		&p.HighRisk, &p.Blacklisted, &p.DeviceFingerprintHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("customer", subjectID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *customerRepository) UpsertProfile(ctx context.Context, p *domain.CustomerProfile) error {
	query := `INSERT INTO customer_profiles (subject_id, created_at, verified, prior_violation, high_risk, blacklisted, device_fingerprint_hash)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (subject_id) DO UPDATE SET verified = EXCLUDED.verified, prior_violation = EXCLUDED.prior_violation,
	              high_risk = EXCLUDED.high_risk, blacklisted = EXCLUDED.blacklisted,
	              device_fingerprint_hash = EXCLUDED.device_fingerprint_hash`
	_, err := r.db.ExecContext(ctx, query, p.SubjectID, p.CreatedAt, p.Verified, p.PriorViolation, p.HighRisk,
		p.Blacklisted, p.DeviceFingerprintHash)
	return err
}

type rateRepository struct {
	db querier
}

func NewRateRepository(db querier) repository.RateRepository {
	return &rateRepository{db: db}
}

func (r *rateRepository) GetBySKU(ctx context.Context, sku string) (*domain.RateCard, error) {
	rc := &domain.RateCard{}
	query := `SELECT sku, category, duration_unit, daily, weekly, monthly, unit_price, deposit, tax_rate_bps, active
	          FROM rate_cards WHERE sku = $1`
	err := r.db.QueryRowContext(ctx, query, sku).Scan(&rc.SKU, &rc.Category, &rc.DurationUnit, &rc.Daily, &rc.Weekly,
		&rc.Monthly, &rc.UnitPrice, &rc.Deposit, &rc.TaxRateBps, &rc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("rate card", sku)
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (r *rateRepository) Upsert(ctx context.Context, rc *domain.RateCard) error {
	query := `INSERT INTO rate_cards (sku, category, duration_unit, daily, weekly, monthly, unit_price, deposit, tax_rate_bps, active)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (sku) DO UPDATE SET category = EXCLUDED.category, duration_unit = EXCLUDED.duration_unit,
	              daily = EXCLUDED.daily, weekly = EXCLUDED.weekly, monthly = EXCLUDED.monthly,
	              unit_price = EXCLUDED.unit_price, deposit = EXCLUDED.deposit,
	              tax_rate_bps = EXCLUDED.tax_rate_bps, active = EXCLUDED.active`
	_, err := r.db.ExecContext(ctx, query, rc.SKU, rc.Category, rc.DurationUnit, rc.Daily, rc.Weekly, rc.Monthly,
		rc.UnitPrice, rc.Deposit, rc.TaxRateBps, rc.Active)
	return err
}

type policyRepository struct {
	db querier
}

func NewPolicyRepository(db querier) repository.PolicyRepository {
	return &policyRepository{db: db}
}

// GetActive returns the highest stored policy version.
func (r *policyRepository) GetActive(ctx context.Context) (*domain.RiskPolicy, error) {
	var doc []byte
	var createdAt time.Time
	query := `SELECT document, created_at FROM risk_policies ORDER BY version DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&doc, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("risk policy", "active")
	}
	if err != nil {
		return nil, err
	}
	var p domain.RiskPolicy
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to decode risk policy: %w", err)
	}
	p.CreatedAt = createdAt
	return &p, nil
}

func (r *policyRepository) Save(ctx context.Context, p *domain.RiskPolicy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode risk policy: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO risk_policies (version, document, created_at) VALUES ($1, $2, $3)
	          ON CONFLICT (version) DO NOTHING`
	_, err = r.db.ExecContext(ctx, query, p.Version, doc, p.CreatedAt)
	return err
}
