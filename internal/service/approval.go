package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/repository"
	"fulfillment-engine/internal/risk"
)

// decide scores a paid transaction against the active policy and routes it
// to APPROVED, UNDER_REVIEW or CANCELLED. The profile and policy are read
// inside the unit of work so the decision matches what was committed.
func (s *transactionService) decide(ctx context.Context, tx repository.Tx, t *domain.Transaction, actor string, n *notices) error {
	profile, err := tx.Customers().GetProfile(ctx, t.SubjectID)
	if errors.Is(err, domain.ErrNotFound) {
		profile = nil
	} else if err != nil {
		return fmt.Errorf("failed to load customer profile: %w", err)
	}

	policy, err := s.policy(ctx, tx)
	if err != nil {
		return err
	}

	ev := risk.Evaluate(risk.InputFor(t, profile), policy, s.now())
	t.RiskScore = ev.Score
	t.RiskFactors = ev.Factors
	t.RiskDecision = string(ev.Decision)
	t.PolicyVersion = ev.PolicyVersion

	logger.Audit(ctx, "risk_evaluation",
		"transaction_id", t.ID,
		"score", ev.Score,
		"decision", string(ev.Decision),
		"factors", strings.Join(ev.Factors, ","),
		"policy_version", ev.PolicyVersion,
	)
	note := fmt.Sprintf("score %d decision %s policy v%d factors [%s]",
		ev.Score, ev.Decision, ev.PolicyVersion, strings.Join(ev.Factors, ","))
	if err := s.audit(ctx, tx, t, t.Status, t.Status, domain.AuditCodeRisk, actor, note); err != nil {
		return err
	}

	switch ev.Decision {
	case risk.DecisionApprove:
		return s.transition(ctx, tx, t, domain.StatusApproved, actor, "auto-approved", n)
	case risk.DecisionManualReview:
		if t.Status == domain.StatusUnderReview {
			return nil
		}
		return s.transition(ctx, tx, t, domain.StatusUnderReview, actor, "manual review required", n)
	default:
		t.CancelReason = domain.CancelReasonRiskRejected
		return s.transition(ctx, tx, t, domain.StatusCancelled, actor, "rejected by risk policy", n)
	}
}

func (s *transactionService) policy(ctx context.Context, tx repository.Tx) (domain.RiskPolicy, error) {
	p, err := tx.Policies().GetActive(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return s.cfg.FallbackPolicy, nil
	}
	if err != nil {
		return domain.RiskPolicy{}, fmt.Errorf("failed to load risk policy: %w", err)
	}
	return *p, nil
}
