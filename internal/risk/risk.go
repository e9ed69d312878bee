// Package risk scores a paid transaction and decides whether it proceeds
// automatically, waits for an operator, or is rejected.
//
// Evaluation is pure: the same input and policy always give the same score,
// factors and decision. The policy is passed in per call; nothing is cached.
package risk

import (
	"sort"
	"time"

	"fulfillment-engine/internal/domain"
)

type Decision string

const (
	DecisionApprove      Decision = "APPROVE"
	DecisionManualReview Decision = "MANUAL_REVIEW"
	DecisionReject       Decision = "REJECT"
)

// Factor names recorded on the transaction.
const (
	FactorBlacklisted         = "blacklisted"
	FactorNewAccount          = "new_account"
	FactorPriorViolation      = "prior_violation"
	FactorFingerprintMismatch = "fingerprint_mismatch"
	FactorHighRiskProfile     = "high_risk_profile"
	FactorAmountOverLimit     = "amount_over_limit"
	FactorDurationOverLimit   = "duration_over_limit"
	FactorUnverified          = "unverified"
	FactorUnknownSubject      = "unknown_subject"
	FactorAutoApproveDisabled = "auto_approve_disabled"
)

const maxScore int32 = 100

// Input is everything the scorer looks at. Profile is nil when the subject
// has no customer profile.
type Input struct {
	Profile               *domain.CustomerProfile
	TotalAmount           int64
	RentalDays            int32
	DeviceFingerprintHash string
}

type Evaluation struct {
	Score         int32
	Factors       []string
	Decision      Decision
	PolicyVersion int32
}

// InputFor builds the scorer input for a transaction.
func InputFor(t *domain.Transaction, profile *domain.CustomerProfile) Input {
	return Input{
		Profile:               profile,
		TotalAmount:           t.TotalAmount,
		RentalDays:            t.RentalDays,
		DeviceFingerprintHash: t.DeviceFingerprintHash,
	}
}

func Evaluate(in Input, p domain.RiskPolicy, now time.Time) Evaluation {
	ev := Evaluation{PolicyVersion: p.Version}

	if in.Profile != nil && in.Profile.Blacklisted && p.EnforceBlacklist {
		ev.Score = maxScore
		ev.Factors = []string{FactorBlacklisted}
		ev.Decision = DecisionReject
		return ev
	}

	w := p.Weights
	add := func(factor string, weight int32) {
		ev.Score += weight
		ev.Factors = append(ev.Factors, factor)
	}

	if in.Profile == nil {
		add(FactorUnknownSubject, w.UnknownSubject)
	} else {
		prof := in.Profile
		if now.Sub(prof.CreatedAt) < time.Duration(p.NewAccountDays)*24*time.Hour {
			add(FactorNewAccount, w.NewAccount)
		}
		if prof.PriorViolation {
			add(FactorPriorViolation, w.PriorViolation)
		}
		if prof.DeviceFingerprintHash != "" && in.DeviceFingerprintHash != "" &&
			prof.DeviceFingerprintHash != in.DeviceFingerprintHash {
			add(FactorFingerprintMismatch, w.FingerprintMismatch)
		}
		if prof.HighRisk {
			add(FactorHighRiskProfile, w.HighRiskProfile)
		}
		if p.VerifiedOnly && !prof.Verified {
			add(FactorUnverified, w.Unverified)
		}
	}
	if p.MaxAutoApproveAmount > 0 && in.TotalAmount > p.MaxAutoApproveAmount {
		add(FactorAmountOverLimit, w.AmountOverLimit)
	}
	if p.MaxRentalDays > 0 && in.RentalDays > p.MaxRentalDays {
		add(FactorDurationOverLimit, w.DurationOverLimit)
	}
	if ev.Score > maxScore {
		ev.Score = maxScore
	}

	ev.Decision = decide(ev.Score, p)
	if ev.Decision == DecisionApprove {
		switch {
		case !p.AutoApproveEnabled:
			ev.Factors = append(ev.Factors, FactorAutoApproveDisabled)
			ev.Decision = DecisionManualReview
		case in.Profile == nil && p.UnknownSubjectReview:
			ev.Decision = DecisionManualReview
		}
	}

	sort.Strings(ev.Factors)
	if ev.Factors == nil {
		ev.Factors = []string{}
	}
	return ev
}

func decide(score int32, p domain.RiskPolicy) Decision {
	switch {
	case score < p.ApproveBelow:
		return DecisionApprove
	case score < p.ReviewBelow:
		if p.AllowManualReview {
			return DecisionManualReview
		}
		return DecisionReject
	default:
		if p.RejectAboveCeiling {
			return DecisionReject
		}
		return DecisionManualReview
	}
}
