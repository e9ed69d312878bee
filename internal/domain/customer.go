package domain

import "time"

// CustomerProfile is the risk-relevant view of a subject, maintained by the
// identity side of the platform.
type CustomerProfile struct {
	SubjectID             string    `json:"subject_id"`
	CreatedAt             time.Time `json:"created_at"`
	Verified              bool      `json:"verified"`
	PriorViolation        bool      `json:"prior_violation"`
	HighRisk              bool      `json:"high_risk"`
	Blacklisted           bool      `json:"blacklisted"`
	DeviceFingerprintHash string    `json:"-"`
}

// RateCard prices a SKU. Rental tiers follow DurationUnit; sales use UnitPrice.
type RateCard struct {
	SKU          string       `json:"sku"`
	Category     string       `json:"category"`
	DurationUnit DurationUnit `json:"duration_unit"`
	Daily        int64        `json:"daily"`
	Weekly       int64        `json:"weekly"`
	Monthly      int64        `json:"monthly"`
	UnitPrice    int64        `json:"unit_price"`
	Deposit      int64        `json:"deposit"`
	TaxRateBps   int32        `json:"tax_rate_bps"`
	Active       bool         `json:"active"`
}

type DurationUnit string

const (
	DurationUnitDay   DurationUnit = "day"
	DurationUnitWeek  DurationUnit = "week"
	DurationUnitMonth DurationUnit = "month"
)

// RiskWeights are the additive penalties applied per failed heuristic.
type RiskWeights struct {
	NewAccount          int32 `json:"new_account" yaml:"new_account"`
	PriorViolation      int32 `json:"prior_violation" yaml:"prior_violation"`
	FingerprintMismatch int32 `json:"fingerprint_mismatch" yaml:"fingerprint_mismatch"`
	HighRiskProfile     int32 `json:"high_risk_profile" yaml:"high_risk_profile"`
	AmountOverLimit     int32 `json:"amount_over_limit" yaml:"amount_over_limit"`
	DurationOverLimit   int32 `json:"duration_over_limit" yaml:"duration_over_limit"`
	Unverified          int32 `json:"unverified" yaml:"unverified"`
	UnknownSubject      int32 `json:"unknown_subject" yaml:"unknown_subject"`
}

// RiskPolicy is a versioned auto-approval configuration, loaded per evaluation.
type RiskPolicy struct {
	Version              int32       `json:"version" yaml:"version"`
	AutoApproveEnabled   bool        `json:"auto_approve_enabled" yaml:"auto_approve_enabled"`
	ApproveBelow         int32       `json:"approve_below" yaml:"approve_below"`
	ReviewBelow          int32       `json:"review_below" yaml:"review_below"`
	MaxAutoApproveAmount int64       `json:"max_auto_approve_amount" yaml:"max_auto_approve_amount"`
	MaxRentalDays        int32       `json:"max_rental_days" yaml:"max_rental_days"`
	NewAccountDays       int32       `json:"new_account_days" yaml:"new_account_days"`
	VerifiedOnly         bool        `json:"verified_only" yaml:"verified_only"`
	EnforceBlacklist     bool        `json:"enforce_blacklist" yaml:"enforce_blacklist"`
	AllowManualReview    bool        `json:"allow_manual_review" yaml:"allow_manual_review"`
	RejectAboveCeiling   bool        `json:"reject_above_ceiling" yaml:"reject_above_ceiling"`
	UnknownSubjectReview bool        `json:"unknown_subject_review" yaml:"unknown_subject_review"`
	Weights              RiskWeights `json:"weights" yaml:"weights"`
	CreatedAt            time.Time   `json:"created_at" yaml:"-"`
}

// DefaultRiskPolicy is the policy seeded when none is stored.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		Version:              1,
		AutoApproveEnabled:   true,
		ApproveBelow:         30,
		ReviewBelow:          70,
		MaxAutoApproveAmount: 5000000, // ₹50,000.00
		MaxRentalDays:        30,
		NewAccountDays:       7,
		VerifiedOnly:         false,
		EnforceBlacklist:     true,
		AllowManualReview:    true,
		RejectAboveCeiling:   true,
		UnknownSubjectReview: true,
		Weights: RiskWeights{
			NewAccount:          15,
			PriorViolation:      20,
			FingerprintMismatch: 25,
			HighRiskProfile:     30,
			AmountOverLimit:     20,
			DurationOverLimit:   10,
			Unverified:          15,
			UnknownSubject:      40,
		},
	}
}
