package domain

import "time"

type TransactionKind string

const (
	TransactionKindRental TransactionKind = "RENTAL"
	TransactionKindSale   TransactionKind = "SALE"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Cancellation reasons recorded on Transaction.CancelReason.
const (
	CancelReasonOutOfStock     = "OUT_OF_STOCK"
	CancelReasonRiskRejected   = "RISK_REJECTED"
	CancelReasonReviewRejected = "REVIEW_REJECTED"
	CancelReasonPaymentFailed  = "PAYMENT_FAILED"
	CancelReasonPaymentTimeout = "PAYMENT_TIMEOUT"
	CancelReasonSubject        = "CANCELLED_BY_SUBJECT"
	CancelReasonOperator       = "CANCELLED_BY_OPERATOR"
)

type LineItem struct {
	ItemID    string `json:"item_id"`
	SKU       string `json:"sku"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// Transaction is a booking (RENTAL) or order (SALE) moving through the
// lifecycle state machine. Amounts are minor currency units.
type Transaction struct {
	ID                    string          `json:"id"`
	Kind                  TransactionKind `json:"kind"`
	SubjectID             string          `json:"subject_id"`
	Items                 []LineItem      `json:"items"`
	StartDate             *time.Time      `json:"start_date,omitempty"`
	EndDate               *time.Time      `json:"end_date,omitempty"`
	RentalDays            int32           `json:"rental_days"`
	Currency              string          `json:"currency"`
	BaseAmount            int64           `json:"base_amount"`
	TaxAmount             int64           `json:"tax_amount"`
	DepositAmount         int64           `json:"deposit_amount"`
	TotalAmount           int64           `json:"total_amount"`
	Status                Status          `json:"status"`
	PaymentStatus         PaymentStatus   `json:"payment_status"`
	PaymentIntentID       string          `json:"payment_intent_id,omitempty"`
	ProviderTxnID         string          `json:"provider_txn_id,omitempty"`
	RiskScore             int32           `json:"risk_score"`
	RiskFactors           []string        `json:"risk_factors"`
	RiskDecision          string          `json:"risk_decision,omitempty"`
	PolicyVersion         int32           `json:"policy_version,omitempty"`
	StockHeld             bool            `json:"stock_held"`
	RefundRequired        bool            `json:"refund_required"`
	CancelReason          string          `json:"cancel_reason,omitempty"`
	DeviceFingerprintHash string          `json:"-"`
	Version               int32           `json:"version"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DisplayStatus returns the customer-facing label, which differs for sale orders.
func (t *Transaction) DisplayStatus() string {
	if t.Kind == TransactionKindSale {
		if label, ok := saleLabels[t.Status]; ok {
			return label
		}
	}
	return string(t.Status)
}

func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Items = append([]LineItem(nil), t.Items...)
	c.RiskFactors = append([]string(nil), t.RiskFactors...)
	if t.StartDate != nil {
		s := *t.StartDate
		c.StartDate = &s
	}
	if t.EndDate != nil {
		e := *t.EndDate
		c.EndDate = &e
	}
	return &c
}

// AuditEntry is an append-only record of a transition or a refused transition.
type AuditEntry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	FromStatus    Status    `json:"from_status"`
	ToStatus      Status    `json:"to_status"`
	Code          string    `json:"code"`
	Note          string    `json:"note"`
	Actor         string    `json:"actor"`
	CreatedAt     time.Time `json:"created_at"`
}

// Audit codes besides the error codes of a refused transition.
const (
	AuditCodeTransition = "TRANSITION"
	AuditCodeRisk       = "RISK_EVALUATION"
	AuditCodePayment    = "PAYMENT_EVENT"
	AuditCodeRefund     = "REFUND"
)
