package service

import (
	"context"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/repository"
)

// Caller identifies who is invoking an operation.
type Caller struct {
	SubjectID  string
	Privileged bool
}

// SystemCaller is used by background jobs.
var SystemCaller = Caller{SubjectID: "system", Privileged: true}

type ItemRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int32  `json:"quantity"`
}

type CreateRequest struct {
	Kind              domain.TransactionKind
	SubjectID         string
	Items             []ItemRequest
	StartDate         *time.Time
	EndDate           *time.Time
	DeviceFingerprint string
}

// StatusView is the status query answer. RiskFactors is only filled for
// privileged callers.
type StatusView struct {
	TransactionID string                 `json:"transaction_id"`
	Kind          domain.TransactionKind `json:"kind"`
	Status        domain.Status          `json:"status"`
	DisplayStatus string                 `json:"display_status"`
	PaymentStatus domain.PaymentStatus   `json:"payment_status"`
	RiskScore     *int32                 `json:"risk_score,omitempty"`
	RiskDecision  string                 `json:"risk_decision,omitempty"`
	RiskFactors   []string               `json:"risk_factors,omitempty"`
	CancelReason  string                 `json:"cancel_reason,omitempty"`
}

type Outcome string

const (
	OutcomeAccepted  Outcome = "ACCEPTED"
	OutcomeDuplicate Outcome = "DUPLICATE"
)

type TransactionService interface {
	CreateTransaction(ctx context.Context, req CreateRequest) (*domain.Transaction, error)
	CreatePaymentIntent(ctx context.Context, caller Caller, txnID string) (*payment.Intent, error)
	Advance(ctx context.Context, caller Caller, txnID string, target domain.Status) (*domain.Transaction, error)
	Cancel(ctx context.Context, caller Caller, txnID, reason string) (*domain.Transaction, error)
	Review(ctx context.Context, adminID, txnID string, approve bool, note string) (*domain.Transaction, error)
	ReevaluateRisk(ctx context.Context, adminID, txnID string) (*domain.Transaction, error)
	GetStatus(ctx context.Context, caller Caller, txnID string) (*StatusView, error)
	GetTransaction(ctx context.Context, caller Caller, txnID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, caller Caller, subjectID string, status domain.Status, page, pageSize int32) ([]domain.Transaction, int32, error)
	History(ctx context.Context, txnID string) ([]domain.AuditEntry, error)
	MarkRefunded(ctx context.Context, txnID, refundID string) (*domain.Transaction, error)
	CancelStale(ctx context.Context, olderThan time.Duration, limit int32) (int, error)
	ListRefundDue(ctx context.Context, limit int32) ([]domain.Transaction, error)
}

// InventoryLedger mutates stock counters. The first four operations run
// inside the caller's unit of work.
type InventoryLedger interface {
	Reserve(ctx context.Context, tx repository.Tx, txnID, itemID string, qty int32) (*domain.Reservation, error)
	CommitDeduction(ctx context.Context, tx repository.Tx, reservationID string) error
	Release(ctx context.Context, tx repository.Tx, reservationID string) error
	RestoreTransaction(ctx context.Context, tx repository.Tx, txnID string) error
	Adjust(ctx context.Context, actor, itemID string, delta int32) (*domain.InventoryItem, error)
	Snapshot(ctx context.Context, itemID string) (*domain.InventoryItem, error)
	// Unbalanced lists items whose counters break the conservation law.
	Unbalanced(ctx context.Context) ([]domain.InventoryItem, error)
}

type PaymentReconciler interface {
	RecordEvent(ctx context.Context, ev *payment.WebhookEvent) (Outcome, error)
}
