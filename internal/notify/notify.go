// Package notify delivers lifecycle notifications. Delivery is best effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"fulfillment-engine/internal/logger"
)

type EventKind string

const (
	EventCreated        EventKind = "transaction.created"
	EventPaymentStarted EventKind = "transaction.payment_started"
	EventPaid           EventKind = "transaction.paid"
	EventApproved       EventKind = "transaction.approved"
	EventUnderReview    EventKind = "transaction.under_review"
	EventStatusChanged  EventKind = "transaction.status_changed"
	EventCancelled      EventKind = "transaction.cancelled"
	EventOutOfStock     EventKind = "transaction.out_of_stock"
	EventRefundRequired EventKind = "transaction.refund_required"
	EventRefunded       EventKind = "transaction.refunded"
)

// OpsKinds are the events the operations mailbox cares about.
var OpsKinds = map[EventKind]bool{
	EventUnderReview:    true,
	EventOutOfStock:     true,
	EventRefundRequired: true,
}

type Notifier interface {
	Notify(ctx context.Context, subjectID string, kind EventKind, payload map[string]string) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithService("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, subjectID string, kind EventKind, payload map[string]string) error {
	args := []any{"subject_id", subjectID, "kind", string(kind)}
	for k, v := range payload {
		args = append(args, k, v)
	}
	n.log.InfoContext(ctx, "notification", args...)
	return nil
}

// FanOut delivers to every notifier and joins their errors.
type FanOut []Notifier

func (f FanOut) Notify(ctx context.Context, subjectID string, kind EventKind, payload map[string]string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, subjectID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
