package domain

import (
	"encoding/json"
	"time"
)

type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "payment.succeeded"
	PaymentEventFailed    PaymentEventType = "payment.failed"
	PaymentEventRefunded  PaymentEventType = "refund.processed"
)

func (t PaymentEventType) Valid() bool {
	switch t {
	case PaymentEventSucceeded, PaymentEventFailed, PaymentEventRefunded:
		return true
	}
	return false
}

// PaymentEvent is a gateway fact. (Gateway, ProviderTxnID) is the idempotency key.
type PaymentEvent struct {
	ID                string           `json:"id"`
	Gateway           string           `json:"gateway"`
	ProviderTxnID     string           `json:"provider_txn_id"`
	EventType         PaymentEventType `json:"event_type"`
	TransactionID     string           `json:"transaction_id"`
	Amount            int64            `json:"amount"`
	SignatureVerified bool             `json:"signature_verified"`
	Payload           json.RawMessage  `json:"payload"`
	ReceivedAt        time.Time        `json:"received_at"`
}
