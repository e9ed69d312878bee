// Package payment holds the gateway collaborators: creating payment intents,
// verifying webhook signatures and issuing refunds.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"

	"github.com/google/uuid"
)

// Intent is what a client needs to complete payment with the gateway.
type Intent struct {
	ID            string `json:"payment_intent_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ClientSecret  string `json:"client_secret"`
}

// WebhookEvent is an inbound gateway notification before verification.
type WebhookEvent struct {
	Gateway       string                  `json:"gateway"`
	EventType     domain.PaymentEventType `json:"event_type"`
	ProviderTxnID string                  `json:"provider_txn_id"`
	TransactionID string                  `json:"transaction_id"`
	Amount        int64                   `json:"amount"`
	Signature     string                  `json:"signature"`
	Raw           []byte                  `json:"-"`
}

type Gateway interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, transactionID string, amount int64, currency string) (*Intent, error)
	VerifyWebhookSignature(ev *WebhookEvent) bool
	// Refund returns the gateway refund id.
	Refund(ctx context.Context, providerTxnID string, amount int64) (string, error)
}

// CanonicalString is the signed form of a webhook event.
func CanonicalString(ev *WebhookEvent) string {
	return strings.Join([]string{
		string(ev.EventType),
		ev.ProviderTxnID,
		ev.TransactionID,
		strconv.FormatInt(ev.Amount, 10),
	}, "|")
}

// SimulatedGateway signs webhooks with HMAC-SHA256 over CanonicalString and
// keeps intents and refunds in memory.
type SimulatedGateway struct {
	name   string
	secret []byte

	mu      sync.Mutex
	intents map[string]*Intent
	refunds map[string]string
}

func NewSimulatedGateway(name, secret string) *SimulatedGateway {
	return &SimulatedGateway{
		name:    name,
		secret:  []byte(secret),
		intents: make(map[string]*Intent),
		refunds: make(map[string]string),
	}
}

func (g *SimulatedGateway) Name() string { return g.name }

func (g *SimulatedGateway) CreatePaymentIntent(ctx context.Context, transactionID string, amount int64, currency string) (*Intent, error) {
	logger.ExternalServiceCall(g.name, "create_payment_intent", "transaction_id", transactionID, "amount", amount)
	if amount <= 0 {
		err := fmt.Errorf("amount must be positive")
		logger.ExternalServiceResult(g.name, "create_payment_intent", err)
		return nil, err
	}
	intent := &Intent{
		ID:            "pi_" + uuid.NewString(),
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		ClientSecret:  uuid.NewString(),
	}
	g.mu.Lock()
	g.intents[intent.ID] = intent
	g.mu.Unlock()
	logger.ExternalServiceResult(g.name, "create_payment_intent", nil, "payment_intent_id", intent.ID)
	return intent, nil
}

// Sign computes the signature the gateway would attach to ev.
func (g *SimulatedGateway) Sign(ev *WebhookEvent) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(CanonicalString(ev)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *SimulatedGateway) VerifyWebhookSignature(ev *WebhookEvent) bool {
	got, err := hex.DecodeString(ev.Signature)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(g.Sign(ev))
	return hmac.Equal(got, want)
}

// Refund is idempotent per provider transaction.
func (g *SimulatedGateway) Refund(ctx context.Context, providerTxnID string, amount int64) (string, error) {
	logger.ExternalServiceCall(g.name, "refund", "provider_txn_id", providerTxnID, "amount", amount)
	if providerTxnID == "" {
		err := fmt.Errorf("provider transaction id is required")
		logger.ExternalServiceResult(g.name, "refund", err)
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.refunds[providerTxnID]
	if !ok {
		id = "re_" + uuid.NewString()
		g.refunds[providerTxnID] = id
	}
	logger.ExternalServiceResult(g.name, "refund", nil, "refund_id", id)
	return id, nil
}

// Registry resolves gateways by the name used in webhook routes.
type Registry struct {
	gateways map[string]Gateway
	primary  string
}

func NewRegistry(primary Gateway, others ...Gateway) *Registry {
	r := &Registry{gateways: map[string]Gateway{primary.Name(): primary}, primary: primary.Name()}
	for _, g := range others {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}

// Primary is the gateway new payment intents are created with.
func (r *Registry) Primary() Gateway {
	return r.gateways[r.primary]
}
