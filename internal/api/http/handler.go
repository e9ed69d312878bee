package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/service"
	"fulfillment-engine/internal/utils"

	"github.com/gorilla/mux"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	txns       service.TransactionService
	ledger     service.InventoryLedger
	reconciler service.PaymentReconciler
	store      Pinger
}

func NewHandler(txns service.TransactionService, ledger service.InventoryLedger, reconciler service.PaymentReconciler, store Pinger) *Handler {
	return &Handler{txns: txns, ledger: ledger, reconciler: reconciler, store: store}
}

// NewRouter registers every API route behind the logging and auth middleware.
func NewRouter(h *Handler, auth *AuthMiddleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware, auth.Middleware)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/webhooks/payments/{gateway}", h.PaymentWebhook).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/transactions", h.CreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/transactions", h.ListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/transactions/{id}/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/transactions/{id}/payment-intent", h.CreatePaymentIntent).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/transactions/{id}/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/transactions/{id}/return", h.RequestReturn).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/v1/admin").Subrouter()
	admin.HandleFunc("/transactions/{id}/review", h.Review).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/transitions", h.Transition).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/risk-evaluations", h.ReevaluateRisk).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/history", h.History).Methods(http.MethodGet)
	admin.HandleFunc("/inventory/{id}", h.GetInventory).Methods(http.MethodGet)
	admin.HandleFunc("/inventory/{id}/adjustments", h.AdjustInventory).Methods(http.MethodPost)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookRequest struct {
	EventType     domain.PaymentEventType `json:"event_type"`
	ProviderTxnID string                  `json:"provider_txn_id"`
	TransactionID string                  `json:"transaction_id"`
	Amount        int64                   `json:"amount"`
	Signature     string                  `json:"signature"`
}

// PaymentWebhook is called by the gateway. Authenticity comes from the
// signature, not from a bearer token.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, domain.Validationf("unreadable body"))
		return
	}
	var req webhookRequest
	if err := decodeBytes(raw, &req); err != nil {
		writeError(w, err)
		return
	}
	if sig := r.Header.Get("X-Signature"); sig != "" {
		req.Signature = sig
	}

	outcome, err := h.reconciler.RecordEvent(r.Context(), &payment.WebhookEvent{
		Gateway:       mux.Vars(r)["gateway"],
		EventType:     req.EventType,
		ProviderTxnID: req.ProviderTxnID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Signature:     req.Signature,
		Raw:           raw,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

type createTransactionRequest struct {
	Kind      domain.TransactionKind `json:"kind"`
	Items     []service.ItemRequest  `json:"items"`
	StartDate string                 `json:"start_date,omitempty"`
	EndDate   string                 `json:"end_date,omitempty"`
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}

	txn, err := h.txns.CreateTransaction(r.Context(), service.CreateRequest{
		Kind:              domain.TransactionKind(strings.ToUpper(string(req.Kind))),
		SubjectID:         caller.SubjectID,
		Items:             req.Items,
		StartDate:         start,
		EndDate:           end,
		DeviceFingerprint: r.Header.Get("X-Device-Fingerprint"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func parseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := utils.ParseDate(value)
	if err != nil {
		return nil, domain.Validationf("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeError(w, err)
		return
	}
	pageSize, err := queryInt(q.Get("page_size"))
	if err != nil {
		writeError(w, err)
		return
	}

	txns, total, err := h.txns.ListTransactions(r.Context(), caller, q.Get("subject_id"),
		domain.Status(strings.ToUpper(q.Get("status"))), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, toTransactionResponse(&txns[i]))
	}
	writeJSON(w, http.StatusOK, listResponse{Transactions: out, Total: total})
}

func queryInt(v string) (int32, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, domain.Validationf("invalid number %q", v)
	}
	return int32(n), nil
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	txn, err := h.txns.GetTransaction(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	view, err := h.txns.GetStatus(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	intent, err := h.txns.CreatePaymentIntent(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	txn, err := h.txns.Cancel(r.Context(), caller, mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	txn, err := h.txns.Advance(r.Context(), caller, mux.Vars(r)["id"], domain.StatusReturnRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}
