package http

import (
	"net/http"
	"strings"

	"fulfillment-engine/internal/domain"

	"github.com/gorilla/mux"
)

type reviewRequest struct {
	Decision string `json:"decision"` // "approve" or "reject"
	Note     string `json:"note"`
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var approve bool
	switch strings.ToLower(req.Decision) {
	case "approve":
		approve = true
	case "reject":
	default:
		writeError(w, domain.Validationf("decision must be approve or reject"))
		return
	}

	txn, err := h.txns.Review(r.Context(), caller.SubjectID, mux.Vars(r)["id"], approve, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

type transitionRequest struct {
	Status domain.Status `json:"status"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	target := domain.Status(strings.ToUpper(string(req.Status)))
	var (
		txn *domain.Transaction
		err error
	)
	if target == domain.StatusCancelled {
		txn, err = h.txns.Cancel(r.Context(), caller, mux.Vars(r)["id"], "operator transition")
	} else {
		txn, err = h.txns.Advance(r.Context(), caller, mux.Vars(r)["id"], target)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) ReevaluateRisk(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	txn, err := h.txns.ReevaluateRisk(r.Context(), caller.SubjectID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.txns.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type adjustmentRequest struct {
	Delta int32 `json:"delta"`
}

func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req adjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.ledger.Adjust(r.Context(), caller.SubjectID, mux.Vars(r)["id"], req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
