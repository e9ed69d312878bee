package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeInvalidSignature:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidTransition, domain.CodeInsufficientStock, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a categorized error to its HTTP status. Uncategorized
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("Unhandled error", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, string(domain.CodeInternal), "internal error")
		return
	}
	msg := de.Message
	if de.Code == domain.CodeTransientStore {
		msg = "store temporarily unavailable, retry later"
	}
	writeErrorCode(w, statusFor(de.Code), string(de.Code), msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("malformed request body: %v", err)
	}
	return nil
}

const maxBodyBytes = 64 << 10
