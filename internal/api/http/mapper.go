package http

import (
	"encoding/json"

	"fulfillment-engine/internal/domain"
)

type transactionResponse struct {
	*domain.Transaction
	TransactionID string `json:"transaction_id"`
	ComputedTotal int64  `json:"computed_total"`
	DisplayStatus string `json:"display_status"`
}

type listResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int32                 `json:"total"`
}

func toTransactionResponse(t *domain.Transaction) transactionResponse {
	if t.RiskFactors == nil {
		t.RiskFactors = []string{}
	}
	return transactionResponse{
		Transaction:   t,
		TransactionID: t.ID,
		ComputedTotal: t.TotalAmount,
		DisplayStatus: t.DisplayStatus(),
	}
}

// decodeBytes parses a gateway payload. Unknown fields are tolerated since
// providers add fields without notice.
func decodeBytes(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.Validationf("malformed payload: %v", err)
	}
	return nil
}
