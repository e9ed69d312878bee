package domain

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusPaymentSuccess    Status = "PAYMENT_SUCCESS"
	StatusUnderReview       Status = "UNDER_REVIEW"
	StatusApproved          Status = "APPROVED"
	StatusAssigned          Status = "ASSIGNED"
	StatusOutForDelivery    Status = "OUT_FOR_DELIVERY"
	StatusActive            Status = "ACTIVE"
	StatusReturnRequested   Status = "RETURN_REQUESTED"
	StatusInspectionPending Status = "INSPECTION_PENDING"
	StatusRefundProcessing  Status = "REFUND_PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing: {StatusPaymentSuccess, StatusCancelled},
	StatusPaymentSuccess:    {StatusApproved, StatusUnderReview, StatusCancelled},
	StatusUnderReview:       {StatusApproved, StatusCancelled},
	StatusApproved:          {StatusAssigned, StatusCancelled},
	StatusAssigned:          {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery:    {StatusActive, StatusCancelled},
	StatusActive:            {StatusReturnRequested, StatusCompleted, StatusCancelled},
	StatusReturnRequested:   {StatusInspectionPending, StatusCancelled},
	StatusInspectionPending: {StatusRefundProcessing, StatusCancelled},
	StatusRefundProcessing:  {StatusCompleted, StatusCancelled},
}

// Sale orders share the rental machine but are labelled like a shop order.
var saleLabels = map[Status]string{
	StatusPending:        "CREATED",
	StatusApproved:       "CONFIRMED",
	StatusAssigned:       "PROCESSING",
	StatusOutForDelivery: "SHIPPED",
	StatusActive:         "DELIVERED",
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s.IsTerminal()
}

// CanTransition reports whether kind may move from one status to another.
// Sale orders have no return flow.
func CanTransition(kind TransactionKind, from, to Status) bool {
	if kind == TransactionKindSale && to == StatusReturnRequested {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an INVALID_TRANSITION error when the edge is not allowed.
func ValidateTransition(kind TransactionKind, from, to Status) error {
	if CanTransition(kind, from, to) {
		return nil
	}
	return InvalidTransition(from, to)
}
