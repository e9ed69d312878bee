package domain

import "time"

type ItemKind string

const (
	// ItemKindUnit is a single serialized console or accessory.
	ItemKindUnit ItemKind = "UNIT"
	// ItemKindSKU is a pooled stock counter.
	ItemKindSKU ItemKind = "SKU"
)

type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "AVAILABLE"
	ItemStatusDepleted  ItemStatus = "DEPLETED"
	ItemStatusRetired   ItemStatus = "RETIRED"
)

// InventoryItem holds the stock counters of a unit or SKU.
// available + reserved + deducted always equals total.
type InventoryItem struct {
	ID             string     `json:"id"`
	Kind           ItemKind   `json:"kind"`
	SKU            string     `json:"sku"`
	Category       string     `json:"category"`
	Serial         string     `json:"serial,omitempty"`
	TotalCount     int32      `json:"total_count"`
	AvailableCount int32      `json:"available_count"`
	ReservedCount  int32      `json:"reserved_count"`
	DeductedCount  int32      `json:"deducted_count"`
	Status         ItemStatus `json:"status"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Balanced reports whether the conservation law holds for the counters.
func (i *InventoryItem) Balanced() bool {
	return i.AvailableCount >= 0 && i.ReservedCount >= 0 && i.DeductedCount >= 0 &&
		i.AvailableCount+i.ReservedCount+i.DeductedCount == i.TotalCount
}

// RefreshStatus derives the status tag from the counters. Retired items stay retired.
func (i *InventoryItem) RefreshStatus() {
	if i.Status == ItemStatusRetired {
		return
	}
	if i.AvailableCount == 0 {
		i.Status = ItemStatusDepleted
	} else {
		i.Status = ItemStatusAvailable
	}
}

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
)

type Reservation struct {
	ID            string            `json:"id"`
	ItemID        string            `json:"item_id"`
	TransactionID string            `json:"transaction_id"`
	Quantity      int32             `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type StockOperation string

const (
	StockOpReserve StockOperation = "RESERVE"
	StockOpCommit  StockOperation = "COMMIT"
	StockOpRelease StockOperation = "RELEASE"
	StockOpRestore StockOperation = "RESTORE"
	StockOpAdjust  StockOperation = "ADJUST"
)

// StockMovement is the append-only audit record of a ledger mutation. Delta is
// negative when units move toward deduction and positive when they come back.
type StockMovement struct {
	ID             string         `json:"id"`
	ItemID         string         `json:"item_id"`
	TransactionID  string         `json:"transaction_id,omitempty"`
	ReservationID  string         `json:"reservation_id,omitempty"`
	Operation      StockOperation `json:"operation"`
	Delta          int32          `json:"delta"`
	AvailableAfter int32          `json:"available_after"`
	CreatedAt      time.Time      `json:"created_at"`
}
