package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is terminal once stored
type TransferStatus string

const TransferStatusCompleted TransferStatus = "COMPLETED"

// Transfer records a completed movement of money between two cards of one owner
type Transfer struct {
	ID         int64           `json:"id"`
	FromCardID int64           `json:"from_card_id"`
	ToCardID   int64           `json:"to_card_id"`
	OwnerID    int64           `json:"owner_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	Status     TransferStatus  `json:"status"`
}
