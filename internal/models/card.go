package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the stored state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	// CardStatusExpired is never assigned automatically; only an administrator
	// can set it through a status update.
	CardStatusExpired CardStatus = "EXPIRED"
)

// ParseCardStatus accepts a status name in any letter case
func ParseCardStatus(s string) (CardStatus, error) {
	status := CardStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown card status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return true
	}
	return false
}

// Card represents a bank card. Number holds ciphertext only.
type Card struct {
	ID         int64           `json:"id"`
	Number     string          `json:"-"` // Encrypted
	NumberHMAC string          `json:"-"` // Keyed fingerprint of the plain number, unique
	OwnerID    int64           `json:"owner_id"`
	ExpiryDate time.Time       `json:"expiry_date"`
	Balance    decimal.Decimal `json:"balance"`
	Status     CardStatus      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with c
func (c *Card) Clone() *Card {
	cp := *c
	return &cp
}

// IsActive reports whether the card can take part in a transfer
func (c *Card) IsActive() bool {
	return c.Status == CardStatusActive
}

// CardView is the outward form of a card with the number masked
type CardView struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	OwnerUsername string          `json:"owner_username"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	Balance       decimal.Decimal `json:"balance"`
	Status        CardStatus      `json:"status"`
}

// CardFilter narrows an administrative card listing
type CardFilter struct {
	Status        *CardStatus
	OwnerUsername string
}
