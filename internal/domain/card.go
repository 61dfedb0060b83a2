package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Cards
// ============================================================

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// CardType enumerates the supported card products.
type CardType string

const (
	CardTypeDebit   CardType = "DEBIT"
	CardTypeCredit  CardType = "CREDIT"
	CardTypeVirtual CardType = "VIRTUAL"
	CardTypePrepaid CardType = "PREPAID"
)

// ValidCardType reports whether t is one of the supported card types.
func ValidCardType(t CardType) bool {
	switch t {
	case CardTypeDebit, CardTypeCredit, CardTypeVirtual, CardTypePrepaid:
		return true
	}
	return false
}

// Card represents a bank card. The PAN is never stored in plaintext:
// NumberEncrypted holds the AES ciphertext and NumberHash a deterministic
// HMAC fingerprint used for exact-match lookup and uniqueness checks.
type Card struct {
	ID              string          `json:"id"`
	NumberEncrypted string          `json:"-"`
	NumberHash      string          `json:"-"`
	OwnerID         string          `json:"owner_id"`
	Type            CardType        `json:"type"`
	Status          CardStatus      `json:"status"`
	Balance         decimal.Decimal `json:"balance"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsExpired reports whether the card's expiry date lies strictly before now.
func (c *Card) IsExpired(now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return c.ExpiryDate.Before(today)
}

// CardView is the outward-facing representation of a card after the
// masking policy has been applied for a concrete viewer.
type CardView struct {
	ID         string     `json:"id"`
	Number     string     `json:"number"`
	OwnerID    string     `json:"owner_id"`
	Type       CardType   `json:"type"`
	Status     CardStatus `json:"status"`
	Balance    string     `json:"balance"`
	ExpiryDate string     `json:"expiry_date"`
	CreatedAt  time.Time  `json:"created_at"`
}
