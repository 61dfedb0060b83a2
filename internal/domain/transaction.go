package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transfer transactions (audit log)
// ============================================================

// TransferStatus is the outcome recorded on a transfer audit record.
type TransferStatus string

const (
	TransferStatusSuccess   TransferStatus = "SUCCESS"
	TransferStatusCancelled TransferStatus = "CANCELLED"
	TransferStatusFailed    TransferStatus = "FAILED"
	TransferStatusRefunded  TransferStatus = "REFUNDED"
)

// TerminalDepositDescription replaces the caller-supplied description
// on self-transfers, which represent deposits through a terminal.
const TerminalDepositDescription = "Terminal deposit"

// Transfer is the persisted record of a transfer attempt. One row is
// written for every attempt, success or failure — it is an audit log,
// not a transient request object.
type Transfer struct {
	ID           string          `json:"id"`
	FromCardID   string          `json:"from_card_id"`
	ToCardID     string          `json:"to_card_id"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Status       TransferStatus  `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// TransferRequest is the payload to initiate a transfer between cards.
type TransferRequest struct {
	FromCardID  string          `json:"from_card_id"`
	ToCardID    string          `json:"to_card_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}
