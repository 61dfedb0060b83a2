package domain

import "time"

// ============================================================
// Card applications & block requests
// ============================================================

// RequestStatus is the workflow state shared by card applications and
// block requests. PENDING is the only non-terminal state.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// CardApplication is a user's request to be issued a new card.
// Approval triggers card issuance through the ledger.
type CardApplication struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	CardType    CardType      `json:"card_type"`
	Status      RequestStatus `json:"status"`
	Comment     string        `json:"comment,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

// CardBlockRequest is a user's request to block one of their cards.
// Approval triggers the ledger's block transition.
type CardBlockRequest struct {
	ID           string        `json:"id"`
	CardID       string        `json:"card_id"`
	UserID       string        `json:"user_id"`
	Reason       string        `json:"reason"`
	Status       RequestStatus `json:"status"`
	AdminComment string        `json:"admin_comment,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}
