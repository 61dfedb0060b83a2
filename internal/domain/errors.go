package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%s required=%s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// ErrCardBlocked indicates the card is blocked and refuses balance operations.
type ErrCardBlocked struct {
	CardID string
}

func (e *ErrCardBlocked) Error() string {
	return fmt.Sprintf("card is blocked: %s", e.CardID)
}

// ErrCardExpired indicates the card is past its expiry date.
type ErrCardExpired struct {
	CardID string
}

func (e *ErrCardExpired) Error() string {
	return fmt.Sprintf("card is expired: %s", e.CardID)
}

// ErrAlreadyBlocked indicates a block was requested for a card already blocked.
type ErrAlreadyBlocked struct {
	CardID string
}

func (e *ErrAlreadyBlocked) Error() string {
	return fmt.Sprintf("card is already blocked: %s", e.CardID)
}

// ErrNotBlocked indicates an unblock was requested for a card that is not blocked.
type ErrNotBlocked struct {
	CardID string
}

func (e *ErrNotBlocked) Error() string {
	return fmt.Sprintf("card is not blocked: %s", e.CardID)
}

// ErrNonZeroBalance indicates a card with remaining funds cannot be deleted.
type ErrNonZeroBalance struct {
	CardID  string
	Balance decimal.Decimal
}

func (e *ErrNonZeroBalance) Error() string {
	return fmt.Sprintf("card %s still holds a balance of %s", e.CardID, e.Balance.StringFixed(2))
}

// ErrForbidden indicates the viewer lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a resource already exists (e.g. duplicate email).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrDecryption indicates stored ciphertext could not be decrypted
// (malformed data or a foreign encryption key).
type ErrDecryption struct {
	Err error
}

func (e *ErrDecryption) Error() string {
	return fmt.Sprintf("card number decryption failed: %v", e.Err)
}

func (e *ErrDecryption) Unwrap() error {
	return e.Err
}

// ErrGenerationExhausted indicates card number generation gave up after
// the configured number of uniqueness attempts.
type ErrGenerationExhausted struct {
	Attempts int
}

func (e *ErrGenerationExhausted) Error() string {
	return fmt.Sprintf("could not generate a unique card number in %d attempts", e.Attempts)
}

// ErrTransferFailed wraps the underlying cause of a failed transfer after
// the audit record has been written.
type ErrTransferFailed struct {
	TransferID string
	Err        error
}

func (e *ErrTransferFailed) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e *ErrTransferFailed) Unwrap() error {
	return e.Err
}
