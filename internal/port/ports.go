// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
)

// CardStore handles card persistence.
type CardStore interface {
	CreateCard(ctx context.Context, card *domain.Card) error
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
	// GetCardForUpdate loads a card holding a row-level lock. Only
	// meaningful inside InTransaction; the lock is released on commit
	// or rollback.
	GetCardForUpdate(ctx context.Context, cardID string) (*domain.Card, error)
	GetCardByFingerprint(ctx context.Context, fingerprint string) (*domain.Card, error)
	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	ListCardsByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Card, error)
	ListActiveCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error)
	UpdateCard(ctx context.Context, card *domain.Card) error
	DeleteCard(ctx context.Context, cardID string) error
	// ListExpiredCardIDs returns ids of cards whose expiry date lies
	// before the given day and whose status is not yet EXPIRED.
	ListExpiredCardIDs(ctx context.Context, before time.Time) ([]string, error)
	// MarkCardExpired transitions a single card to EXPIRED and reports
	// whether a row actually changed (false when already EXPIRED).
	MarkCardExpired(ctx context.Context, cardID string) (bool, error)
}

// TransferStore handles transfer audit records.
type TransferStore interface {
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error
	GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error)
	ListTransfersByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Transfer, error)
	ListTransfersByCard(ctx context.Context, cardID string, page, pageSize int) ([]domain.Transfer, error)
}

// UserStore handles user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// AuthStore handles refresh-token persistence for session rotation.
type AuthStore interface {
	StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// ApplicationStore handles card application workflow records.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *domain.CardApplication) error
	GetApplication(ctx context.Context, appID string) (*domain.CardApplication, error)
	UpdateApplication(ctx context.Context, app *domain.CardApplication) error
	ListApplicationsByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.CardApplication, error)
	ListApplicationsByStatus(ctx context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardApplication, error)
}

// BlockRequestStore handles card block-request workflow records.
type BlockRequestStore interface {
	CreateBlockRequest(ctx context.Context, req *domain.CardBlockRequest) error
	GetBlockRequest(ctx context.Context, requestID string) (*domain.CardBlockRequest, error)
	UpdateBlockRequest(ctx context.Context, req *domain.CardBlockRequest) error
	ListBlockRequestsByStatus(ctx context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardBlockRequest, error)
}

// Store aggregates all persistence operations plus the transaction
// boundary. InTransaction runs fn against a store view bound to a single
// database transaction: everything fn does commits or rolls back as one
// unit. SweepLock serializes the expiry sweep across instances; release
// must always be called when ok is true.
type Store interface {
	CardStore
	TransferStore
	UserStore
	AuthStore
	ApplicationStore
	BlockRequestStore

	InTransaction(ctx context.Context, fn func(tx Store) error) error
	SweepLock(ctx context.Context) (release func(), ok bool, err error)
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Notifier delivers out-of-band notifications (e-mail) to card owners.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}
