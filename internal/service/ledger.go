// Package service provides the business logic layer (use cases).
// LedgerService is the sole mutator of card balance and status;
// TransferService orchestrates two-card transfers on top of it.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/akulinin/cardvault/internal/cardnumber"
	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService owns card issuance, balance mutation, and status
// transitions. Every balance change runs inside a store transaction
// holding a row lock on the card.
type LedgerService struct {
	store         port.Store
	codec         *cardnumber.Codec
	notifier      port.Notifier
	views         *CardsService
	metrics       *observability.Metrics
	logger        *zap.Logger
	validityYears int
}

// NewLedgerService creates a new ledger service. views may be nil;
// when set, the owner's cached card view is evicted after every
// committed mutation so reads never serve a stale balance or status.
func NewLedgerService(store port.Store, codec *cardnumber.Codec, notifier port.Notifier, views *CardsService, metrics *observability.Metrics, logger *zap.Logger, validityYears int) *LedgerService {
	return &LedgerService{
		store:         store,
		codec:         codec,
		notifier:      notifier,
		views:         views,
		metrics:       metrics,
		logger:        logger,
		validityYears: validityYears,
	}
}

// dropView evicts the owner's cached view of a mutated card.
func (s *LedgerService) dropView(card *domain.Card) {
	if s.views == nil || card == nil {
		return
	}
	s.views.InvalidateCard(card.ID, card.OwnerID)
}

// ============================================================
// Issuance
// ============================================================

// IssueCard creates a new ACTIVE card for the given owner. The PAN is
// generated fresh, checked unique via its fingerprint, and stored only
// in encrypted form.
func (s *LedgerService) IssueCard(ctx context.Context, ownerID string, cardType domain.CardType) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.IssueCard")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID), attribute.String("card.type", string(cardType)))

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("issue_card", time.Since(start)) }()

	if !domain.ValidCardType(cardType) {
		return nil, &domain.ErrValidation{Field: "card_type", Message: fmt.Sprintf("unsupported card type %q", cardType)}
	}
	if _, err := s.store.GetUser(ctx, ownerID); err != nil {
		return nil, err
	}

	pan, err := s.codec.Generate(ctx, s.store.FingerprintExists)
	if err != nil {
		return nil, err
	}
	encrypted, err := s.codec.Encrypt(pan)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	card := &domain.Card{
		ID:              uuid.NewString(),
		NumberEncrypted: encrypted,
		NumberHash:      s.codec.Fingerprint(pan),
		OwnerID:         ownerID,
		Type:            cardType,
		Status:          domain.CardStatusActive,
		Balance:         decimal.Zero,
		ExpiryDate:      now.AddDate(s.validityYears, 0, 0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.logger.Info("card issued",
		zap.String("card_id", card.ID),
		zap.String("owner_id", ownerID),
		zap.String("number", cardnumber.Mask(pan)),
		zap.String("type", string(cardType)),
	)
	return card, nil
}

// ============================================================
// Balance operations
// ============================================================

// Credit adds amount to a card's balance inside its own transaction.
func (s *LedgerService) Credit(ctx context.Context, cardID string, amount decimal.Decimal) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Credit")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var updated *domain.Card
	err := s.store.InTransaction(ctx, func(tx port.Store) error {
		var txErr error
		updated, txErr = s.creditTx(ctx, tx, cardID, amount)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.dropView(updated)
	return updated, nil
}

// Debit subtracts amount from a card's balance inside its own transaction.
func (s *LedgerService) Debit(ctx context.Context, cardID string, amount decimal.Decimal) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Debit")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var updated *domain.Card
	err := s.store.InTransaction(ctx, func(tx port.Store) error {
		var txErr error
		updated, txErr = s.debitTx(ctx, tx, cardID, amount)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.dropView(updated)
	return updated, nil
}

// creditTx performs a credit against an already-open transaction. The
// row lock taken by GetCardForUpdate serializes concurrent mutations of
// the same card.
func (s *LedgerService) creditTx(ctx context.Context, tx port.Store, cardID string, amount decimal.Decimal) (*domain.Card, error) {
	if amount.Sign() <= 0 {
		s.metrics.IncrLedgerRejection("invalid_amount")
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	card, err := tx.GetCardForUpdate(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.validateForOperation(card); err != nil {
		return nil, err
	}

	card.Balance = card.Balance.Add(amount)
	card.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// debitTx performs a debit against an already-open transaction.
func (s *LedgerService) debitTx(ctx context.Context, tx port.Store, cardID string, amount decimal.Decimal) (*domain.Card, error) {
	if amount.Sign() <= 0 {
		s.metrics.IncrLedgerRejection("invalid_amount")
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	card, err := tx.GetCardForUpdate(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.validateForOperation(card); err != nil {
		return nil, err
	}
	if card.Balance.LessThan(amount) {
		s.metrics.IncrLedgerRejection("insufficient_funds")
		return nil, &domain.ErrInsufficientFunds{Available: card.Balance, Required: amount}
	}

	card.Balance = card.Balance.Sub(amount)
	card.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// validateForOperation guards balance mutations: blocked and expired
// cards reject operations with distinguishable errors.
func (s *LedgerService) validateForOperation(card *domain.Card) error {
	switch {
	case card.Status == domain.CardStatusBlocked:
		s.metrics.IncrLedgerRejection("card_blocked")
		return &domain.ErrCardBlocked{CardID: card.ID}
	case card.Status == domain.CardStatusExpired || card.IsExpired(time.Now()):
		s.metrics.IncrLedgerRejection("card_expired")
		return &domain.ErrCardExpired{CardID: card.ID}
	}
	return nil
}

// ============================================================
// Status transitions
// ============================================================

// Block transitions an ACTIVE card to BLOCKED. The reason is advisory
// and lives on the originating block request, not the card.
func (s *LedgerService) Block(ctx context.Context, cardID, reason string) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Block")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var updated *domain.Card
	err := s.store.InTransaction(ctx, func(tx port.Store) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		switch card.Status {
		case domain.CardStatusBlocked:
			return &domain.ErrAlreadyBlocked{CardID: cardID}
		case domain.CardStatusExpired:
			return &domain.ErrCardExpired{CardID: cardID}
		}

		card.Status = domain.CardStatusBlocked
		card.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}
		updated = card
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dropView(updated)

	s.logger.Info("card blocked",
		zap.String("card_id", cardID),
		zap.String("reason", reason),
	)
	s.notifyOwner(ctx, updated, "Card blocked",
		"Your card has been blocked. Contact support if this was not you.")
	return updated, nil
}

// Unblock transitions a BLOCKED card back to ACTIVE. An expired card
// cannot be resurrected regardless of its prior state.
func (s *LedgerService) Unblock(ctx context.Context, cardID string) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Unblock")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var updated *domain.Card
	err := s.store.InTransaction(ctx, func(tx port.Store) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Status == domain.CardStatusExpired || card.IsExpired(time.Now()) {
			return &domain.ErrCardExpired{CardID: cardID}
		}
		if card.Status != domain.CardStatusBlocked {
			return &domain.ErrNotBlocked{CardID: cardID}
		}

		card.Status = domain.CardStatusActive
		card.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}
		updated = card
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dropView(updated)

	s.logger.Info("card unblocked", zap.String("card_id", cardID))
	return updated, nil
}

// DeleteIfEmpty removes a card permanently. Cards holding funds are
// never deleted.
func (s *LedgerService) DeleteIfEmpty(ctx context.Context, cardID string) error {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteIfEmpty")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var deleted *domain.Card
	err := s.store.InTransaction(ctx, func(tx port.Store) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Balance.Sign() > 0 {
			return &domain.ErrNonZeroBalance{CardID: cardID, Balance: card.Balance}
		}
		if err := tx.DeleteCard(ctx, cardID); err != nil {
			return err
		}
		deleted = card
		return nil
	})
	if err != nil {
		return err
	}
	s.dropView(deleted)
	return nil
}

// notifyOwner sends a best-effort email to the card's owner. Delivery
// failures are logged by the mailer and never fail the operation.
func (s *LedgerService) notifyOwner(ctx context.Context, card *domain.Card, subject, body string) {
	if s.notifier == nil || card == nil {
		return
	}
	owner, err := s.store.GetUser(ctx, card.OwnerID)
	if err != nil {
		s.logger.Warn("owner lookup for notification failed",
			zap.String("card_id", card.ID), zap.Error(err))
		return
	}
	_ = s.notifier.Send(ctx, owner.Email, subject, body)
}
