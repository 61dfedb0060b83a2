package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var transferTracer = otel.Tracer("service/transfer")

// TransferService executes two-card balance transfers as one atomic
// unit and persists an audit record for every attempt, success or
// failure.
type TransferService struct {
	store   port.Store
	ledger  *LedgerService
	views   *CardsService
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTransferService creates a new transfer service. views may be nil;
// when set, both legs' cached card views are evicted after a committed
// transfer.
func NewTransferService(store port.Store, ledger *LedgerService, views *CardsService, metrics *observability.Metrics, logger *zap.Logger) *TransferService {
	return &TransferService{store: store, ledger: ledger, views: views, metrics: metrics, logger: logger}
}

// Transfer moves req.Amount from the source card to the destination
// card. The initiator must own the source card. A self-transfer is a
// permitted special case representing a terminal deposit; its
// description is overridden with a fixed system message.
//
// Debit and credit run inside one store transaction: both commit or
// neither does. When the transaction fails, a FAILED audit record is
// written outside it so the attempt survives the rollback, and the
// cause is re-raised wrapped in ErrTransferFailed.
func (s *TransferService) Transfer(ctx context.Context, actorID string, req *domain.TransferRequest) (*domain.Transfer, error) {
	ctx, span := transferTracer.Start(ctx, "TransferService.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("card.from", req.FromCardID),
		attribute.String("card.to", req.ToCardID),
	)

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("transfer", time.Since(start)) }()

	if req.Amount.Sign() <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if req.FromCardID == "" || req.ToCardID == "" {
		return nil, &domain.ErrValidation{Field: "card_id", Message: "both cards are required"}
	}

	source, err := s.store.GetCard(ctx, req.FromCardID)
	if err != nil {
		return nil, err
	}
	if source.OwnerID != actorID {
		return nil, &domain.ErrForbidden{Action: "transfer from a card you do not own"}
	}
	dest, err := s.store.GetCard(ctx, req.ToCardID)
	if err != nil {
		return nil, err
	}

	selfTransfer := req.FromCardID == req.ToCardID
	description := req.Description
	if selfTransfer {
		description = domain.TerminalDepositDescription
	}

	now := time.Now().UTC()
	transfer := &domain.Transfer{
		ID:          uuid.NewString(),
		FromCardID:  req.FromCardID,
		ToCardID:    req.ToCardID,
		Amount:      req.Amount,
		Description: description,
		CreatedAt:   now,
	}

	txErr := s.store.InTransaction(ctx, func(tx port.Store) error {
		if selfTransfer {
			// Terminal deposit: the card must be operable but no net
			// balance change occurs; only the audit record is written.
			card, err := tx.GetCardForUpdate(ctx, req.FromCardID)
			if err != nil {
				return err
			}
			if err := s.ledger.validateForOperation(card); err != nil {
				return err
			}
		} else {
			// Lock both rows in id order so opposite-direction
			// transfers on the same pair cannot deadlock.
			lockIDs := []string{req.FromCardID, req.ToCardID}
			sort.Strings(lockIDs)
			for _, id := range lockIDs {
				if _, err := tx.GetCardForUpdate(ctx, id); err != nil {
					return err
				}
			}

			if _, err := s.ledger.debitTx(ctx, tx, req.FromCardID, req.Amount); err != nil {
				return err
			}
			if _, err := s.ledger.creditTx(ctx, tx, req.ToCardID, req.Amount); err != nil {
				return err
			}
		}

		processed := time.Now().UTC()
		transfer.Status = domain.TransferStatusSuccess
		transfer.ProcessedAt = &processed
		return tx.CreateTransfer(ctx, transfer)
	})
	if txErr != nil {
		return nil, s.recordFailure(ctx, transfer, txErr)
	}

	if s.views != nil {
		s.views.InvalidateCard(source.ID, source.OwnerID)
		s.views.InvalidateCard(dest.ID, dest.OwnerID)
	}

	s.metrics.IncrTransfer("success")
	s.logger.Info("transfer completed",
		zap.String("transfer_id", transfer.ID),
		zap.String("from_card_id", req.FromCardID),
		zap.String("to_card_id", req.ToCardID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Bool("terminal_deposit", selfTransfer),
	)
	return transfer, nil
}

// recordFailure writes the FAILED audit record in its own transaction,
// after the transfer transaction has rolled back, then wraps the cause.
func (s *TransferService) recordFailure(ctx context.Context, transfer *domain.Transfer, cause error) error {
	processed := time.Now().UTC()
	transfer.Status = domain.TransferStatusFailed
	transfer.ErrorMessage = cause.Error()
	transfer.ProcessedAt = &processed

	if auditErr := s.store.CreateTransfer(ctx, transfer); auditErr != nil {
		s.logger.Error("failed to persist transfer audit record",
			zap.String("transfer_id", transfer.ID),
			zap.Error(auditErr))
	}

	s.metrics.IncrTransfer("failed")
	s.logger.Warn("transfer failed",
		zap.String("transfer_id", transfer.ID),
		zap.String("from_card_id", transfer.FromCardID),
		zap.String("to_card_id", transfer.ToCardID),
		zap.Error(cause),
	)
	return &domain.ErrTransferFailed{TransferID: transfer.ID, Err: cause}
}

// GetUserTransfers lists transfers touching the user's cards. When
// cardID is given, the card must belong to the user and only that
// card's transfers are returned.
func (s *TransferService) GetUserTransfers(ctx context.Context, userID, cardID string, page, pageSize int) ([]domain.Transfer, error) {
	ctx, span := transferTracer.Start(ctx, "TransferService.GetUserTransfers")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if cardID != "" {
		card, err := s.store.GetCard(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if card.OwnerID != userID {
			return nil, &domain.ErrForbidden{Action: "view transactions of a card you do not own"}
		}
		return s.store.ListTransfersByCard(ctx, cardID, page, pageSize)
	}
	return s.store.ListTransfersByUser(ctx, userID, page, pageSize)
}

// GetTransfer returns a single transfer. Access requires the viewer to
// own either leg of the transfer, or the ADMIN role.
func (s *TransferService) GetTransfer(ctx context.Context, viewerID string, viewerRole domain.Role, transferID string) (*domain.Transfer, error) {
	ctx, span := transferTracer.Start(ctx, "TransferService.GetTransfer")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	transfer, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if viewerRole == domain.RoleAdmin {
		return transfer, nil
	}
	if s.ownsCard(ctx, viewerID, transfer.FromCardID) || s.ownsCard(ctx, viewerID, transfer.ToCardID) {
		return transfer, nil
	}
	return nil, &domain.ErrForbidden{Action: "view this transaction"}
}

// ownsCard reports whether the user owns the card. A missing card (a
// deleted leg of old history) counts as not owned.
func (s *TransferService) ownsCard(ctx context.Context, userID, cardID string) bool {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			s.logger.Warn("card lookup during access check failed",
				zap.String("card_id", cardID), zap.Error(err))
		}
		return false
	}
	return card.OwnerID == userID
}
