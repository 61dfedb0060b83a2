package service

import (
	"context"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var workflowTracer = otel.Tracer("service/workflow")

// WorkflowService handles the card application and block-request
// workflows. Approval of an application issues a card; approval of a
// block request blocks one. Both records are terminal once non-PENDING.
type WorkflowService struct {
	store  port.Store
	ledger *LedgerService
	logger *zap.Logger
}

// NewWorkflowService creates a new workflow service.
func NewWorkflowService(store port.Store, ledger *LedgerService, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{store: store, ledger: ledger, logger: logger}
}

// ============================================================
// Card applications
// ============================================================

// ApplyForCard files a PENDING application for a new card.
func (s *WorkflowService) ApplyForCard(ctx context.Context, userID string, cardType domain.CardType) (*domain.CardApplication, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ApplyForCard")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("card.type", string(cardType)))

	if !domain.ValidCardType(cardType) {
		return nil, &domain.ErrValidation{Field: "card_type", Message: "unsupported card type"}
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	app := &domain.CardApplication{
		ID:        uuid.NewString(),
		UserID:    userID,
		CardType:  cardType,
		Status:    domain.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}

	s.logger.Info("card application filed",
		zap.String("application_id", app.ID),
		zap.String("user_id", userID),
	)
	return app, nil
}

// CancelApplication cancels the user's own PENDING application.
func (s *WorkflowService) CancelApplication(ctx context.Context, userID, appID string) (*domain.CardApplication, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.CancelApplication")
	defer span.End()

	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, &domain.ErrForbidden{Action: "cancel another user's application"}
	}
	if app.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "application is no longer pending"}
	}

	now := time.Now().UTC()
	app.Status = domain.RequestStatusCancelled
	app.ProcessedAt = &now
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ListUserApplications returns the user's applications, paged.
func (s *WorkflowService) ListUserApplications(ctx context.Context, userID string, page, pageSize int) ([]domain.CardApplication, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ListUserApplications")
	defer span.End()

	return s.store.ListApplicationsByUser(ctx, userID, page, pageSize)
}

// ListPendingApplications returns the admin review queue, oldest first.
func (s *WorkflowService) ListPendingApplications(ctx context.Context, page, pageSize int) ([]domain.CardApplication, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ListPendingApplications")
	defer span.End()

	return s.store.ListApplicationsByStatus(ctx, domain.RequestStatusPending, page, pageSize)
}

// ApproveApplication marks a PENDING application APPROVED and issues
// the card. Issuance failure leaves the application PENDING so the
// approval can be retried.
func (s *WorkflowService) ApproveApplication(ctx context.Context, appID, comment string) (*domain.Card, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ApproveApplication")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", appID))

	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "application is no longer pending"}
	}

	card, err := s.ledger.IssueCard(ctx, app.UserID, app.CardType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app.Status = domain.RequestStatusApproved
	app.Comment = comment
	app.ProcessedAt = &now
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		s.logger.Error("application approved but status update failed",
			zap.String("application_id", appID),
			zap.String("card_id", card.ID),
			zap.Error(err))
		return card, err
	}

	s.logger.Info("card application approved",
		zap.String("application_id", appID),
		zap.String("card_id", card.ID),
	)
	return card, nil
}

// RejectApplication marks a PENDING application REJECTED.
func (s *WorkflowService) RejectApplication(ctx context.Context, appID, comment string) (*domain.CardApplication, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.RejectApplication")
	defer span.End()

	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "application is no longer pending"}
	}

	now := time.Now().UTC()
	app.Status = domain.RequestStatusRejected
	app.Comment = comment
	app.ProcessedAt = &now
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ============================================================
// Block requests
// ============================================================

// RequestBlock files a PENDING block request for one of the user's own
// cards.
func (s *WorkflowService) RequestBlock(ctx context.Context, userID, cardID, reason string) (*domain.CardBlockRequest, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.RequestBlock")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.OwnerID != userID {
		return nil, &domain.ErrForbidden{Action: "request a block on a card you do not own"}
	}
	switch card.Status {
	case domain.CardStatusBlocked:
		return nil, &domain.ErrAlreadyBlocked{CardID: cardID}
	case domain.CardStatusExpired:
		return nil, &domain.ErrCardExpired{CardID: cardID}
	}

	req := &domain.CardBlockRequest{
		ID:        uuid.NewString(),
		CardID:    cardID,
		UserID:    userID,
		Reason:    reason,
		Status:    domain.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBlockRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("block request filed",
		zap.String("request_id", req.ID),
		zap.String("card_id", cardID),
	)
	return req, nil
}

// CancelBlockRequest cancels the user's own PENDING block request.
func (s *WorkflowService) CancelBlockRequest(ctx context.Context, userID, requestID string) (*domain.CardBlockRequest, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.CancelBlockRequest")
	defer span.End()

	req, err := s.store.GetBlockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, &domain.ErrForbidden{Action: "cancel another user's block request"}
	}
	if req.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "block request is no longer pending"}
	}

	now := time.Now().UTC()
	req.Status = domain.RequestStatusCancelled
	req.ProcessedAt = &now
	if err := s.store.UpdateBlockRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListPendingBlockRequests returns the admin review queue, oldest first.
func (s *WorkflowService) ListPendingBlockRequests(ctx context.Context, page, pageSize int) ([]domain.CardBlockRequest, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ListPendingBlockRequests")
	defer span.End()

	return s.store.ListBlockRequestsByStatus(ctx, domain.RequestStatusPending, page, pageSize)
}

// ApproveBlockRequest marks a PENDING block request APPROVED and blocks
// the card through the ledger.
func (s *WorkflowService) ApproveBlockRequest(ctx context.Context, requestID, adminComment string) (*domain.CardBlockRequest, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.ApproveBlockRequest")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	req, err := s.store.GetBlockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "block request is no longer pending"}
	}

	if _, err := s.ledger.Block(ctx, req.CardID, req.Reason); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req.Status = domain.RequestStatusApproved
	req.AdminComment = adminComment
	req.ProcessedAt = &now
	if err := s.store.UpdateBlockRequest(ctx, req); err != nil {
		s.logger.Error("card blocked but request status update failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return req, err
	}
	return req, nil
}

// RejectBlockRequest marks a PENDING block request REJECTED.
func (s *WorkflowService) RejectBlockRequest(ctx context.Context, requestID, adminComment string) (*domain.CardBlockRequest, error) {
	ctx, span := workflowTracer.Start(ctx, "WorkflowService.RejectBlockRequest")
	defer span.End()

	req, err := s.store.GetBlockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusPending {
		return nil, &domain.ErrValidation{Field: "status", Message: "block request is no longer pending"}
	}

	now := time.Now().UTC()
	req.Status = domain.RequestStatusRejected
	req.AdminComment = adminComment
	req.ProcessedAt = &now
	if err := s.store.UpdateBlockRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
