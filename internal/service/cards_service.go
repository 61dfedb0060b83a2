package service

import (
	"context"
	"time"

	"github.com/akulinin/cardvault/internal/cardnumber"
	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var cardsTracer = otel.Tracer("service/cards")

// CardsService serves card read paths. Every card leaving this service
// has the masking policy applied for a concrete viewer: the owner sees
// the full number, everyone else, admins included, sees the masked form.
type CardsService struct {
	store   port.Store
	codec   *cardnumber.Codec
	cache   port.Cache[domain.CardView]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCardsService creates a new cards read service.
func NewCardsService(store port.Store, codec *cardnumber.Codec, cache port.Cache[domain.CardView], metrics *observability.Metrics, logger *zap.Logger) *CardsService {
	return &CardsService{store: store, codec: codec, cache: cache, metrics: metrics, logger: logger}
}

// PresentCard builds the outward-facing view of a card for the given
// viewer. Decryption failures degrade to the masked placeholder instead
// of failing the response.
func (s *CardsService) PresentCard(card *domain.Card, viewerID string) domain.CardView {
	number := "****"
	pan, err := s.codec.Decrypt(card.NumberEncrypted)
	if err != nil {
		s.logger.Error("card number decryption failed on read path",
			zap.String("card_id", card.ID), zap.Error(err))
	} else if viewerID == card.OwnerID {
		number = pan
	} else {
		number = cardnumber.Mask(pan)
	}

	return domain.CardView{
		ID:         card.ID,
		Number:     number,
		OwnerID:    card.OwnerID,
		Type:       card.Type,
		Status:     card.Status,
		Balance:    card.Balance.StringFixed(2),
		ExpiryDate: card.ExpiryDate.Format("2006-01-02"),
		CreatedAt:  card.CreatedAt,
	}
}

// GetCard returns a single card view. Only the owner or an admin may
// read a card at all; the masking policy is applied on top of that.
func (s *CardsService) GetCard(ctx context.Context, viewerID string, viewerRole domain.Role, cardID string) (*domain.CardView, error) {
	ctx, span := cardsTracer.Start(ctx, "CardsService.GetCard")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	cacheKey := cardID + ":" + viewerID
	if view, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("card_views")
		return &view, nil
	}
	s.metrics.IncrCacheMiss("card_views")

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.OwnerID != viewerID && viewerRole != domain.RoleAdmin {
		return nil, &domain.ErrForbidden{Action: "view this card"}
	}

	view := s.PresentCard(card, viewerID)
	s.cache.Set(cacheKey, view)
	return &view, nil
}

// ListCards returns the card views of one owner, paged. Users may only
// list their own cards; admins may list anyone's.
func (s *CardsService) ListCards(ctx context.Context, viewerID string, viewerRole domain.Role, ownerID string, page, pageSize int) ([]domain.CardView, error) {
	ctx, span := cardsTracer.Start(ctx, "CardsService.ListCards")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("list_cards", time.Since(start)) }()

	if ownerID != viewerID && viewerRole != domain.RoleAdmin {
		return nil, &domain.ErrForbidden{Action: "list another user's cards"}
	}

	cards, err := s.store.ListCardsByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	views := make([]domain.CardView, len(cards))
	for i := range cards {
		views[i] = s.PresentCard(&cards[i], viewerID)
	}
	return views, nil
}

// ListActiveCards returns an owner's ACTIVE cards, unpaged. Transfer
// pickers want every usable card at once, so blocked and expired cards
// are filtered out at the store. Access rules match ListCards.
func (s *CardsService) ListActiveCards(ctx context.Context, viewerID string, viewerRole domain.Role, ownerID string) ([]domain.CardView, error) {
	ctx, span := cardsTracer.Start(ctx, "CardsService.ListActiveCards")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	if ownerID != viewerID && viewerRole != domain.RoleAdmin {
		return nil, &domain.ErrForbidden{Action: "list another user's cards"}
	}

	cards, err := s.store.ListActiveCardsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.CardView, len(cards))
	for i := range cards {
		views[i] = s.PresentCard(&cards[i], viewerID)
	}
	return views, nil
}

// GetCardByNumber looks a card up by its plaintext PAN through the
// deterministic fingerprint. The number itself is never logged.
func (s *CardsService) GetCardByNumber(ctx context.Context, viewerID string, viewerRole domain.Role, pan string) (*domain.CardView, error) {
	ctx, span := cardsTracer.Start(ctx, "CardsService.GetCardByNumber")
	defer span.End()

	if !cardnumber.IsValid(pan) {
		return nil, &domain.ErrValidation{Field: "card_number", Message: "not a valid card number"}
	}

	card, err := s.store.GetCardByFingerprint(ctx, s.codec.Fingerprint(pan))
	if err != nil {
		return nil, err
	}
	if card.OwnerID != viewerID && viewerRole != domain.RoleAdmin {
		// Do not reveal that the number exists.
		return nil, &domain.ErrNotFound{Resource: "card", ID: ""}
	}

	view := s.PresentCard(card, viewerID)
	return &view, nil
}

// InvalidateCard drops the owner's cached view of a card after a
// mutation. Views are cached per viewer, so non-owner entries age out
// with the TTL.
func (s *CardsService) InvalidateCard(cardID, ownerID string) {
	s.cache.Delete(cardID + ":" + ownerID)
}
