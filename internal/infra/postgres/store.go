package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/port"
)

// sweepLockKey identifies the expiry-sweep advisory lock. Arbitrary but
// must be stable across instances.
const sweepLockKey = 7240915

func newID() string { return uuid.NewString() }

// Store implements port.Store on top of gorm. Inside InTransaction the
// embedded db handle is the transaction, so every method runs against it
// transparently.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection in a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTransaction(ctx context.Context, fn func(tx port.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SweepLock takes the session advisory lock guarding the expiry sweep.
// The lock is held on a pinned connection; release unlocks and returns
// the connection to the pool.
func (s *Store) SweepLock(ctx context.Context) (func(), bool, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", sweepLockKey).Scan(&got); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !got {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Unlock on a fresh background context so a cancelled sweep
		// still releases the lock.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", sweepLockKey)
		conn.Close()
	}
	return release, true, nil
}

// ============================================================
// Cards
// ============================================================

func (s *Store) CreateCard(ctx context.Context, card *domain.Card) error {
	if err := s.db.WithContext(ctx).Create(toCardModel(card)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &domain.ErrConflict{Message: "card number already exists"}
		}
		return err
	}
	return nil
}

func (s *Store) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	var m cardModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) GetCardForUpdate(ctx context.Context, cardID string) (*domain.Card, error) {
	var m cardModel
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, "id = ?", cardID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) GetCardByFingerprint(ctx context.Context, fingerprint string) (*domain.Card, error) {
	var m cardModel
	if err := s.db.WithContext(ctx).First(&m, "card_number_hash = ?", fingerprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "card", ID: ""}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&cardModel{}).
		Where("card_number_hash = ?", fingerprint).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) ListCardsByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Card, error) {
	var models []cardModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	cards := make([]domain.Card, len(models))
	for i := range models {
		cards[i] = *models[i].toDomain()
	}
	return cards, nil
}

func (s *Store) ListActiveCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error) {
	var models []cardModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, string(domain.CardStatusActive)).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	cards := make([]domain.Card, len(models))
	for i := range models {
		cards[i] = *models[i].toDomain()
	}
	return cards, nil
}

func (s *Store) UpdateCard(ctx context.Context, card *domain.Card) error {
	result := s.db.WithContext(ctx).
		Model(&cardModel{}).
		Where("id = ?", card.ID).
		Updates(map[string]any{
			"status":     string(card.Status),
			"balance":    card.Balance,
			"updated_at": card.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "card", ID: card.ID}
	}
	return nil
}

func (s *Store) DeleteCard(ctx context.Context, cardID string) error {
	result := s.db.WithContext(ctx).Delete(&cardModel{}, "id = ?", cardID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	return nil
}

func (s *Store) ListExpiredCardIDs(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&cardModel{}).
		Where("expiry_date < ? AND status <> ?", before, string(domain.CardStatusExpired)).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) MarkCardExpired(ctx context.Context, cardID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&cardModel{}).
		Where("id = ? AND status <> ?", cardID, string(domain.CardStatusExpired)).
		Updates(map[string]any{
			"status":     string(domain.CardStatusExpired),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ============================================================
// Transfers
// ============================================================

func (s *Store) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	return s.db.WithContext(ctx).Create(toTransferModel(transfer)).Error
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	var m transferModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", transferID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) ListTransfersByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Transfer, error) {
	var models []transferModel
	err := s.db.WithContext(ctx).
		Where("from_card_id IN (?) OR to_card_id IN (?)",
			s.db.Model(&cardModel{}).Select("id").Where("owner_id = ?", userID),
			s.db.Model(&cardModel{}).Select("id").Where("owner_id = ?", userID)).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	transfers := make([]domain.Transfer, len(models))
	for i := range models {
		transfers[i] = *models[i].toDomain()
	}
	return transfers, nil
}

func (s *Store) ListTransfersByCard(ctx context.Context, cardID string, page, pageSize int) ([]domain.Transfer, error) {
	var models []transferModel
	err := s.db.WithContext(ctx).
		Where("from_card_id = ? OR to_card_id = ?", cardID, cardID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	transfers := make([]domain.Transfer, len(models))
	for i := range models {
		transfers[i] = *models[i].toDomain()
	}
	return transfers, nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.db.WithContext(ctx).Create(toUserModel(user)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &domain.ErrConflict{Message: "email already registered"}
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "user", ID: email}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

// ============================================================
// Refresh tokens
// ============================================================

func (s *Store) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m := refreshTokenModel{
		ID:        newID(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var m refreshTokenModel
	if err := s.db.WithContext(ctx).First(&m, "token_hash = ?", tokenHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "refresh token", ID: ""}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	return s.db.WithContext(ctx).Delete(&refreshTokenModel{}, "token_hash = ?", tokenHash).Error
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Delete(&refreshTokenModel{}, "user_id = ?", userID).Error
}

// ============================================================
// Card applications
// ============================================================

func (s *Store) CreateApplication(ctx context.Context, app *domain.CardApplication) error {
	return s.db.WithContext(ctx).Create(toApplicationModel(app)).Error
}

func (s *Store) GetApplication(ctx context.Context, appID string) (*domain.CardApplication, error) {
	var m cardApplicationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "application", ID: appID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateApplication(ctx context.Context, app *domain.CardApplication) error {
	result := s.db.WithContext(ctx).
		Model(&cardApplicationModel{}).
		Where("id = ?", app.ID).
		Updates(map[string]any{
			"status":       string(app.Status),
			"comment":      app.Comment,
			"processed_at": app.ProcessedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "application", ID: app.ID}
	}
	return nil
}

func (s *Store) ListApplicationsByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.CardApplication, error) {
	var models []cardApplicationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	apps := make([]domain.CardApplication, len(models))
	for i := range models {
		apps[i] = *models[i].toDomain()
	}
	return apps, nil
}

func (s *Store) ListApplicationsByStatus(ctx context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardApplication, error) {
	var models []cardApplicationModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	apps := make([]domain.CardApplication, len(models))
	for i := range models {
		apps[i] = *models[i].toDomain()
	}
	return apps, nil
}

// ============================================================
// Block requests
// ============================================================

func (s *Store) CreateBlockRequest(ctx context.Context, req *domain.CardBlockRequest) error {
	return s.db.WithContext(ctx).Create(toBlockRequestModel(req)).Error
}

func (s *Store) GetBlockRequest(ctx context.Context, requestID string) (*domain.CardBlockRequest, error) {
	var m cardBlockRequestModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "block request", ID: requestID}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateBlockRequest(ctx context.Context, req *domain.CardBlockRequest) error {
	result := s.db.WithContext(ctx).
		Model(&cardBlockRequestModel{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"status":        string(req.Status),
			"admin_comment": req.AdminComment,
			"processed_at":  req.ProcessedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "block request", ID: req.ID}
	}
	return nil
}

func (s *Store) ListBlockRequestsByStatus(ctx context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardBlockRequest, error) {
	var models []cardBlockRequestModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	reqs := make([]domain.CardBlockRequest, len(models))
	for i := range models {
		reqs[i] = *models[i].toDomain()
	}
	return reqs, nil
}
