package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/akulinin/cardvault/internal/domain"
)

type userModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	FullName     string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;default:USER"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type cardModel struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	NumberEncrypted string          `gorm:"column:card_number_encrypted;not null"`
	NumberHash      string          `gorm:"column:card_number_hash;uniqueIndex;not null"`
	OwnerID         string          `gorm:"type:uuid;index;not null"`
	Type            string          `gorm:"not null"`
	Status          string          `gorm:"index;not null"`
	Balance         decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	ExpiryDate      time.Time       `gorm:"index;not null"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

func (cardModel) TableName() string { return "cards" }

type transferModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	FromCardID   string          `gorm:"type:uuid;index;not null"`
	ToCardID     string          `gorm:"type:uuid;index;not null"`
	Amount       decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	Description  string
	Status       string `gorm:"not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"index;not null"`
	ProcessedAt  *time.Time
}

// The audit table is named transactions: it records every attempted
// movement, not only the successful transfers.
func (transferModel) TableName() string { return "transactions" }

type refreshTokenModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:uuid;index;not null"`
	TokenHash string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

type cardApplicationModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	UserID      string `gorm:"type:uuid;index;not null"`
	CardType    string `gorm:"not null"`
	Status      string `gorm:"index;not null"`
	Comment     string
	CreatedAt   time.Time `gorm:"not null"`
	ProcessedAt *time.Time
}

func (cardApplicationModel) TableName() string { return "card_applications" }

type cardBlockRequestModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	CardID       string `gorm:"type:uuid;index;not null"`
	UserID       string `gorm:"type:uuid;index;not null"`
	Reason       string
	Status       string `gorm:"index;not null"`
	AdminComment string
	CreatedAt    time.Time `gorm:"not null"`
	ProcessedAt  *time.Time
}

func (cardBlockRequestModel) TableName() string { return "card_block_requests" }

// ============================================================
// Model <-> domain conversions
// ============================================================

func toCardModel(c *domain.Card) *cardModel {
	return &cardModel{
		ID:              c.ID,
		NumberEncrypted: c.NumberEncrypted,
		NumberHash:      c.NumberHash,
		OwnerID:         c.OwnerID,
		Type:            string(c.Type),
		Status:          string(c.Status),
		Balance:         c.Balance,
		ExpiryDate:      c.ExpiryDate,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (m *cardModel) toDomain() *domain.Card {
	return &domain.Card{
		ID:              m.ID,
		NumberEncrypted: m.NumberEncrypted,
		NumberHash:      m.NumberHash,
		OwnerID:         m.OwnerID,
		Type:            domain.CardType(m.Type),
		Status:          domain.CardStatus(m.Status),
		Balance:         m.Balance,
		ExpiryDate:      m.ExpiryDate,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toTransferModel(t *domain.Transfer) *transferModel {
	return &transferModel{
		ID:           t.ID,
		FromCardID:   t.FromCardID,
		ToCardID:     t.ToCardID,
		Amount:       t.Amount,
		Description:  t.Description,
		Status:       string(t.Status),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		ProcessedAt:  t.ProcessedAt,
	}
}

func (m *transferModel) toDomain() *domain.Transfer {
	return &domain.Transfer{
		ID:           m.ID,
		FromCardID:   m.FromCardID,
		ToCardID:     m.ToCardID,
		Amount:       m.Amount,
		Description:  m.Description,
		Status:       domain.TransferStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}
}

func toUserModel(u *domain.User) *userModel {
	return &userModel{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Email:        m.Email,
		FullName:     m.FullName,
		PasswordHash: m.PasswordHash,
		Role:         domain.Role(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func (m *refreshTokenModel) toDomain() *domain.RefreshToken {
	return &domain.RefreshToken{
		ID:        m.ID,
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}

func toApplicationModel(a *domain.CardApplication) *cardApplicationModel {
	return &cardApplicationModel{
		ID:          a.ID,
		UserID:      a.UserID,
		CardType:    string(a.CardType),
		Status:      string(a.Status),
		Comment:     a.Comment,
		CreatedAt:   a.CreatedAt,
		ProcessedAt: a.ProcessedAt,
	}
}

func (m *cardApplicationModel) toDomain() *domain.CardApplication {
	return &domain.CardApplication{
		ID:          m.ID,
		UserID:      m.UserID,
		CardType:    domain.CardType(m.CardType),
		Status:      domain.RequestStatus(m.Status),
		Comment:     m.Comment,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
	}
}

func toBlockRequestModel(r *domain.CardBlockRequest) *cardBlockRequestModel {
	return &cardBlockRequestModel{
		ID:           r.ID,
		CardID:       r.CardID,
		UserID:       r.UserID,
		Reason:       r.Reason,
		Status:       string(r.Status),
		AdminComment: r.AdminComment,
		CreatedAt:    r.CreatedAt,
		ProcessedAt:  r.ProcessedAt,
	}
}

func (m *cardBlockRequestModel) toDomain() *domain.CardBlockRequest {
	return &domain.CardBlockRequest{
		ID:           m.ID,
		CardID:       m.CardID,
		UserID:       m.UserID,
		Reason:       m.Reason,
		Status:       domain.RequestStatus(m.Status),
		AdminComment: m.AdminComment,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}
}
