package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const bcryptCost = 12

// AuthService orchestrates authentication flows.
type AuthService struct {
	store      port.Store
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.Store, jwtSecret string, accessTTL, refreshTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// ============================================================
// Register — POST /v1/auth/register
// ============================================================

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "invalid email address"}
	}
	if len(req.Password) < 8 {
		return nil, &domain.ErrValidation{Field: "password", Message: "must be at least 8 characters"}
	}
	if strings.TrimSpace(req.FullName) == "" {
		return nil, &domain.ErrValidation{Field: "full_name", Message: "required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// ============================================================
// Login — POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.logger.Warn("login: wrong password", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	resp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return resp, nil
}

// ============================================================
// Refresh — POST /v1/auth/refresh
// ============================================================

func (s *AuthService) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	tokenHash := hashToken(req.RefreshToken)

	stored, err := s.store.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if stored.ExpiresAt.Before(time.Now()) {
		s.logger.Warn("refresh: expired token used", zap.String("user_id", stored.UserID))
		_ = s.store.RevokeRefreshToken(ctx, tokenHash)
		return nil, &domain.ErrUnauthorized{Message: "refresh token expired"}
	}

	// Rotation: the old token is dead the moment it is used.
	_ = s.store.RevokeRefreshToken(ctx, tokenHash)

	user, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	return s.issueTokens(ctx, user)
}

// ============================================================
// Logout — POST /v1/auth/logout
// ============================================================

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	if err := s.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.logger.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// ============================================================
// Token handling
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// ValidateAccessToken parses and verifies an access token. Used by the
// auth middleware.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid access token"}
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid access token"}
	}
	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *domain.User) (*domain.LoginResponse, error) {
	accessToken, err := s.signAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.StoreRefreshToken(ctx, user.ID, refreshHash, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		UserID:       user.ID,
	}, nil
}

func (s *AuthService) signAccessToken(userID string, role domain.Role) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:  userID,
		Role: string(role),
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "cardvault-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func generateRefreshToken() (raw string, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	hashed = hashToken(raw)
	return raw, hashed, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
