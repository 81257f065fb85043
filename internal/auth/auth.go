package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/types"
	"gorm.io/gorm"
)

// APIKeyPrefix marks keys issued to trading accounts
const APIKeyPrefix = "ta_"

var ErrTokenGeneration = errors.New("failed to generate token")

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims of a dashboard user
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Service resolves EA API keys to trading accounts and issues dashboard tokens.
// API-key authentication is stateless: every request looks the key up again.
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewService creates a new authentication service with the given JWT secret
func NewService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// AuthenticateAPIKey returns the account owning apiKey. A missing or unknown key
// is Unauthorized; a key of a disabled account is Forbidden.
func (s *Service) AuthenticateAPIKey(ctx context.Context, apiKey string) (*types.TradingAccount, error) {
	const op = "auth.api_key"

	if apiKey == "" {
		return nil, apperr.Unauthorized(op, "API key is required")
	}

	var account types.TradingAccount
	err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized(op, "Invalid API key")
	}
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	if !account.IsActive {
		return nil, apperr.Forbidden(op, "Trading account is disabled")
	}

	return &account, nil
}

// GenerateAPIKey returns a fresh random key of the form ta_<64 hex chars>
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// GenerateToken issues a dashboard JWT for userID
func (s *Service) GenerateToken(userID string) (*TokenResponse, error) {
	if userID == "" {
		return nil, apperr.Validation("auth.token", "user ID is required")
	}

	now := time.Now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	const op = "auth.token"

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindUnauthorized, Op: op, Message: "Invalid token", Err: err}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, apperr.Unauthorized(op, "Invalid token claims")
	}

	return claims, nil
}
