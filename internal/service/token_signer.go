package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/deals-auth-api/internal/models"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
)

// SignerConfig defines signing parameters for access tokens.
type SignerConfig struct {
	Secret       string
	AccessExpiry time.Duration
	Issuer       string
	Audience     []string
}

// TokenSigner mints and validates stateless HS256 access tokens. Access
// tokens cannot be revoked before expiry, so the TTL stays short; the
// refresh token carried in the store is the revocable half.
type TokenSigner struct {
	config SignerConfig
}

// NewTokenSigner constructs a signer. A missing secret is a configuration
// error surfaced at startup, never deferred to request time.
func NewTokenSigner(config SignerConfig) (*TokenSigner, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("token signer: signing secret is not configured")
	}
	if config.AccessExpiry <= 0 {
		config.AccessExpiry = 15 * time.Minute
	}
	return &TokenSigner{config: config}, nil
}

// Sign issues a signed access token for the user with a fresh jti.
// Returns the compact token and its absolute expiry.
func (s *TokenSigner) Sign(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessExpiry)
	claims := &models.JWTClaims{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates an access token and returns its claims.
func (s *TokenSigner) Parse(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}
